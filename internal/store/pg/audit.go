package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"opsdeck.io/internal/audit"
)

var _ audit.Sink = (*AuditSink)(nil)

// AuditSink appends governance events to the audit_events table. The table
// is append-only; this type deliberately exposes no update or delete.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink constructs an AuditSink.
func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Append(ctx context.Context, event *audit.Event) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	indicators, err := json.Marshal(event.AnomalyIndicators)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events (
			id, tenant_id, actor_id, entity_type, outcome, reason,
			request_path, request_method, client_fingerprint, duration_ms,
			risk_score, anomaly_indicators, occurred_at, metadata
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, event.ID, event.TenantID, nullable(event.ActorID), event.EntityType,
		event.Outcome, event.Reason, event.RequestPath, event.RequestMethod,
		event.ClientFingerprint, event.DurationMs, event.RiskScore,
		indicators, event.OccurredAt, meta)
	return err
}
