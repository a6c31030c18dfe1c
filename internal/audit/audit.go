// Package audit records governance decisions as append-only events.
//
// Every permission check and rate-limit decision produces exactly one event.
// Writes are awaited by callers for completeness, but a failing sink must
// degrade observability only: Log never returns an error and never panics.
package audit

import (
	"context"
	"strings"
	"time"

	"opsdeck.io/internal/ids"
)

// Entity types recorded by the governance middleware.
const (
	EntityPermissionCheck    = "permission_check"
	EntityRateLimitViolation = "rate_limit_violation"
	EntityRoleChange         = "role_change"
)

// SystemTenant is recorded when a decision happens before any tenant is known.
const SystemTenant = "system"

// Event is an immutable record of a single governance decision.
type Event struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	ActorID           string            `json:"actor_id,omitempty"`
	EntityType        string            `json:"entity_type"`
	Outcome           string            `json:"outcome"`
	Reason            string            `json:"reason"`
	RequestPath       string            `json:"request_path,omitempty"`
	RequestMethod     string            `json:"request_method,omitempty"`
	ClientFingerprint string            `json:"client_fingerprint,omitempty"`
	DurationMs        int64             `json:"duration_ms"`
	RiskScore         *int              `json:"risk_score,omitempty"`
	AnomalyIndicators []string          `json:"anomaly_indicators,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Sink appends events to durable storage. Implementations must be append-only:
// there is no update or delete in this contract, by design.
type Sink interface {
	Append(ctx context.Context, event *Event) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// normalize fills defaults so every stored event satisfies the record contract.
func normalize(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.TenantID == "" {
		event.TenantID = SystemTenant
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		if _, ok := event.Metadata["request_id"]; !ok {
			event.Metadata["request_id"] = rid
		}
	}
}
