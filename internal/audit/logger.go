package audit

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"opsdeck.io/internal/obs"
)

// Logger is the shared decision log used by both middleware stages.
// Log is awaited by callers, yet sink failures are swallowed: a broken audit
// sink must not take down the request pipeline.
type Logger struct {
	sink Sink

	// diag throttles "sink failed" diagnostics so a dead sink under load
	// does not flood local logs.
	diag *rate.Limiter
}

// NewLogger constructs a Logger over the given sink.
func NewLogger(sink Sink) (*Logger, error) {
	if sink == nil {
		return nil, errors.New("audit sink is required")
	}
	return &Logger{
		sink: sink,
		diag: rate.NewLimiter(rate.Limit(1), 5),
	}, nil
}

// Log appends one event. The write is performed synchronously so callers can
// guarantee the record exists before responding; any failure is counted,
// reported through the throttled diagnostic path and suppressed.
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil || l.sink == nil {
		return
	}
	normalize(ctx, &event)
	if err := l.sink.Append(ctx, &event); err != nil {
		obs.AuditSinkFailure()
		if l.diag.Allow() {
			obs.LogRequest(map[string]any{
				"level":       "error",
				"msg":         "audit_sink_write_failed",
				"entity_type": event.EntityType,
				"reason":      event.Reason,
				"error":       err.Error(),
			})
		}
	}
}
