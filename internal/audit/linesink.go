package audit

import (
	"context"
	"encoding/json"
	"time"

	"opsdeck.io/internal/obs"
)

// LineSink writes events as JSON lines through the shared logger. It is the
// fallback sink when no database is configured and keeps the append-only
// contract trivially: stdout is never rewritten.
type LineSink struct{}

func (LineSink) Append(_ context.Context, event *Event) error {
	entry := map[string]any{
		"ts":   event.OccurredAt.Format(time.RFC3339Nano),
		"type": "audit",
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		entry[k] = v
	}
	obs.LogRequest(entry)
	return nil
}
