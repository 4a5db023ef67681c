package persistence

import (
	"log/slog"

	"github.com/bpowers/go-mcpserver/internal/logging"
	"github.com/bpowers/go-mcpserver/mcp"
)

// Recorder is an mcp.Observer that writes every event to a Store. Storage
// failures are logged and otherwise ignored.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

var _ mcp.Observer = (*Recorder)(nil)

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.Component("recorder"),
	}
}

func (r *Recorder) Observe(e mcp.Event) {
	record := Record{
		RunID:     e.RunID,
		Kind:      string(e.Kind),
		Tool:      e.Tool,
		Success:   e.Success,
		Duration:  e.Duration,
		Error:     e.Error,
		Timestamp: e.Time,
	}
	if e.Kind != mcp.EventToolExecuted {
		record.Success = e.Error == ""
	}

	if _, err := r.store.AddRecord(e.RunID, record); err != nil {
		r.logger.Warn("failed to record event", "run", e.RunID, "event", e.Kind, "error", err)
	}
}
