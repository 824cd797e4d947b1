package tracestore

import (
	"context"
	"log/slog"

	"github.com/bintelAI/ai-workflow/runtime"
)

// Recorder writes events to a Store as they are emitted.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default().
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event. Failures are logged, never returned, so
// a broken archive cannot interrupt a run.
func (r *Recorder) Handle(event runtime.Event) {
	if err := r.store.AppendEvent(context.Background(), event); err != nil {
		r.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Handler returns Handle as a runtime.EventHandler.
func (r *Recorder) Handler() runtime.EventHandler {
	return r.Handle
}
