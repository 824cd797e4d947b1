// Package tracestore archives simulation runs so a trace can be listed and
// replayed after the process that produced it has exited. A run is kept
// as its full Result plus the event stream that accompanied it.
package tracestore

import (
	"context"
	"errors"
	"time"

	"github.com/bintelAI/ai-workflow/runtime"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("tracestore: run not found")

// RunSummary is the listing view of an archived run.
type RunSummary struct {
	RunID      string        `json:"runId"`
	WorkflowID string        `json:"workflowId,omitempty"`
	State      runtime.State `json:"state"`
	Error      string        `json:"error,omitempty"`
	Steps      int           `json:"steps"`
	Failed     int           `json:"failed"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
}

// Summarize builds the summary of a result.
func Summarize(res *runtime.Result) RunSummary {
	return RunSummary{
		RunID:      res.RunID,
		WorkflowID: res.WorkflowID,
		State:      res.State,
		Error:      res.Error,
		Steps:      len(res.Log),
		Failed:     len(res.Failed()),
		Started:    res.Started,
		Finished:   res.Finished,
	}
}

// Store persists runs and their events.
type Store interface {
	// SaveRun stores res, replacing an earlier run with the same id.
	SaveRun(ctx context.Context, res *runtime.Result) error

	// GetRun returns the archived result or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*runtime.Result, error)

	// ListRuns returns summaries newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// AppendEvent stores an event.
	AppendEvent(ctx context.Context, event runtime.Event) error

	// Events returns events for a run in Seq order.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	Events(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)

	// Close releases the store.
	Close() error
}

// restore fills what the JSON form of a result leaves out.
func restore(res *runtime.Result) *runtime.Result {
	if res.Error != "" {
		res.StructuralError = errors.New(res.Error)
	}
	return res
}
