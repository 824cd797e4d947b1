package runtime

import (
	"fmt"
	"time"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/variables"
)

// State is where a run ended up.
type State string

const (
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Status is the per-node execution status shown while and after a run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// LogEntry records one step of a run.
type LogEntry struct {
	StepID       string              `json:"stepId"`
	NodeID       string              `json:"nodeId"`
	NodeLabel    string              `json:"nodeLabel"`
	NodeType     core.NodeType       `json:"nodeType"`
	Status       Status              `json:"status"`
	Input        any                 `json:"input"`
	Output       any                 `json:"output"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Warnings     []variables.Warning `json:"warnings,omitempty"`
	DurationMs   int64               `json:"durationMs"`
	Timestamp    time.Time           `json:"timestamp"`

	// Iteration holds the loop indexes the step ran under, outermost first.
	Iteration []int `json:"iteration,omitempty"`
}

// Result is everything one run produced. It is built fresh per run and
// never shared with the next one.
type Result struct {
	RunID      string `json:"runId"`
	WorkflowID string `json:"workflowId,omitempty"`
	State      State  `json:"state"`

	// StructuralError is set when the run aborted before or during the
	// walk, such as a missing start node or an exhausted step budget.
	StructuralError error  `json:"-"`
	Error           string `json:"error,omitempty"`

	Log     []LogEntry                `json:"log"`
	Status  map[string]Status         `json:"status"`
	Outputs map[string]map[string]any `json:"outputs"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Failed returns the failed log entries in log order.
func (r *Result) Failed() []LogEntry {
	var out []LogEntry
	for _, e := range r.Log {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out
}

// OK reports whether the run completed without a failed step.
func (r *Result) OK() bool {
	return r.State == StateCompleted && len(r.Failed()) == 0
}

// Warnings collects every resolution warning, prefixed with its step.
func (r *Result) Warnings() []string {
	var out []string
	for _, e := range r.Log {
		for _, w := range e.Warnings {
			out = append(out, fmt.Sprintf("%s (%s): %s", e.StepID, e.NodeID, w))
		}
	}
	return out
}

// Entries returns the log entries produced by nodeID, in log order.
func (r *Result) Entries(nodeID string) []LogEntry {
	var out []LogEntry
	for _, e := range r.Log {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Visited reports whether nodeID appears anywhere in the log.
func (r *Result) Visited(nodeID string) bool {
	for _, e := range r.Log {
		if e.NodeID == nodeID {
			return true
		}
	}
	return false
}
