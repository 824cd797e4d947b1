package runtime

import (
	"time"

	"github.com/bintelAI/ai-workflow/core"
)

// EventKind identifies the type of event emitted by the simulator.
type EventKind string

const (
	// EventRunStarted is emitted when a run begins.
	EventRunStarted EventKind = "run.started"

	// EventNodeStarted is emitted when a node begins its step.
	EventNodeStarted EventKind = "node.started"

	// EventNodeFinished is emitted when a node step succeeds.
	EventNodeFinished EventKind = "node.finished"

	// EventNodeFailed is emitted when a node step fails.
	EventNodeFailed EventKind = "node.failed"

	// EventRouteDecision is emitted when a branch or fan-out picks the
	// handles it continues along.
	EventRouteDecision EventKind = "route.decision"

	// EventLoopIteration is emitted before each pass over a loop body.
	EventLoopIteration EventKind = "loop.iteration"

	// EventRunFinished is emitted when a run completes or aborts.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during a run.
// Events are kept small; step inputs and outputs live on the log entries.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// NodeID is the node that produced this event (empty for run-level events).
	NodeID string

	// NodeType is the type of node (empty for run-level events).
	NodeType core.NodeType

	// StepID links node events to the log entry they describe.
	StepID string

	// Time is the simulated clock when the event occurred.
	Time time.Time

	// Elapsed is the simulated duration since the run or node started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, nodeType core.NodeType) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithStep sets the step id on the event.
func (e Event) WithStep(stepID string) Event {
	e.StepID = stepID
	return e
}

// WithTime overrides the event timestamp.
func (e Event) WithTime(t time.Time) Event {
	e.Time = t
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as enriching events before they reach the handler.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
