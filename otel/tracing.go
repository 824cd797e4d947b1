// Package otel turns simulator events into OpenTelemetry spans and
// metrics. Spans carry the simulated clock, so a trace viewer shows the
// run's synthetic timeline rather than how long the simulation took.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/runtime"
)

// TracingHandler translates simulator events into spans: one root span per
// run and one child span per step. Steps that run inside a loop body are
// parented to the loop's step span.
type TracingHandler struct {
	tracer trace.Tracer

	mu   sync.RWMutex
	runs map[string]*runTrace
}

type runTrace struct {
	span  trace.Span
	ctx   context.Context
	steps map[string]trace.Span // stepID -> span

	// open loop steps, innermost last
	loops []openLoop
}

type openLoop struct {
	stepID string
	ctx    context.Context
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from simulator events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		runs:   make(map[string]*runTrace),
	}
}

// Handle processes an event and creates, annotates or ends spans.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventNodeStarted:
		h.handleNodeStarted(e)
	case runtime.EventNodeFinished, runtime.EventNodeFailed:
		h.handleNodeEnded(e)
	case runtime.EventRouteDecision, runtime.EventLoopIteration:
		h.handleAnnotation(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	workflow := stringPayload(e, "workflow")
	spanName := "run:" + e.RunID
	if workflow != "" {
		spanName = "run:" + workflow
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("aiworkflow.run_id", e.RunID),
			attribute.Int("aiworkflow.graph.nodes", intPayload(e, "nodes")),
			attribute.Int("aiworkflow.graph.edges", intPayload(e, "edges")),
		),
		trace.WithTimestamp(e.Time),
	)
	if workflow != "" {
		span.SetAttributes(attribute.String("aiworkflow.workflow_id", workflow))
	}

	h.mu.Lock()
	h.runs[e.RunID] = &runTrace{
		span:  span,
		ctx:   ctx,
		steps: make(map[string]trace.Span),
	}
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e runtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rt, ok := h.runs[e.RunID]
	if !ok {
		// No run span; trace the step on its own.
		rt = &runTrace{ctx: context.Background(), steps: make(map[string]trace.Span)}
		h.runs[e.RunID] = rt
	}
	parent := rt.ctx
	if n := len(rt.loops); n > 0 {
		parent = rt.loops[n-1].ctx
	}

	ctx, span := h.tracer.Start(parent, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("aiworkflow.run_id", e.RunID),
			attribute.String("aiworkflow.node_id", e.NodeID),
			attribute.String("aiworkflow.node_type", string(e.NodeType)),
			attribute.String("aiworkflow.step_id", e.StepID),
		),
		trace.WithTimestamp(e.Time),
	)
	rt.steps[e.StepID] = span
	if e.NodeType == core.NodeTypeLoop {
		rt.loops = append(rt.loops, openLoop{stepID: e.StepID, ctx: ctx})
	}
}

func (h *TracingHandler) handleNodeEnded(e runtime.Event) {
	h.mu.Lock()
	var span trace.Span
	if rt, ok := h.runs[e.RunID]; ok {
		span = rt.steps[e.StepID]
		delete(rt.steps, e.StepID)
		if n := len(rt.loops); n > 0 && rt.loops[n-1].stepID == e.StepID {
			rt.loops = rt.loops[:n-1]
		}
	}
	h.mu.Unlock()

	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("aiworkflow.duration", e.Elapsed.String()))
	if w := intPayload(e, "warnings"); w > 0 {
		span.SetAttributes(attribute.Int("aiworkflow.warnings", w))
	}
	if e.Kind == runtime.EventNodeFailed {
		errMsg := stringPayload(e, "error")
		if errMsg == "" {
			errMsg = "unknown error"
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// handleAnnotation adds route decisions and loop iterations as span
// events on the step that produced them.
func (h *TracingHandler) handleAnnotation(e runtime.Event) {
	h.mu.RLock()
	var span trace.Span
	if rt, ok := h.runs[e.RunID]; ok {
		span = rt.steps[e.StepID]
	}
	h.mu.RUnlock()
	if span == nil {
		return
	}

	var attrs []attribute.KeyValue
	switch e.Kind {
	case runtime.EventRouteDecision:
		attrs = append(attrs, attribute.StringSlice("aiworkflow.handles", handlesPayload(e)))
	case runtime.EventLoopIteration:
		attrs = append(attrs,
			attribute.Int("aiworkflow.loop.index", intPayload(e, "index")),
			attribute.Int("aiworkflow.loop.total", intPayload(e, "total")),
		)
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	rt, ok := h.runs[e.RunID]
	delete(h.runs, e.RunID)
	h.mu.Unlock()

	if !ok {
		return
	}
	status := stringPayload(e, "status")
	// Steps still open belong to an aborted run.
	for _, span := range rt.steps {
		span.SetStatus(codes.Error, "run aborted")
		span.End(trace.WithTimestamp(e.Time))
	}
	if rt.span == nil {
		return
	}

	rt.span.SetAttributes(
		attribute.String("aiworkflow.duration", e.Elapsed.String()),
		attribute.String("aiworkflow.status", status),
		attribute.Int("aiworkflow.steps", intPayload(e, "steps")),
		attribute.Int("aiworkflow.failed_steps", intPayload(e, "failed")),
	)
	if status == string(runtime.StateAborted) {
		errMsg := stringPayload(e, "error")
		if errMsg == "" {
			errMsg = "run aborted"
		}
		rt.span.SetStatus(codes.Error, errMsg)
	} else {
		rt.span.SetStatus(codes.Ok, "")
	}
	rt.span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the open step span, or an
// empty SpanContext if there is none.
func (h *TracingHandler) ActiveSpanContext(runID, stepID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rt, ok := h.runs[runID]
	if !ok {
		return trace.SpanContext{}
	}
	span, ok := rt.steps[stepID]
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext of the open run span.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rt, ok := h.runs[runID]
	if !ok || rt.span == nil {
		return trace.SpanContext{}
	}
	return rt.span.SpanContext()
}

type spanError string

func (e spanError) Error() string { return string(e) }

func stringPayload(e runtime.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// intPayload accepts the ints the simulator emits and the float64s an
// event decoded from JSON carries.
func intPayload(e runtime.Event, key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func handlesPayload(e runtime.Event) []string {
	switch v := e.Payload["handles"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, h := range v {
			if s, ok := h.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
