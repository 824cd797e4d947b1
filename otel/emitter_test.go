package otel_test

import (
	"context"
	"testing"

	wfotel "github.com/bintelAI/ai-workflow/otel"
	"github.com/bintelAI/ai-workflow/runtime"
)

func TestEnrichEmitter_AddsTraceContext(t *testing.T) {
	_, tp := newTestTracer()
	tracing := wfotel.NewTracingHandler(tp.Tracer("test"))

	var seen []runtime.Event
	opts := runOptions("run-enrich")
	opts.EventHandler = runtime.MultiEventHandler(tracing.Handle, func(e runtime.Event) {
		seen = append(seen, e)
	})
	opts.EventEmitterDecorator = wfotel.Decorator(tracing)

	res := runtime.NewSimulator().Run(context.Background(), loopWorkflow(t), "", opts)
	if !res.OK() {
		t.Fatalf("run failed: %v", res.Failed())
	}

	var traceID string
	for _, e := range seen {
		if e.Kind == runtime.EventRunStarted {
			// The run span opens after this event is enriched.
			if e.TraceID != "" {
				t.Errorf("run.started carries trace id %q", e.TraceID)
			}
			continue
		}
		if e.TraceID == "" || e.SpanID == "" {
			t.Errorf("%s (seq %d) has no trace context", e.Kind, e.Seq)
			continue
		}
		if traceID == "" {
			traceID = e.TraceID
		} else if e.TraceID != traceID {
			t.Errorf("%s is in trace %s, want %s", e.Kind, e.TraceID, traceID)
		}
	}

	// Loop iteration events are stamped with the loop step's span.
	var loopSpan, iterSpan string
	for _, e := range seen {
		if e.Kind == runtime.EventLoopIteration {
			iterSpan = e.SpanID
		}
		if e.Kind == runtime.EventNodeFinished && e.NodeID == "each" {
			loopSpan = e.SpanID
		}
	}
	if iterSpan == "" || iterSpan != loopSpan {
		t.Errorf("loop.iteration span %q, loop node.finished span %q", iterSpan, loopSpan)
	}
}

func TestEnrichEmitter_NoSpans(t *testing.T) {
	_, tp := newTestTracer()
	tracing := wfotel.NewTracingHandler(tp.Tracer("test"))

	var got runtime.Event
	emit := wfotel.EnrichEmitter(func(e runtime.Event) { got = e }, tracing)
	emit(runtime.NewEvent(runtime.EventNodeStarted, "unknown").WithStep("step-0001"))

	if got.TraceID != "" || got.SpanID != "" {
		t.Errorf("expected no trace context, got %s/%s", got.TraceID, got.SpanID)
	}
}
