package otel

import (
	"github.com/bintelAI/ai-workflow/runtime"
)

// EnrichEmitter wraps an EventEmitter so events carry the trace context of
// the span they belong to: the step span when one is open, otherwise the
// run span. Events pass through unchanged when neither exists.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.StepID != "" {
			if sc := tracing.ActiveSpanContext(e.RunID, e.StepID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			if sc := tracing.ActiveRunSpanContext(e.RunID); sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a runtime.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
