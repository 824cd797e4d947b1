package otel_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	wfotel "github.com/bintelAI/ai-workflow/otel"
	"github.com/bintelAI/ai-workflow/runtime"
)

func TestSetup_InstrumentsRun(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tel, err := wfotel.Setup(ctx, wfotel.Config{ServiceName: "test", SpanExporter: exporter})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer tel.Shutdown(ctx)

	var finished int
	opts := runOptions("run-setup")
	opts.EventHandler = func(e runtime.Event) {
		if e.Kind == runtime.EventNodeFinished {
			finished++
			if e.TraceID == "" {
				t.Errorf("%s for %s has no trace id", e.Kind, e.NodeID)
			}
		}
	}
	opts = tel.Instrument(opts)

	res := runtime.NewSimulator().Run(ctx, loopWorkflow(t), "", opts)
	if !res.OK() {
		t.Fatalf("run failed: %v", res.Failed())
	}
	if finished != 5 {
		t.Errorf("original handler saw %d node.finished events, want 5", finished)
	}

	if err := tel.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 6 {
		t.Errorf("exported %d spans, want 6 (run + 5 steps)", len(spans))
	}
	for _, s := range spans {
		if v, ok := s.Resource.Set().Value("service.name"); !ok || v.AsString() != "test" {
			t.Errorf("span %s resource service.name = %v", s.Name, v)
		}
	}

	rm, err := tel.CollectMetrics(ctx)
	if err != nil {
		t.Fatalf("CollectMetrics: %v", err)
	}
	if findMetric(&rm, "aiworkflow.node.executions") == nil {
		t.Error("node executions were not recorded")
	}
}

func TestSetup_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tel, err := wfotel.Setup(ctx, wfotel.Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
