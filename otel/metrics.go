package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bintelAI/ai-workflow/runtime"
)

// MetricsHandler translates simulator events into OpenTelemetry metrics.
// Durations are simulated time.
type MetricsHandler struct {
	runs           metric.Int64Counter
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
	routes         metric.Int64Counter
	loopIterations metric.Int64Counter
	warnings       metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler with instruments from meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	runs, err := meter.Int64Counter("aiworkflow.runs",
		metric.WithDescription("Number of finished simulation runs"),
	)
	if err != nil {
		return nil, err
	}

	nodeExec, err := meter.Int64Counter("aiworkflow.node.executions",
		metric.WithDescription("Number of successful node steps"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("aiworkflow.node.failures",
		metric.WithDescription("Number of failed node steps"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("aiworkflow.node.duration",
		metric.WithDescription("Simulated duration of a node step in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("aiworkflow.run.duration",
		metric.WithDescription("Simulated duration of a run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	routes, err := meter.Int64Counter("aiworkflow.route.decisions",
		metric.WithDescription("Handles chosen by branch and parallel nodes"),
	)
	if err != nil {
		return nil, err
	}

	iters, err := meter.Int64Counter("aiworkflow.loop.iterations",
		metric.WithDescription("Number of loop body passes"),
	)
	if err != nil {
		return nil, err
	}

	warnings, err := meter.Int64Counter("aiworkflow.resolution.warnings",
		metric.WithDescription("Unresolved variable references met while running steps"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		runs:           runs,
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		routes:         routes,
		loopIterations: iters,
		warnings:       warnings,
	}, nil
}

// Handle records the metrics for one event.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	nodeAttrs := metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
		attribute.String("node_id", e.NodeID),
	)

	switch e.Kind {
	case runtime.EventNodeFinished:
		h.nodeExecutions.Add(ctx, 1, nodeAttrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), nodeAttrs)
	case runtime.EventNodeFailed:
		h.nodeFailures.Add(ctx, 1, nodeAttrs)
	case runtime.EventRouteDecision:
		for _, handle := range handlesPayload(e) {
			h.routes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("node_id", e.NodeID),
				attribute.String("handle", handle),
			))
		}
	case runtime.EventLoopIteration:
		h.loopIterations.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", e.NodeID)))
	case runtime.EventRunFinished:
		status := metric.WithAttributes(attribute.String("status", stringPayload(e, "status")))
		h.runs.Add(ctx, 1, status)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), status)
	}

	if w := intPayload(e, "warnings"); w > 0 && e.Kind == runtime.EventNodeFinished {
		h.warnings.Add(ctx, int64(w), nodeAttrs)
	}
}
