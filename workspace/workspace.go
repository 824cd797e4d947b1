// Package workspace ties the editor-facing pieces together: one graph
// Store, the simulator, the trace archive and a live view of node status
// that follows the event stream of the run in progress.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/bintelAI/ai-workflow/bus"
	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/loader"
	"github.com/bintelAI/ai-workflow/otel"
	"github.com/bintelAI/ai-workflow/runtime"
	"github.com/bintelAI/ai-workflow/tracestore"
	"github.com/bintelAI/ai-workflow/variables"
)

// ErrRunInProgress is returned by Simulate while another run is active.
var ErrRunInProgress = errors.New("workspace: a simulation is already running")

// Config wires a Workspace. Only the zero value of each field is special.
type Config struct {
	// WorkflowID is stamped on every run.
	WorkflowID string

	// Graph is the store to simulate. Default: an empty store.
	Graph *graph.Store

	// Runtime defaults to runtime.NewSimulator().
	Runtime runtime.Runtime

	// Traces archives finished runs. Default: tracestore.NewMemStore().
	Traces tracestore.Store

	// Bus receives every event. Default: a new MemBus.
	Bus *bus.MemBus

	// Telemetry, when set, instruments every run.
	Telemetry *otel.Telemetry

	// Defaults are the run options each Simulate call starts from.
	Defaults runtime.RunOptions

	Logger *slog.Logger
}

// Workspace is safe for concurrent use. Only one simulation runs at a time.
type Workspace struct {
	workflowID string
	graph      *graph.Store
	rt         runtime.Runtime
	traces     tracestore.Store
	bus        *bus.MemBus
	tel        *otel.Telemetry
	defaults   runtime.RunOptions
	logger     *slog.Logger

	runMu sync.Mutex // held for the duration of a run

	mu      sync.RWMutex
	current string
	status  map[string]runtime.Status
	last    *runtime.Result
}

// New builds a workspace from cfg.
func New(cfg Config) *Workspace {
	w := &Workspace{
		workflowID: cfg.WorkflowID,
		graph:      cfg.Graph,
		rt:         cfg.Runtime,
		traces:     cfg.Traces,
		bus:        cfg.Bus,
		tel:        cfg.Telemetry,
		defaults:   cfg.Defaults,
		logger:     cfg.Logger,
		status:     make(map[string]runtime.Status),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.graph == nil {
		w.graph = graph.NewStore(graph.WithLogger(w.logger))
	}
	if w.rt == nil {
		w.rt = runtime.NewSimulator()
	}
	if w.traces == nil {
		w.traces = tracestore.NewMemStore()
	}
	if w.bus == nil {
		w.bus = bus.NewMemBus(bus.MemBusConfig{})
	}
	if w.defaults.MaxSteps == 0 && w.defaults.MaxHops == 0 && w.defaults.MaxIterations == 0 {
		w.defaults = runtime.DefaultRunOptions()
	}
	return w
}

// Graph returns the workspace's graph store.
func (w *Workspace) Graph() *graph.Store { return w.graph }

// Traces returns the run archive.
func (w *Workspace) Traces() tracestore.Store { return w.traces }

// Open loads a workflow document from path into the graph store. The store
// is left untouched when loading or importing fails.
func (w *Workspace) Open(path string) error {
	doc, err := loader.LoadDocument(path)
	if err != nil {
		return err
	}
	if err := w.graph.Import(doc); err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	w.logger.Debug("workflow opened", "path", path, "nodes", len(doc.Nodes), "edges", len(doc.Edges))
	return nil
}

// Validate reports diagnostics for the current graph.
func (w *Workspace) Validate() []graph.Diagnostic {
	return w.graph.Validate()
}

// Variables lists what nodeID can reference.
func (w *Workspace) Variables(nodeID string) []variables.Variable {
	return variables.Available(w.graph.Snapshot(), nodeID)
}

// Subscribe watches runs of this workspace. See bus.EventBus.
func (w *Workspace) Subscribe(kinds ...runtime.EventKind) bus.Subscription {
	return w.bus.SubscribeAll(kinds...)
}

// Simulate runs a snapshot of the current graph, archives the trace and
// returns the result. payload overrides the start node's sample input when
// non-empty. Fields left zero in opts come from the workspace defaults.
// The error reports archive failures only; run failures live in the result.
func (w *Workspace) Simulate(ctx context.Context, payload string, opts runtime.RunOptions) (*runtime.Result, error) {
	if !w.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer w.runMu.Unlock()

	opts = w.merge(opts)
	if w.tel != nil {
		opts = w.tel.Instrument(opts)
	}

	recorder := tracestore.NewRecorder(w.traces, w.logger)
	handlers := []runtime.EventHandler{w.project, recorder.Handler(), w.bus.Handler()}
	if opts.EventHandler != nil {
		handlers = append(handlers, opts.EventHandler)
	}
	opts.EventHandler = runtime.MultiEventHandler(handlers...)

	res := w.rt.Run(ctx, w.graph.Snapshot(), payload, opts)

	w.mu.Lock()
	w.last = res
	w.mu.Unlock()

	if err := w.traces.SaveRun(ctx, res); err != nil {
		w.logger.Error("failed to archive run", "run_id", res.RunID, "error", err)
		return res, fmt.Errorf("archiving run %s: %w", res.RunID, err)
	}
	return res, nil
}

func (w *Workspace) merge(opts runtime.RunOptions) runtime.RunOptions {
	d := w.defaults
	if opts.MaxSteps == 0 {
		opts.MaxSteps = d.MaxSteps
	}
	if opts.MaxHops == 0 {
		opts.MaxHops = d.MaxHops
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = d.MaxIterations
	}
	if opts.Now == nil {
		opts.Now = d.Now
	}
	if opts.WorkflowID == "" {
		opts.WorkflowID = w.workflowID
	}
	if opts.Logger == nil {
		opts.Logger = w.logger
	}
	return opts
}

// project keeps the live status map in step with the event stream.
func (w *Workspace) project(e runtime.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch e.Kind {
	case runtime.EventRunStarted:
		w.current = e.RunID
		w.status = make(map[string]runtime.Status)
	case runtime.EventNodeStarted:
		w.status[e.NodeID] = runtime.StatusRunning
	case runtime.EventNodeFinished:
		w.status[e.NodeID] = runtime.StatusSuccess
	case runtime.EventNodeFailed:
		w.status[e.NodeID] = runtime.StatusFailed
	case runtime.EventRunFinished:
		w.current = ""
	}
}

// Status returns a copy of the per-node status of the latest run. Nodes
// the run never reached are absent.
func (w *Workspace) Status() map[string]runtime.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.status)
}

// Running returns the id of the run in progress, or "".
func (w *Workspace) Running() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Last returns the most recent result, or nil before the first run.
func (w *Workspace) Last() *runtime.Result {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Runs lists archived runs, newest first.
func (w *Workspace) Runs(ctx context.Context, limit int) ([]tracestore.RunSummary, error) {
	return w.traces.ListRuns(ctx, limit)
}

// Trace returns an archived run and its event stream.
func (w *Workspace) Trace(ctx context.Context, runID string) (*runtime.Result, []runtime.Event, error) {
	res, err := w.traces.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	events, err := w.traces.Events(ctx, runID, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

// Close shuts down the bus and the archive.
func (w *Workspace) Close() error {
	return errors.Join(w.bus.Close(), w.traces.Close())
}
