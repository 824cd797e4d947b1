// Package runtime simulates workflow graphs. A run walks the graph from
// its single start node, dispatches every node by type and records an
// ordered execution log. Nothing is executed for real: pass-through steps
// produce stub outputs and take synthetic time on a simulated clock.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/nodes"
	"github.com/bintelAI/ai-workflow/nodes/expr"
	"github.com/bintelAI/ai-workflow/variables"
)

// Runtime errors
var (
	ErrNoStartNode        = errors.New("workflow has no start node")
	ErrMultipleStartNodes = errors.New("workflow has more than one start node")
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrMaxHopsExceeded    = errors.New("maximum hops exceeded")
	ErrRunCanceled        = errors.New("run was canceled")
)

// Runtime simulates graphs.
type Runtime interface {
	// Run walks g with the given start payload. It never fails: structural
	// problems abort the run and step problems become failed log entries.
	Run(ctx context.Context, g graph.Graph, payload string, opts RunOptions) *Result
}

// RunOptions controls simulation behavior.
type RunOptions struct {
	// MaxHops bounds how often one node may run within a single walk
	// (default: 50). Exceeding it fails that step.
	MaxHops int

	// MaxSteps bounds the total number of steps in a run (default: 1000).
	// Exceeding it aborts the run.
	MaxSteps int

	// MaxIterations is the loop iteration limit used when a loop does not
	// set its own (default: 100).
	MaxIterations int

	// Now provides the start of the simulated clock. If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// Logger receives step-level debug logs. If nil, uses slog.Default().
	Logger *slog.Logger

	// WorkflowID is exposed to templates as system.workflow_id.
	WorkflowID string

	// RunID overrides the generated run id.
	RunID string
}

// DefaultRunOptions returns sensible default options.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxHops:       50,
		MaxSteps:      1000,
		MaxIterations: 100,
	}
}

func (o RunOptions) withDefaults() RunOptions {
	d := DefaultRunOptions()
	if o.MaxHops <= 0 {
		o.MaxHops = d.MaxHops
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	return o
}

// Simulator is the sequential Runtime. Fan-out branches are separate
// frontier entries processed in a single goroutine.
type Simulator struct{}

// NewSimulator creates a simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Run simulates g. An empty payload falls back to the start node's
// configured payload.
func (s *Simulator) Run(ctx context.Context, g graph.Graph, payload string, opts RunOptions) *Result {
	opts = opts.withDefaults()
	r := newRun(ctx, g, opts)

	started := r.event(EventRunStarted).
		WithPayload("nodes", len(g.Nodes)).
		WithPayload("edges", len(g.Edges))
	if opts.WorkflowID != "" {
		started = started.WithPayload("workflow", opts.WorkflowID)
	}
	r.emit(started)

	start, err := findStart(g)
	if err != nil {
		r.abort(err)
		return r.finish()
	}

	text := payload
	if strings.TrimSpace(text) == "" {
		if cfg, ok := start.Config.(core.StartConfig); ok {
			text = cfg.Payload
		}
	}
	r.payload, r.payloadErr = variables.ParsePayload(text)
	if r.payloadErr != nil {
		r.payload = text
	}

	r.walk("", []step{{nodeID: start.ID, ctx: newExecContext()}})
	return r.finish()
}

func findStart(g graph.Graph) (core.Node, error) {
	starts := g.StartNodes()
	switch len(starts) {
	case 0:
		return core.Node{}, ErrNoStartNode
	case 1:
		return starts[0], nil
	}
	ids := make([]string, len(starts))
	for i, n := range starts {
		ids[i] = n.ID
	}
	return core.Node{}, fmt.Errorf("%w: %s", ErrMultipleStartNodes, strings.Join(ids, ", "))
}

// run is the state of one simulation.
type run struct {
	ctx    context.Context
	g      graph.Graph
	idx    graph.Index
	opts   RunOptions
	logger *slog.Logger
	emit   EventEmitter

	payload    any
	payloadErr error
	system     variables.System

	started time.Time
	clock   time.Time
	steps   counter
	seq     counter
	err     error

	log     []LogEntry
	status  map[string]Status
	outputs map[string]map[string]any
}

func newRun(ctx context.Context, g graph.Graph, opts RunOptions) *run {
	now := opts.Now()
	r := &run{
		ctx:     ctx,
		g:       g,
		idx:     g.Index(),
		opts:    opts,
		logger:  opts.Logger.With("run_id", opts.RunID),
		started: now,
		clock:   now,
		status:  make(map[string]Status),
		outputs: make(map[string]map[string]any),
		system: variables.System{
			Timestamp:   now,
			WorkflowID:  opts.WorkflowID,
			ExecutionID: opts.RunID,
		},
	}

	emit := func(e Event) {
		e.Seq = r.seq.next()
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}
	r.emit = emit
	return r
}

func (r *run) event(kind EventKind) Event {
	return NewEvent(kind, r.opts.RunID).
		WithTime(r.clock).
		WithElapsed(r.clock.Sub(r.started))
}

func (r *run) abort(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *run) finish() *Result {
	res := &Result{
		RunID:      r.opts.RunID,
		WorkflowID: r.opts.WorkflowID,
		State:      StateCompleted,
		Log:        r.log,
		Status:     r.status,
		Outputs:    r.outputs,
		Started:    r.started,
		Finished:   r.clock,
	}
	if res.Log == nil {
		res.Log = []LogEntry{}
	}
	if r.err != nil {
		res.State = StateAborted
		res.StructuralError = r.err
		res.Error = r.err.Error()
	}

	failed := len(res.Failed())
	ev := r.event(EventRunFinished).
		WithPayload("status", string(res.State)).
		WithPayload("steps", len(res.Log)).
		WithPayload("failed", failed)
	if r.err != nil {
		ev = ev.WithPayload("error", r.err.Error())
	}
	r.emit(ev)

	r.logger.Debug("simulation finished",
		"state", res.State,
		"steps", len(res.Log),
		"failed", failed,
		"elapsed", res.Finished.Sub(res.Started))
	return res
}

// step is one frontier entry. prev is the output of the step that
// scheduled it.
type step struct {
	nodeID string
	ctx    *execContext
	prev   any
}

// walkResult summarises a drained frontier.
type walkResult struct {
	terminal any
	reached  bool
	failed   bool
}

// walk drains a frontier confined to scope, the id of the enclosing
// container or "" for the top level. Entries are processed in discovery
// order. terminal is the output of the last path that ran to its end.
func (r *run) walk(scope string, frontier []step) walkResult {
	var res walkResult
	hops := make(map[string]int)

	for len(frontier) > 0 {
		s := frontier[0]
		frontier = frontier[1:]

		if r.err != nil {
			return res
		}
		if err := checkRunContext(r.ctx); err != nil {
			r.abort(err)
			return res
		}
		node, ok := r.idx[s.nodeID]
		if !ok {
			continue
		}
		if r.steps.count() >= r.opts.MaxSteps {
			r.abort(fmt.Errorf("%w: %d steps", ErrStepBudgetExceeded, r.opts.MaxSteps))
			return res
		}

		entry := r.begin(node, s.ctx)
		var out outcome
		if err := incrementAndValidateHop(node.ID, hops, r.opts.MaxHops); err != nil {
			out.err = err
		} else {
			out = r.dispatch(node, s, entry.StepID)
		}
		r.end(entry, node, s.ctx, out)

		if out.err != nil {
			res.failed = true
			continue
		}

		next := r.successors(node, out.handles, scope)
		if len(next) == 0 {
			res.terminal = out.output
			res.reached = true
			continue
		}
		for _, id := range next {
			frontier = append(frontier, step{nodeID: id, ctx: s.ctx.fork(), prev: out.output})
		}
	}
	return res
}

func checkRunContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
	default:
		return nil
	}
}

func incrementAndValidateHop(nodeID string, hopCount map[string]int, maxHops int) error {
	hopCount[nodeID]++
	if n := hopCount[nodeID]; n > maxHops {
		return fmt.Errorf("%w: node %s reached %d times", ErrMaxHopsExceeded, nodeID, n)
	}
	return nil
}

// begin opens a log entry and marks the node running.
func (r *run) begin(node core.Node, c *execContext) LogEntry {
	entry := LogEntry{
		StepID:    formatStepID(r.steps.next()),
		NodeID:    node.ID,
		NodeLabel: labelOf(node),
		NodeType:  node.Type,
		Timestamp: r.clock,
		Iteration: c.iteration(),
	}
	r.status[node.ID] = StatusRunning
	r.emit(r.event(EventNodeStarted).
		WithNode(node.ID, node.Type).
		WithStep(entry.StepID))
	return entry
}

// end closes the entry, advances the clock and publishes the outcome.
func (r *run) end(entry LogEntry, node core.Node, c *execContext, out outcome) {
	r.clock = r.clock.Add(out.duration)
	elapsed := r.clock.Sub(entry.Timestamp)
	entry.DurationMs = elapsed.Milliseconds()
	entry.Input = out.input
	entry.Warnings = out.warnings

	log := r.logger.With("node_id", node.ID, "node_type", node.Type, "step_id", entry.StepID)
	ev := r.event(EventNodeFinished).
		WithNode(node.ID, node.Type).
		WithStep(entry.StepID)
	ev.Elapsed = elapsed

	if out.err != nil {
		entry.Status = StatusFailed
		entry.ErrorMessage = out.err.Error()
		ev.Kind = EventNodeFailed
		ev = ev.WithPayload("error", entry.ErrorMessage)
		log.Debug("step failed", "error", out.err)
	} else {
		entry.Status = StatusSuccess
		entry.Output = out.output
		c.record(node.ID, out.fields)
		if out.fields != nil {
			r.outputs[node.ID] = out.fields
		}
		log.Debug("step finished", "duration", elapsed, "warnings", len(out.warnings))
	}
	if len(out.warnings) > 0 {
		ev = ev.WithPayload("warnings", len(out.warnings))
	}

	r.status[node.ID] = entry.Status
	r.log = append(r.log, entry)
	r.emit(ev)
}

// outcome is what dispatching one node produced. A nil handles slice
// follows every outgoing edge; an empty one follows none.
type outcome struct {
	input    any
	output   any
	fields   map[string]any
	handles  []string
	warnings []variables.Warning
	duration time.Duration
	err      error
}

func (r *run) tree(c *execContext) map[string]any {
	return variables.Tree(variables.Values{
		Payload: r.payload,
		Nodes:   c.nodes,
		Frames:  c.frames,
		System:  r.system,
	})
}

func (r *run) dispatch(node core.Node, s step, stepID string) outcome {
	cfg := node.Config
	if cfg == nil {
		def, err := core.DefaultConfig(node.Type)
		if err != nil {
			return outcome{err: err}
		}
		cfg = def
	}
	raw := core.ConfigMap(cfg)

	if node.Type == core.NodeTypeStart {
		return r.runStart(raw)
	}

	tree := r.tree(s.ctx)
	input, warnings := variables.Materialize(raw, tree)

	var out outcome
	switch c := cfg.(type) {
	case core.EndConfig:
		out = outcome{output: s.prev, fields: map[string]any{"output": s.prev}, handles: []string{}}
	case core.BranchConfig:
		out = r.runBranch(node, stepID, c, tree)
	case core.ParallelConfig:
		out = r.runParallel(node, stepID, c)
	case core.LoopConfig:
		out = r.runLoop(node, stepID, c, s, tree)
	default:
		out = r.runPassThrough(node, cfg, raw, tree)
	}
	if out.duration == 0 {
		out.duration = nodes.SyntheticDuration(node.Type)
	}
	out.input = input
	out.warnings = append(warnings, out.warnings...)
	return out
}

func (r *run) runStart(raw map[string]any) outcome {
	out := outcome{
		input:    raw,
		output:   r.payload,
		fields:   map[string]any{"output": r.payload},
		duration: nodes.SyntheticDuration(core.NodeTypeStart),
	}
	if r.payloadErr != nil {
		out.warnings = []variables.Warning{{Path: "input", Message: "payload is not valid JSON; passed through as text"}}
	}
	return out
}

func (r *run) runBranch(node core.Node, stepID string, c core.BranchConfig, tree map[string]any) outcome {
	if strings.TrimSpace(c.Expression) == "" {
		return outcome{err: errors.New("branch expression is empty")}
	}
	ok, err := expr.EvaluateBool(c.Expression, tree)
	if err != nil {
		return outcome{err: fmt.Errorf("branch expression %q: %w", c.Expression, err)}
	}
	handle := core.HandleFalse
	if ok {
		handle = core.HandleTrue
	}
	r.emit(r.event(EventRouteDecision).
		WithNode(node.ID, node.Type).
		WithStep(stepID).
		WithPayload("handles", []string{handle}).
		WithPayload("result", ok))
	return outcome{
		output:  ok,
		fields:  map[string]any{"result": ok},
		handles: []string{handle},
	}
}

func (r *run) runParallel(node core.Node, stepID string, c core.ParallelConfig) outcome {
	count := min(max(c.BranchCount, 0), core.MaxParallelBranches)
	handles := make([]string, 0, count)
	for i := 0; i < count; i++ {
		handles = append(handles, core.BranchHandle(i))
	}
	r.emit(r.event(EventRouteDecision).
		WithNode(node.ID, node.Type).
		WithStep(stepID).
		WithPayload("handles", handles))
	fields := map[string]any{"branches": float64(count)}
	return outcome{output: fields, fields: fields, handles: handles}
}

// runPassThrough materializes the config as text, decodes it back into
// the typed variant and runs the stub. Data operations keep their
// original expression, which the expression language resolves itself.
func (r *run) runPassThrough(node core.Node, cfg core.Config, raw, tree map[string]any) outcome {
	text, _ := variables.MaterializeText(raw, tree)
	data, err := json.Marshal(text)
	if err != nil {
		return outcome{err: fmt.Errorf("materialize config: %w", err)}
	}
	typed, err := core.DecodeConfig(node.Type, data)
	if err != nil {
		return outcome{err: err}
	}
	if orig, ok := cfg.(core.DataOperationConfig); ok {
		d := typed.(core.DataOperationConfig)
		d.Expression = orig.Expression
		typed = d
	}

	res, err := nodes.Simulate(typed, nodes.Env{Vars: tree, Now: r.clock})
	if err != nil {
		return outcome{err: err}
	}
	return outcome{output: res.Output, fields: res.Fields, duration: res.Duration}
}

// runLoop resolves the collection and walks the body once per element.
// Body entries are logged as they run, so they precede the loop's own
// entry. An iteration contributes the output of its last completed path,
// nil if any body step failed, or the item itself when the body is empty.
func (r *run) runLoop(node core.Node, stepID string, c core.LoopConfig, s step, tree map[string]any) outcome {
	items, err := resolveCollection(c.Collection, tree)
	if err != nil {
		return outcome{err: err}
	}
	limit := c.MaxIterations
	if limit <= 0 {
		limit = r.opts.MaxIterations
	}
	if len(items) > limit {
		return outcome{err: fmt.Errorf("collection has %d items, more than the iteration limit of %d", len(items), limit)}
	}

	var entries []string
	for _, e := range r.g.Outgoing(node.ID) {
		if e.SourceHandle != core.HandleLoopStart {
			continue
		}
		if target, ok := r.idx[e.Target]; ok && target.ParentID == node.ID {
			entries = append(entries, e.Target)
		}
	}

	aggregate := make([]any, 0, len(items))
	for i, item := range items {
		r.emit(r.event(EventLoopIteration).
			WithNode(node.ID, node.Type).
			WithStep(stepID).
			WithPayload("index", i).
			WithPayload("total", len(items)))

		if len(entries) == 0 {
			aggregate = append(aggregate, item)
			continue
		}
		iter := s.ctx.enter(item, i)
		frontier := make([]step, len(entries))
		for j, id := range entries {
			frontier[j] = step{nodeID: id, ctx: iter.fork(), prev: item}
		}
		res := r.walk(node.ID, frontier)
		if r.err != nil {
			return outcome{err: fmt.Errorf("loop interrupted at iteration %d: %w", i, r.err)}
		}
		switch {
		case res.failed:
			aggregate = append(aggregate, nil)
		case res.reached:
			aggregate = append(aggregate, res.terminal)
		default:
			aggregate = append(aggregate, item)
		}
	}

	return outcome{
		output:   aggregate,
		fields:   map[string]any{"result": aggregate},
		handles:  []string{core.HandleLoopOutput},
		duration: nodes.SyntheticDuration(core.NodeTypeLoop),
	}
}

// resolveCollection reads a loop collection given either as a template
// or as a bare path.
func resolveCollection(collection string, tree map[string]any) ([]any, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("loop collection is not configured")
	}
	var (
		v  any
		ok bool
	)
	if variables.HasTemplate(collection) {
		v, _ = variables.ResolveTemplate(collection, tree)
		_, undefined := v.(variables.Undefined)
		ok = !undefined
	} else {
		v, ok = variables.Lookup(tree, collection)
	}
	if !ok {
		return nil, fmt.Errorf("loop collection %q did not resolve", collection)
	}
	items, isArray := v.([]any)
	if !isArray {
		return nil, fmt.Errorf("loop collection %q is %s, not an array", collection, variables.TypeOf(v))
	}
	return items, nil
}

// successors lists the targets to schedule after node, in handle order
// then edge order. Targets outside scope are not followed.
func (r *run) successors(node core.Node, handles []string, scope string) []string {
	if handles != nil && len(handles) == 0 {
		return nil
	}
	out := r.g.Outgoing(node.ID)
	if handles != nil {
		rank := make(map[string]int, len(handles))
		for i, h := range handles {
			rank[h] = i
		}
		kept := out[:0:0]
		for _, e := range out {
			if _, ok := rank[e.SourceHandle]; ok {
				kept = append(kept, e)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			return rank[kept[i].SourceHandle] < rank[kept[j].SourceHandle]
		})
		out = kept
	}

	var next []string
	for _, e := range out {
		target, ok := r.idx[e.Target]
		if !ok {
			continue
		}
		if target.ParentID != scope {
			r.logger.Debug("edge leaves scope, not followed", "edge_id", e.ID, "scope", scope)
			continue
		}
		next = append(next, e.Target)
	}
	return next
}

func labelOf(n core.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return core.DefaultLabel(n.Type)
}

// Ensure interface compliance at compile time.
var _ Runtime = (*Simulator)(nil)
