package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/bintelAI/ai-workflow/core"
)

func testNode(id string, t core.NodeType, x, y float64) core.Node {
	n, err := core.NewNode(id, t, "", core.Position{X: x, Y: y})
	if err != nil {
		panic(err)
	}
	return n
}

func inside(n core.Node, parent string) core.Node {
	n.ParentID = parent
	return n
}

func testEdge(id, source, target, handle string) core.Edge {
	return core.Edge{ID: id, Source: source, Target: target, SourceHandle: handle}
}

func mustBuild(t *testing.T, nodes []core.Node, edges []core.Edge) Graph {
	t.Helper()
	g, err := Build(nodes, edges)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// loopGraph is start -> loop -> end with the loop body a1 -> a2.
func loopGraph(t *testing.T) Graph {
	return mustBuild(t,
		[]core.Node{
			testNode("start", core.NodeTypeStart, 0, 0),
			testNode("loop", core.NodeTypeLoop, 0, 200),
			inside(testNode("a1", core.NodeTypeAPICall, 40, 80), "loop"),
			inside(testNode("a2", core.NodeTypeScript, 40, 200), "loop"),
			testNode("end", core.NodeTypeEnd, 0, 600),
		},
		[]core.Edge{
			testEdge("e1", "start", "loop", ""),
			testEdge("e2", "loop", "a1", core.HandleLoopStart),
			testEdge("e3", "a1", "a2", ""),
			testEdge("e4", "loop", "end", core.HandleLoopOutput),
		},
	)
}

func TestBuild_RejectsStructuralErrors(t *testing.T) {
	start := testNode("s", core.NodeTypeStart, 0, 0)
	api := testNode("a", core.NodeTypeAPICall, 0, 100)
	tests := []struct {
		name  string
		nodes []core.Node
		edges []core.Edge
		want  error
	}{
		{"duplicate node", []core.Node{start, start}, nil, ErrDuplicateID},
		{"duplicate edge", []core.Node{start, api}, []core.Edge{testEdge("e", "s", "a", ""), testEdge("e", "s", "a", "")}, ErrDuplicateID},
		{"dangling edge", []core.Node{start}, []core.Edge{testEdge("e", "s", "ghost", "")}, ErrNodeNotFound},
		{"parent not container", []core.Node{start, inside(api, "s")}, nil, ErrInvalidParent},
		{"missing parent", []core.Node{inside(api, "nope")}, nil, ErrInvalidParent},
		{"unknown type", []core.Node{{ID: "x", Type: "teleport"}}, nil, core.ErrUnknownNodeType},
		{"missing edge id", []core.Node{start, api}, []core.Edge{testEdge("", "s", "a", "")}, ErrMissingID},
		{"negative branch count", []core.Node{withConfig(testNode("p", core.NodeTypeParallel, 0, 0), core.ParallelConfig{BranchCount: -1})}, nil, ErrInvalidConfig},
		{"branch count too large", []core.Node{withConfig(testNode("p", core.NodeTypeParallel, 0, 0), core.ParallelConfig{BranchCount: core.MaxParallelBranches + 1})}, nil, ErrInvalidConfig},
		{"two edges on one output", []core.Node{start, api, testNode("b", core.NodeTypeDelay, 0, 200)},
			[]core.Edge{testEdge("e1", "s", "a", ""), testEdge("e2", "s", "b", "")}, ErrHandleOccupied},
		{"branch handle taken twice", []core.Node{start, testNode("br", core.NodeTypeBranch, 0, 100), api, testNode("b", core.NodeTypeDelay, 0, 200)},
			[]core.Edge{testEdge("e1", "s", "br", ""), testEdge("e2", "br", "a", core.HandleTrue), testEdge("e3", "br", "b", core.HandleTrue)}, ErrHandleOccupied},
		{"unknown source handle", []core.Node{start, api}, []core.Edge{testEdge("e1", "s", "a", core.HandleTrue)}, ErrInvalidHandle},
		{"loop-start outside the body", []core.Node{testNode("loop", core.NodeTypeLoop, 0, 0), api},
			[]core.Edge{testEdge("e1", "loop", "a", core.HandleLoopStart)}, ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.nodes, tt.edges)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Build() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuild_FillsDefaultConfig(t *testing.T) {
	g := mustBuild(t, []core.Node{{ID: "p", Type: core.NodeTypeParallel}}, nil)
	cfg, ok := g.Nodes[0].Config.(core.ParallelConfig)
	if !ok || cfg.BranchCount != 2 {
		t.Fatalf("config = %#v, want ParallelConfig{BranchCount: 2}", g.Nodes[0].Config)
	}
}

func TestAbsolutePosition_Nested(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("outer", core.NodeTypeLoop, 100, 50),
		inside(testNode("inner", core.NodeTypeLoop, 20, 30), "outer"),
		inside(testNode("leaf", core.NodeTypeDelay, 5, 7), "inner"),
	}, nil)
	got := g.Index().AbsolutePosition("leaf")
	if got != (core.Position{X: 125, Y: 87}) {
		t.Fatalf("AbsolutePosition(leaf) = %+v, want {125 87}", got)
	}
	if chain := g.Index().Ancestors("leaf"); len(chain) != 2 || chain[0] != "inner" || chain[1] != "outer" {
		t.Errorf("Ancestors(leaf) = %v", chain)
	}
}

func TestAddNode(t *testing.T) {
	g := loopGraph(t)

	next, err := g.AddNode(core.Node{ID: "x", Type: core.NodeTypeNotification})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if len(g.Nodes) != 5 {
		t.Fatalf("receiver mutated: %d nodes", len(g.Nodes))
	}
	n, _ := next.NodeByID("x")
	if n.Label != "Notification" || n.Config == nil {
		t.Errorf("defaults not applied: %+v", n)
	}

	if _, err := g.AddNode(core.Node{ID: "a1", Type: core.NodeTypeSQL}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := g.AddNode(core.Node{ID: "y", Type: core.NodeTypeSQL, ParentID: "a1"}); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("non-container parent: err = %v", err)
	}
	if _, err := g.AddNode(core.Node{ID: "z", Type: core.NodeTypeSQL, Config: core.DelayConfig{}}); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("mismatched config: err = %v", err)
	}
	if _, err := g.AddNode(core.Node{ID: "p", Type: core.NodeTypeParallel, Config: core.ParallelConfig{BranchCount: -1}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative branch count: err = %v", err)
	}
}

// P1: deleting a container removes its children and every touching edge.
func TestDeleteNode_CascadesContainer(t *testing.T) {
	g := loopGraph(t)
	next := g.DeleteNode("loop")

	for _, id := range []string{"loop", "a1", "a2"} {
		if _, ok := next.NodeByID(id); ok {
			t.Errorf("node %s survived", id)
		}
	}
	if len(next.Nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(next.Nodes))
	}
	idx := next.Index()
	for _, e := range next.Edges {
		if _, ok := idx[e.Source]; !ok {
			t.Errorf("dangling edge %s source %s", e.ID, e.Source)
		}
		if _, ok := idx[e.Target]; !ok {
			t.Errorf("dangling edge %s target %s", e.ID, e.Target)
		}
	}
	if len(next.Edges) != 0 {
		t.Errorf("got %d edges, want 0", len(next.Edges))
	}
}

func TestDeleteNode_DeepNesting(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("outer", core.NodeTypeLoop, 0, 0),
		inside(testNode("inner", core.NodeTypeLoop, 10, 10), "outer"),
		inside(testNode("leaf", core.NodeTypeDelay, 10, 10), "inner"),
		testNode("other", core.NodeTypeDelay, 900, 900),
	}, []core.Edge{testEdge("e1", "leaf", "other", "")})

	next := g.DeleteNode("outer")
	if len(next.Nodes) != 1 || next.Nodes[0].ID != "other" {
		t.Fatalf("nodes = %v", next.Nodes)
	}
	if len(next.Edges) != 0 {
		t.Errorf("edges = %v", next.Edges)
	}
	if same := g.DeleteNode("ghost"); len(same.Nodes) != len(g.Nodes) {
		t.Error("deleting an unknown id changed the graph")
	}
}

func TestDeleteEdge_Idempotent(t *testing.T) {
	g := loopGraph(t)
	once := g.DeleteEdge("e3")
	twice := once.DeleteEdge("e3")
	if len(once.Edges) != 3 || len(twice.Edges) != 3 {
		t.Fatalf("edges: %d then %d, want 3", len(once.Edges), len(twice.Edges))
	}
}

// P2: inserting a node on an edge keeps the endpoints connected through
// exactly the new node, and the new node shares the source's parent iff
// both endpoints shared one.
func TestInsertBetween_PreservesConnectivity(t *testing.T) {
	for _, typ := range core.AllNodeTypes {
		if typ == core.NodeTypeStart || typ == core.NodeTypeEnd {
			continue
		}
		for _, edgeID := range []string{"e1", "e2", "e3", "e4"} {
			g := loopGraph(t)
			orig, _ := g.EdgeByID(edgeID)
			idx := g.Index()
			shared := idx[orig.Source].ParentID == idx[orig.Target].ParentID

			next, node, err := g.InsertBetween(edgeID, typ, SequentialIDs())
			if err != nil {
				t.Fatalf("InsertBetween(%s, %s): %v", edgeID, typ, err)
			}
			if _, ok := next.EdgeByID(edgeID); ok {
				t.Errorf("%s/%s: original edge still present", edgeID, typ)
			}

			var in, out []core.Edge
			for _, e := range next.Edges {
				if e.Source == orig.Source && e.Target == node.ID {
					in = append(in, e)
				}
				if e.Source == node.ID && e.Target == orig.Target {
					out = append(out, e)
				}
				if e.Source == orig.Source && e.Target == orig.Target {
					t.Errorf("%s/%s: direct edge remains", edgeID, typ)
				}
			}
			if len(in) != 1 || len(out) != 1 {
				t.Fatalf("%s/%s: got %d in and %d out edges", edgeID, typ, len(in), len(out))
			}
			if in[0].SourceHandle != orig.SourceHandle {
				t.Errorf("%s/%s: source handle = %q, want %q", edgeID, typ, in[0].SourceHandle, orig.SourceHandle)
			}
			if out[0].TargetHandle != orig.TargetHandle {
				t.Errorf("%s/%s: target handle = %q, want %q", edgeID, typ, out[0].TargetHandle, orig.TargetHandle)
			}
			if !next.reaches(orig.Source, orig.Target) {
				t.Errorf("%s/%s: %s no longer reaches %s", edgeID, typ, orig.Source, orig.Target)
			}

			sameAsSource := node.ParentID == idx[orig.Source].ParentID
			if sameAsSource != shared {
				t.Errorf("%s/%s: parent %q, source parent %q, shared=%v", edgeID, typ, node.ParentID, idx[orig.Source].ParentID, shared)
			}
		}
	}
}

func TestInsertBetween_Geometry(t *testing.T) {
	g := loopGraph(t)

	next, node, err := g.InsertBetween("e3", core.NodeTypeDelay, SequentialIDs())
	if err != nil {
		t.Fatalf("InsertBetween: %v", err)
	}
	if node.ParentID != "loop" || node.Position != (core.Position{X: 40, Y: 140}) {
		t.Errorf("same-frame insert: parent %q at %+v", node.ParentID, node.Position)
	}

	// loop-start edge: absolute midpoint of (0,200) and (40,280), in the loop frame.
	_, node, err = next.InsertBetween("e2", core.NodeTypeDelay, SequentialIDs())
	if err != nil {
		t.Fatalf("InsertBetween: %v", err)
	}
	if node.ParentID != "loop" || node.Position != (core.Position{X: 20, Y: 40}) {
		t.Errorf("cross-frame insert: parent %q at %+v", node.ParentID, node.Position)
	}
}

func TestInsertBetween_HandlesForContainerType(t *testing.T) {
	g := loopGraph(t)
	next, node, err := g.InsertBetween("e1", core.NodeTypeLoop, SequentialIDs())
	if err != nil {
		t.Fatalf("InsertBetween: %v", err)
	}
	for _, e := range next.Edges {
		if e.Target == node.ID && e.TargetHandle != core.HandleLoopInput {
			t.Errorf("edge into new loop uses %q", e.TargetHandle)
		}
		if e.Source == node.ID && e.SourceHandle != core.HandleLoopOutput {
			t.Errorf("edge out of new loop uses %q", e.SourceHandle)
		}
	}

	if _, _, err := g.InsertBetween("stale", core.NodeTypeDelay, SequentialIDs()); !errors.Is(err, ErrEdgeNotFound) {
		t.Errorf("stale edge: err = %v", err)
	}
}

func TestAppendAfter(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("s", core.NodeTypeStart, 100, 0),
		testNode("b", core.NodeTypeBranch, 100, 200),
	}, []core.Edge{testEdge("e1", "s", "b", "")})

	next, node, err := g.AppendAfter("b", core.NodeTypeApproval, SequentialIDs())
	if err != nil {
		t.Fatalf("AppendAfter: %v", err)
	}
	if node.Position != (core.Position{X: 100, Y: 360}) {
		t.Errorf("position = %+v, want {100 360}", node.Position)
	}
	if e := next.Outgoing("b"); len(e) != 1 || e[0].SourceHandle != core.HandleTrue {
		t.Fatalf("outgoing = %+v, want one true edge", e)
	}

	next, _, err = next.AppendAfter("b", core.NodeTypeNotification, SequentialIDs())
	if err != nil {
		t.Fatalf("second AppendAfter: %v", err)
	}
	if e := next.Outgoing("b"); len(e) != 2 || e[1].SourceHandle != core.HandleFalse {
		t.Fatalf("outgoing = %+v, want true then false", e)
	}

	if _, _, err := next.AppendAfter("b", core.NodeTypeCC, SequentialIDs()); !errors.Is(err, ErrHandleOccupied) {
		t.Errorf("full branch: err = %v", err)
	}
	if _, _, err := g.AppendAfter("s", core.NodeTypeCC, SequentialIDs()); !errors.Is(err, ErrHandleOccupied) {
		t.Errorf("wired start: err = %v", err)
	}
}

func TestAppendInside(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("loop", core.NodeTypeLoop, 300, 300),
		testNode("api", core.NodeTypeAPICall, 0, 0),
	}, nil)

	next, node, err := g.AppendInside("loop", core.NodeTypeScript, SequentialIDs())
	if err != nil {
		t.Fatalf("AppendInside: %v", err)
	}
	if node.ParentID != "loop" || node.Position != (core.Position{X: 40, Y: 80}) {
		t.Errorf("node = parent %q at %+v", node.ParentID, node.Position)
	}
	out := next.Outgoing("loop")
	if len(out) != 1 || out[0].SourceHandle != core.HandleLoopStart || out[0].Target != node.ID {
		t.Errorf("outgoing = %+v", out)
	}

	if _, _, err := next.AppendInside("loop", core.NodeTypeScript, SequentialIDs()); !errors.Is(err, ErrHandleOccupied) {
		t.Errorf("second child: err = %v", err)
	}
	if _, _, err := g.AppendInside("api", core.NodeTypeScript, SequentialIDs()); !errors.Is(err, ErrNotContainer) {
		t.Errorf("non-container: err = %v", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("s", core.NodeTypeStart, 0, 0),
		testNode("b", core.NodeTypeBranch, 0, 100),
		testNode("x", core.NodeTypeApproval, 0, 200),
		testNode("y", core.NodeTypeNotification, 0, 300),
		testNode("loop", core.NodeTypeLoop, 500, 0),
	}, []core.Edge{
		testEdge("e1", "s", "b", ""),
		testEdge("e2", "b", "x", core.HandleTrue),
	})
	tests := []struct {
		name           string
		source, target string
		sh, th         string
		want           error
	}{
		{"unknown source", "ghost", "x", "", "", ErrNodeNotFound},
		{"unknown target", "s", "ghost", "", "", ErrNodeNotFound},
		{"self loop", "x", "x", "", "", ErrSelfLoop},
		{"bad handle", "b", "y", "maybe", "", ErrInvalidHandle},
		{"handle on plain node", "x", "y", core.HandleTrue, "", ErrInvalidHandle},
		{"bad target handle", "x", "y", "", core.HandleLoopInput, ErrInvalidHandle},
		{"occupied", "b", "y", core.HandleTrue, "", ErrHandleOccupied},
		{"cycle", "x", "s", "", "", ErrCycleDetected},
		{"loop-start outside body", "loop", "y", core.HandleLoopStart, "", ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _, err := g.Connect(tt.source, tt.target, tt.sh, tt.th, SequentialIDs())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Connect() err = %v, want %v", err, tt.want)
			}
			if len(next.Edges) != len(g.Edges) {
				t.Error("failed Connect changed the graph")
			}
		})
	}

	next, edge, err := g.Connect("b", "y", core.HandleFalse, "", SequentialIDs())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if edge.ID != "edge-1" || len(next.Edges) != 3 {
		t.Errorf("edge = %+v, edges = %d", edge, len(next.Edges))
	}
}

// P3: dragging into a container and back out restores the absolute position.
func TestReparent_RoundTrip(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("loop", core.NodeTypeLoop, 100, 100),
		testNode("n", core.NodeTypeDelay, 733.25, 210.5),
	}, nil)
	abs := g.Index().AbsolutePosition("n")

	in, err := g.Reparent("n", "loop", abs)
	if err != nil {
		t.Fatalf("Reparent in: %v", err)
	}
	n, _ := in.NodeByID("n")
	if n.ParentID != "loop" || n.Position != (core.Position{X: 633.25, Y: 110.5}) {
		t.Fatalf("inside: %+v", n)
	}

	out, err := in.Reparent("n", "", in.Index().AbsolutePosition("n"))
	if err != nil {
		t.Fatalf("Reparent out: %v", err)
	}
	n, _ = out.NodeByID("n")
	if n.ParentID != "" {
		t.Errorf("parent = %q, want root", n.ParentID)
	}
	if math.Abs(n.Position.X-abs.X) > 1e-9 || math.Abs(n.Position.Y-abs.Y) > 1e-9 {
		t.Errorf("position = %+v, want %+v", n.Position, abs)
	}
}

func TestReparent_Rejects(t *testing.T) {
	g := mustBuild(t, []core.Node{
		testNode("outer", core.NodeTypeLoop, 0, 0),
		inside(testNode("inner", core.NodeTypeLoop, 10, 10), "outer"),
		testNode("api", core.NodeTypeAPICall, 0, 0),
	}, nil)
	if _, err := g.Reparent("outer", "inner", core.Position{}); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("into descendant: err = %v", err)
	}
	if _, err := g.Reparent("outer", "outer", core.Position{}); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("into self: err = %v", err)
	}
	if _, err := g.Reparent("inner", "api", core.Position{}); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("into non-container: err = %v", err)
	}
	if _, err := g.Reparent("ghost", "", core.Position{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("unknown node: err = %v", err)
	}
}

func TestUpdateConfigAndRename(t *testing.T) {
	g := loopGraph(t)
	next, err := g.UpdateConfig("loop", core.LoopConfig{Collection: "items"})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	n, _ := next.NodeByID("loop")
	if n.Config.(core.LoopConfig).Collection != "items" {
		t.Errorf("config = %+v", n.Config)
	}
	if _, err := g.UpdateConfig("loop", core.BranchConfig{}); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("mismatch: err = %v", err)
	}
	withFork, err := g.AddNode(core.Node{ID: "fork", Type: core.NodeTypeParallel})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := withFork.UpdateConfig("fork", core.ParallelConfig{BranchCount: -3}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative branch count: err = %v", err)
	}
	next, err = next.Rename("a1", "Fetch order")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if n, _ := next.NodeByID("a1"); n.Label != "Fetch order" {
		t.Errorf("label = %q", n.Label)
	}
	if _, err := g.MoveNode("ghost", core.Position{}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("move unknown: err = %v", err)
	}
}

func TestSequentialIDs_SkipsTakenIDs(t *testing.T) {
	g := mustBuild(t, []core.Node{testNode("node-1", core.NodeTypeStart, 0, 0)}, nil)
	next, err := g.AddNode(testNode("x", core.NodeTypeEnd, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	_, node, err := next.AppendAfter("node-1", core.NodeTypeDelay, SequentialIDs())
	if err != nil {
		t.Fatalf("AppendAfter: %v", err)
	}
	if node.ID != "node-2" {
		t.Errorf("id = %q, want node-2", node.ID)
	}
}
