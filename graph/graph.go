// Package graph holds the authoritative workflow graph and every structural
// operation on it. Operations are pure: each takes a Graph value and returns
// the next one, leaving the receiver untouched, so a failed call can never
// leave partial state behind. Store wraps them for callers that want a
// single mutable handle.
package graph

import (
	"errors"

	"github.com/bintelAI/ai-workflow/core"
)

// Structural errors returned at the mutation boundary.
var (
	ErrDuplicateID    = errors.New("duplicate id")
	ErrNodeNotFound   = errors.New("node not found")
	ErrEdgeNotFound   = errors.New("edge not found")
	ErrHandleOccupied = errors.New("handle already occupied")
	ErrInvalidHandle  = errors.New("invalid handle")
	ErrInvalidParent  = errors.New("invalid parent")
	ErrNotContainer   = errors.New("node is not a container")
	ErrSelfLoop       = errors.New("edge source and target are the same node")
	ErrCycleDetected  = errors.New("edge would create a cycle")
	ErrMissingID      = errors.New("missing id")
	ErrInvalidConfig  = errors.New("invalid node config")
)

// Graph is an ordered set of nodes and edges. The zero value is an empty
// graph. Order is insertion order and is what iteration-order tie breaks
// refer to.
type Graph struct {
	Nodes []core.Node `json:"nodes"`
	Edges []core.Edge `json:"edges"`
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]core.Node, len(g.Nodes)),
		Edges: make([]core.Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, g.Edges)
	return out
}

// Index maps node ids to nodes.
type Index map[string]core.Node

// Index builds an id lookup over the graph's nodes.
func (g Graph) Index() Index {
	idx := make(Index, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// NodeByID returns the node with the given id.
func (g Graph) NodeByID(id string) (core.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return core.Node{}, false
}

// EdgeByID returns the edge with the given id.
func (g Graph) EdgeByID(id string) (core.Edge, bool) {
	for _, e := range g.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return core.Edge{}, false
}

// Outgoing returns the edges leaving id, in edge order.
func (g Graph) Outgoing(id string) []core.Edge {
	var out []core.Edge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering id, in edge order.
func (g Graph) Incoming(id string) []core.Edge {
	var in []core.Edge
	for _, e := range g.Edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}

// Children returns the nodes whose parent is id.
func (g Graph) Children(id string) []core.Node {
	var kids []core.Node
	for _, n := range g.Nodes {
		if n.ParentID == id && id != "" {
			kids = append(kids, n)
		}
	}
	return kids
}

// Descendants returns the ids of every node nested under id, at any depth.
func (g Graph) Descendants(id string) map[string]bool {
	out := make(map[string]bool)
	frontier := []string{id}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, n := range g.Nodes {
			if n.ParentID == cur && !out[n.ID] && n.ID != id {
				out[n.ID] = true
				frontier = append(frontier, n.ID)
			}
		}
	}
	return out
}

// StartNodes returns every start node in node order.
func (g Graph) StartNodes() []core.Node {
	var starts []core.Node
	for _, n := range g.Nodes {
		if n.Type == core.NodeTypeStart {
			starts = append(starts, n)
		}
	}
	return starts
}

// AbsolutePosition resolves a node's absolute canvas position by summing
// relative positions up its parent chain. A broken chain (missing parent)
// stops at the last known ancestor; a looping chain stops when it repeats.
func (idx Index) AbsolutePosition(id string) core.Position {
	var pos core.Position
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		n, ok := idx[id]
		if !ok {
			break
		}
		pos = pos.Add(n.Position)
		id = n.ParentID
	}
	return pos
}

// Bounds returns the node's absolute bounding box.
func (idx Index) Bounds(id string) core.Rect {
	n := idx[id]
	return core.Rect{Origin: idx.AbsolutePosition(id), Size: n.EffectiveSize()}
}

// NearestContainer returns the closest container ancestor of id.
func (idx Index) NearestContainer(id string) (core.Node, bool) {
	n, ok := idx[id]
	if !ok {
		return core.Node{}, false
	}
	seen := map[string]bool{id: true}
	for p := n.ParentID; p != "" && !seen[p]; {
		seen[p] = true
		parent, ok := idx[p]
		if !ok {
			return core.Node{}, false
		}
		if parent.Type.IsContainer() {
			return parent, true
		}
		p = parent.ParentID
	}
	return core.Node{}, false
}

// Ancestors returns the ids of the node's container chain, nearest first.
func (idx Index) Ancestors(id string) []string {
	var chain []string
	seen := map[string]bool{id: true}
	n, ok := idx[id]
	for ok && n.ParentID != "" && !seen[n.ParentID] {
		seen[n.ParentID] = true
		chain = append(chain, n.ParentID)
		n, ok = idx[n.ParentID]
	}
	return chain
}

func (g Graph) nodePos(id string) int {
	for i, n := range g.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (g Graph) edgePos(id string) int {
	for i, e := range g.Edges {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// reaches reports whether to is reachable from from over edges.
func (g Graph) reaches(from, to string) bool {
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, e := range g.Edges {
			if e.Source == cur && !visited[e.Target] {
				visited[e.Target] = true
				stack = append(stack, e.Target)
			}
		}
	}
	return false
}
