package graph

import (
	"errors"
	"fmt"

	"github.com/bintelAI/ai-workflow/core"
)

// ErrConfigMismatch is returned when a node carries another type's config.
var ErrConfigMismatch = errors.New("config does not match node type")

const (
	// appendGap is the vertical spacing between a node and one appended after it.
	appendGap = 80
)

// firstChildOffset is where a container's first child lands, relative to
// the container origin.
var firstChildOffset = core.Position{X: 40, Y: 80}

// AddNode inserts n. The id must be unused and the parent, if any, must be
// an existing container. A nil config is replaced by the type default.
func (g Graph) AddNode(n core.Node) (Graph, error) {
	if err := g.checkNewNode(n); err != nil {
		return g, err
	}
	if n.Config == nil {
		cfg, err := core.DefaultConfig(n.Type)
		if err != nil {
			return g, err
		}
		n.Config = cfg
	}
	if n.Label == "" {
		n.Label = core.DefaultLabel(n.Type)
	}
	next := g.Clone()
	next.Nodes = append(next.Nodes, n.Clone())
	return next, nil
}

func (g Graph) checkNewNode(n core.Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node", ErrMissingID)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("node %s: %w: %q", n.ID, core.ErrUnknownNodeType, n.Type)
	}
	if g.nodePos(n.ID) >= 0 {
		return fmt.Errorf("%w: node %s", ErrDuplicateID, n.ID)
	}
	if n.Config != nil && n.Config.NodeType() != n.Type {
		return fmt.Errorf("node %s: %w: %s config on %s node", n.ID, ErrConfigMismatch, n.Config.NodeType(), n.Type)
	}
	if err := checkConfig(n.ID, n.Config); err != nil {
		return err
	}
	if n.ParentID != "" {
		parent, ok := g.NodeByID(n.ParentID)
		if !ok {
			return fmt.Errorf("%w: node %s: parent %s does not exist", ErrInvalidParent, n.ID, n.ParentID)
		}
		if !parent.Type.IsContainer() {
			return fmt.Errorf("%w: node %s: parent %s is a %s", ErrInvalidParent, n.ID, n.ParentID, parent.Type)
		}
	}
	return nil
}

// DeleteNode removes the node, every node nested under it, and every edge
// touching any removed node. Unknown ids are a no-op.
func (g Graph) DeleteNode(id string) Graph {
	if g.nodePos(id) < 0 {
		return g
	}
	doomed := g.Descendants(id)
	doomed[id] = true

	next := Graph{}
	for _, n := range g.Nodes {
		if !doomed[n.ID] {
			next.Nodes = append(next.Nodes, n.Clone())
		}
	}
	for _, e := range g.Edges {
		if !doomed[e.Source] && !doomed[e.Target] {
			next.Edges = append(next.Edges, e)
		}
	}
	return next
}

// DeleteEdge removes the edge. Unknown ids are a no-op.
func (g Graph) DeleteEdge(id string) Graph {
	pos := g.edgePos(id)
	if pos < 0 {
		return g
	}
	next := g.Clone()
	next.Edges = append(next.Edges[:pos], next.Edges[pos+1:]...)
	return next
}

// InsertBetween splits edge edgeID with a new node of type t placed at the
// midpoint of its endpoints. The first half keeps the original source
// handle, the second half keeps the original target handle.
//
// When both endpoints share a parent the new node joins it. Otherwise it
// joins the target's parent, so inserting on a loop-start edge lands inside
// the loop.
func (g Graph) InsertBetween(edgeID string, t core.NodeType, newID IDFunc) (Graph, core.Node, error) {
	edge, ok := g.EdgeByID(edgeID)
	if !ok {
		return g, core.Node{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
	}
	idx := g.Index()
	src, srcOK := idx[edge.Source]
	dst, dstOK := idx[edge.Target]
	if !srcOK || !dstOK {
		return g, core.Node{}, fmt.Errorf("%w: edge %s has a dangling endpoint", ErrNodeNotFound, edgeID)
	}

	var pos core.Position
	parent := dst.ParentID
	if src.ParentID == dst.ParentID {
		pos = src.Position.Midpoint(dst.Position)
	} else {
		mid := idx.AbsolutePosition(src.ID).Midpoint(idx.AbsolutePosition(dst.ID))
		pos = mid.Sub(idx.AbsolutePosition(parent))
	}

	node, err := core.NewNode(g.freshID(newID, "node"), t, "", pos)
	if err != nil {
		return g, core.Node{}, err
	}
	node.ParentID = parent

	next, err := g.DeleteEdge(edgeID).AddNode(node)
	if err != nil {
		return g, core.Node{}, err
	}
	first := core.Edge{
		ID:           next.freshID(newID, "edge"),
		Source:       edge.Source,
		Target:       node.ID,
		SourceHandle: edge.SourceHandle,
		TargetHandle: defaultTargetHandle(t),
	}
	next.Edges = append(next.Edges, first)
	second := core.Edge{
		ID:           next.freshID(newID, "edge"),
		Source:       node.ID,
		Target:       edge.Target,
		SourceHandle: defaultSourceHandle(t),
		TargetHandle: edge.TargetHandle,
	}
	next.Edges = append(next.Edges, second)
	return next, node, nil
}

// AppendAfter places a new node of type t below sourceID, in the same
// container, and wires the first free output of the source to it.
func (g Graph) AppendAfter(sourceID string, t core.NodeType, newID IDFunc) (Graph, core.Node, error) {
	src, ok := g.NodeByID(sourceID)
	if !ok {
		return g, core.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, sourceID)
	}
	handle, err := g.firstFreeHandle(src)
	if err != nil {
		return g, core.Node{}, err
	}

	pos := core.Position{X: src.Position.X, Y: src.Position.Y + src.EffectiveSize().Height + appendGap}
	node, err := core.NewNode(g.freshID(newID, "node"), t, "", pos)
	if err != nil {
		return g, core.Node{}, err
	}
	node.ParentID = src.ParentID

	next, err := g.AddNode(node)
	if err != nil {
		return g, core.Node{}, err
	}
	next.Edges = append(next.Edges, core.Edge{
		ID:           next.freshID(newID, "edge"),
		Source:       src.ID,
		Target:       node.ID,
		SourceHandle: handle,
		TargetHandle: defaultTargetHandle(t),
	})
	return next, node, nil
}

// AppendInside places a new node of type t as the first child of the
// container and wires the container's loop-start handle to it.
func (g Graph) AppendInside(containerID string, t core.NodeType, newID IDFunc) (Graph, core.Node, error) {
	container, ok := g.NodeByID(containerID)
	if !ok {
		return g, core.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, containerID)
	}
	if !container.Type.IsContainer() {
		return g, core.Node{}, fmt.Errorf("%w: %s is a %s", ErrNotContainer, containerID, container.Type)
	}
	if g.handleOccupied(containerID, core.HandleLoopStart) {
		return g, core.Node{}, fmt.Errorf("%w: %s on %s", ErrHandleOccupied, core.HandleLoopStart, containerID)
	}

	node, err := core.NewNode(g.freshID(newID, "node"), t, "", firstChildOffset)
	if err != nil {
		return g, core.Node{}, err
	}
	node.ParentID = containerID

	next, err := g.AddNode(node)
	if err != nil {
		return g, core.Node{}, err
	}
	next.Edges = append(next.Edges, core.Edge{
		ID:           next.freshID(newID, "edge"),
		Source:       containerID,
		Target:       node.ID,
		SourceHandle: core.HandleLoopStart,
		TargetHandle: defaultTargetHandle(t),
	})
	return next, node, nil
}

// Reparent moves a node under newParentID ("" for the root) so that it ends
// up at the absolute position abs, converting abs into the new frame.
func (g Graph) Reparent(nodeID, newParentID string, abs core.Position) (Graph, error) {
	pos := g.nodePos(nodeID)
	if pos < 0 {
		return g, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	idx := g.Index()
	rel := abs
	if newParentID != "" {
		parent, ok := idx[newParentID]
		if !ok {
			return g, fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, newParentID)
		}
		if !parent.Type.IsContainer() {
			return g, fmt.Errorf("%w: %s is a %s", ErrInvalidParent, newParentID, parent.Type)
		}
		if newParentID == nodeID || g.Descendants(nodeID)[newParentID] {
			return g, fmt.Errorf("%w: %s cannot contain itself", ErrInvalidParent, nodeID)
		}
		rel = abs.Sub(idx.AbsolutePosition(newParentID))
	}
	next := g.Clone()
	next.Nodes[pos].ParentID = newParentID
	next.Nodes[pos].Position = rel
	return next, nil
}

// Connect adds an edge from source to target. Each output handle carries at
// most one edge, and the edge may not close a cycle.
func (g Graph) Connect(source, target, sourceHandle, targetHandle string, newID IDFunc) (Graph, core.Edge, error) {
	idx := g.Index()
	src, ok := idx[source]
	if !ok {
		return g, core.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, source)
	}
	dst, ok := idx[target]
	if !ok {
		return g, core.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, target)
	}
	if source == target {
		return g, core.Edge{}, fmt.Errorf("%w: %s", ErrSelfLoop, source)
	}
	if !validSourceHandle(src, sourceHandle) {
		return g, core.Edge{}, fmt.Errorf("%w: %q is not an output of %s node %s", ErrInvalidHandle, sourceHandle, src.Type, source)
	}
	if !validTargetHandle(dst, targetHandle) {
		return g, core.Edge{}, fmt.Errorf("%w: %q is not an input of %s node %s", ErrInvalidHandle, targetHandle, dst.Type, target)
	}
	if sourceHandle == core.HandleLoopStart && dst.ParentID != source {
		return g, core.Edge{}, fmt.Errorf("%w: %s must target a child of %s", ErrInvalidHandle, core.HandleLoopStart, source)
	}
	if g.handleOccupied(source, sourceHandle) {
		return g, core.Edge{}, fmt.Errorf("%w: %q on %s", ErrHandleOccupied, sourceHandle, source)
	}
	if g.reaches(target, source) {
		return g, core.Edge{}, fmt.Errorf("%w: %s -> %s", ErrCycleDetected, source, target)
	}

	edge := core.Edge{
		ID:           g.freshID(newID, "edge"),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}
	next := g.Clone()
	next.Edges = append(next.Edges, edge)
	return next, edge, nil
}

// MoveNode sets a node's position in its current frame.
func (g Graph) MoveNode(id string, pos core.Position) (Graph, error) {
	return g.updateNode(id, func(n *core.Node) error {
		n.Position = pos
		return nil
	})
}

// Rename sets a node's label.
func (g Graph) Rename(id, label string) (Graph, error) {
	return g.updateNode(id, func(n *core.Node) error {
		n.Label = label
		return nil
	})
}

// UpdateConfig replaces a node's configuration. The variant must match the
// node's type.
func (g Graph) UpdateConfig(id string, cfg core.Config) (Graph, error) {
	return g.updateNode(id, func(n *core.Node) error {
		if cfg == nil || cfg.NodeType() != n.Type {
			return fmt.Errorf("node %s: %w", id, ErrConfigMismatch)
		}
		if err := checkConfig(id, cfg); err != nil {
			return err
		}
		n.Config = cfg
		return nil
	})
}

func (g Graph) updateNode(id string, fn func(*core.Node) error) (Graph, error) {
	pos := g.nodePos(id)
	if pos < 0 {
		return g, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	next := g.Clone()
	if err := fn(&next.Nodes[pos]); err != nil {
		return g, err
	}
	return next, nil
}

// Build assembles a graph from bulk input, checking the structural rules
// every mutation enforces: unique ids, known types, edges between existing
// nodes, and parents that are containers with no parent cycles. Handle
// usage is left to Validate.
func Build(nodes []core.Node, edges []core.Edge) (Graph, error) {
	g := Graph{}
	for _, n := range nodes {
		if n.ID == "" {
			return Graph{}, fmt.Errorf("%w: node", ErrMissingID)
		}
		if !n.Type.Valid() {
			return Graph{}, fmt.Errorf("node %s: %w: %q", n.ID, core.ErrUnknownNodeType, n.Type)
		}
		if g.nodePos(n.ID) >= 0 {
			return Graph{}, fmt.Errorf("%w: node %s", ErrDuplicateID, n.ID)
		}
		if n.Config == nil {
			cfg, err := core.DefaultConfig(n.Type)
			if err != nil {
				return Graph{}, err
			}
			n.Config = cfg
		} else if n.Config.NodeType() != n.Type {
			return Graph{}, fmt.Errorf("node %s: %w", n.ID, ErrConfigMismatch)
		}
		if err := checkConfig(n.ID, n.Config); err != nil {
			return Graph{}, err
		}
		g.Nodes = append(g.Nodes, n.Clone())
	}

	idx := g.Index()
	for _, n := range g.Nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := idx[n.ParentID]
		if !ok || !parent.Type.IsContainer() {
			return Graph{}, fmt.Errorf("%w: node %s: parent %q is missing or not a container", ErrInvalidParent, n.ID, n.ParentID)
		}
		if hasParentCycle(idx, n.ID) {
			return Graph{}, fmt.Errorf("%w: node %s is its own ancestor", ErrInvalidParent, n.ID)
		}
	}

	for _, e := range edges {
		if e.ID == "" {
			return Graph{}, fmt.Errorf("%w: edge %s -> %s", ErrMissingID, e.Source, e.Target)
		}
		if g.edgePos(e.ID) >= 0 {
			return Graph{}, fmt.Errorf("%w: edge %s", ErrDuplicateID, e.ID)
		}
		if _, ok := idx[e.Source]; !ok {
			return Graph{}, fmt.Errorf("%w: edge %s source %s", ErrNodeNotFound, e.ID, e.Source)
		}
		if _, ok := idx[e.Target]; !ok {
			return Graph{}, fmt.Errorf("%w: edge %s target %s", ErrNodeNotFound, e.ID, e.Target)
		}
		if err := g.checkSourceHandle(idx, e); err != nil {
			return Graph{}, err
		}
		g.Edges = append(g.Edges, e)
	}
	return g, nil
}

// checkConfig rejects values no node of the type can honour.
func checkConfig(id string, cfg core.Config) error {
	if c, ok := cfg.(core.ParallelConfig); ok && (c.BranchCount < 0 || c.BranchCount > core.MaxParallelBranches) {
		return fmt.Errorf("node %s: %w: branchCount %d outside 0..%d", id, ErrInvalidConfig, c.BranchCount, core.MaxParallelBranches)
	}
	return nil
}

func hasParentCycle(idx Index, id string) bool {
	seen := map[string]bool{}
	for cur := id; cur != ""; {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		n, ok := idx[cur]
		if !ok {
			return false
		}
		cur = n.ParentID
	}
	return false
}
