package graph

import (
	"fmt"

	"github.com/bintelAI/ai-workflow/core"
)

// ResolveContainer decides which container the node belongs in after a
// drag, judged by whether its center point falls inside a container's
// absolute bounding box. The node itself and its descendants are never
// candidates. When several containers hold the point the innermost one
// (smallest area) wins; equal areas keep node order. Returns "" when the
// node belongs at the root.
func (g Graph) ResolveContainer(nodeID string) (string, error) {
	idx := g.Index()
	if _, ok := idx[nodeID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	center := idx.Bounds(nodeID).Center()
	excluded := g.Descendants(nodeID)
	excluded[nodeID] = true

	best := ""
	bestArea := 0.0
	for _, n := range g.Nodes {
		if !n.Type.IsContainer() || excluded[n.ID] {
			continue
		}
		box := idx.Bounds(n.ID)
		if !box.Contains(center) {
			continue
		}
		if best == "" || box.Area() < bestArea {
			best = n.ID
			bestArea = box.Area()
		}
	}
	return best, nil
}

// DragStop applies the containment decision for a node that has just been
// dropped. It reports whether the node changed parent; dropping inside the
// current parent changes nothing.
func (g Graph) DragStop(nodeID string) (Graph, bool, error) {
	target, err := g.ResolveContainer(nodeID)
	if err != nil {
		return g, false, err
	}
	idx := g.Index()
	node := idx[nodeID]
	if target == node.ParentID {
		return g, false, nil
	}
	next, err := g.Reparent(nodeID, target, idx.AbsolutePosition(nodeID))
	if err != nil {
		return g, false, err
	}
	return next, true, nil
}

// AbsoluteBounds is a convenience wrapper over Index.Bounds.
func (g Graph) AbsoluteBounds(nodeID string) (core.Rect, bool) {
	idx := g.Index()
	if _, ok := idx[nodeID]; !ok {
		return core.Rect{}, false
	}
	return idx.Bounds(nodeID), true
}
