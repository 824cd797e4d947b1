package graph

import (
	"fmt"

	"github.com/bintelAI/ai-workflow/core"
)

// SourceHandles lists the output handles a node offers, in the order
// placement tooling fills them. A single empty string means the node has
// one unnamed output.
func SourceHandles(n core.Node) []string {
	switch n.Type {
	case core.NodeTypeBranch:
		return []string{core.HandleTrue, core.HandleFalse}
	case core.NodeTypeParallel:
		count := 0
		if cfg, ok := n.Config.(core.ParallelConfig); ok {
			count = min(max(cfg.BranchCount, 0), core.MaxParallelBranches)
		}
		handles := make([]string, 0, count)
		for i := 0; i < count; i++ {
			handles = append(handles, core.BranchHandle(i))
		}
		return handles
	case core.NodeTypeLoop:
		return []string{core.HandleLoopOutput, core.HandleLoopStart}
	default:
		return []string{""}
	}
}

// validSourceHandle reports whether handle is an output of n.
func validSourceHandle(n core.Node, handle string) bool {
	for _, h := range SourceHandles(n) {
		if h == handle {
			return true
		}
	}
	return false
}

// validTargetHandle reports whether handle is an input of n.
func validTargetHandle(n core.Node, handle string) bool {
	if handle == "" {
		return true
	}
	return n.Type == core.NodeTypeLoop && handle == core.HandleLoopInput
}

// defaultTargetHandle is the input handle new edges into a node of type t use.
func defaultTargetHandle(t core.NodeType) string {
	if t == core.NodeTypeLoop {
		return core.HandleLoopInput
	}
	return ""
}

// defaultSourceHandle is the output handle a freshly created node of type t
// continues from. Loops continue after the loop, not into the body.
func defaultSourceHandle(t core.NodeType) string {
	switch t {
	case core.NodeTypeBranch:
		return core.HandleTrue
	case core.NodeTypeParallel:
		return core.BranchHandle(0)
	case core.NodeTypeLoop:
		return core.HandleLoopOutput
	}
	return ""
}

// checkSourceHandle applies the per-edge output rules Connect enforces: the
// handle must exist on the source, loop-start must enter the loop's own
// body, and an output carries at most one edge.
func (g Graph) checkSourceHandle(idx Index, e core.Edge) error {
	src, dst := idx[e.Source], idx[e.Target]
	if !validSourceHandle(src, e.SourceHandle) {
		return fmt.Errorf("%w: edge %s: %q is not an output of %s node %s", ErrInvalidHandle, e.ID, e.SourceHandle, src.Type, src.ID)
	}
	if e.SourceHandle == core.HandleLoopStart && dst.ParentID != src.ID {
		return fmt.Errorf("%w: edge %s: %s must target a child of %s", ErrInvalidHandle, e.ID, core.HandleLoopStart, src.ID)
	}
	if g.handleOccupied(e.Source, e.SourceHandle) {
		return fmt.Errorf("%w: edge %s: %q on %s", ErrHandleOccupied, e.ID, e.SourceHandle, e.Source)
	}
	return nil
}

// handleOccupied reports whether an edge already leaves source on handle.
func (g Graph) handleOccupied(source, handle string) bool {
	for _, e := range g.Edges {
		if e.Source == source && e.SourceHandle == handle {
			return true
		}
	}
	return false
}

// firstFreeHandle returns the first output of n with no edge attached.
func (g Graph) firstFreeHandle(n core.Node) (string, error) {
	for _, h := range SourceHandles(n) {
		if h == core.HandleLoopStart {
			continue
		}
		if !g.handleOccupied(n.ID, h) {
			return h, nil
		}
	}
	return "", fmt.Errorf("%w: node %s has no free output", ErrHandleOccupied, n.ID)
}
