package graph

import (
	"context"

	"github.com/bintelAI/ai-workflow/core"
)

// Generator turns a free-text prompt into a candidate graph. The result is
// untrusted and goes through Sanitize before it reaches a Store.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]core.Node, []core.Edge, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) ([]core.Node, []core.Edge, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) ([]core.Node, []core.Edge, error) {
	return f(ctx, prompt)
}

// SanitizeReport lists what Sanitize had to repair.
type SanitizeReport struct {
	DroppedNodes   []string `json:"droppedNodes,omitempty"`
	DroppedEdges   []string `json:"droppedEdges,omitempty"`
	ClearedParents []string `json:"clearedParents,omitempty"`
	AssignedIDs    int      `json:"assignedIds,omitempty"`
}

// Clean reports whether nothing was repaired.
func (r SanitizeReport) Clean() bool {
	return len(r.DroppedNodes) == 0 && len(r.DroppedEdges) == 0 &&
		len(r.ClearedParents) == 0 && r.AssignedIDs == 0
}

// Sanitize repairs a generated candidate so it can pass Build. Nodes with
// an unknown type or a repeated id are dropped. Missing ids are minted.
// Configs that do not fit the node are reset to the type's default.
// Parents that do not resolve to a container are cleared. Edges that are
// self-loops, reference a node that is not there, or break an output rule
// (unknown handle, a second edge on one output, loop-start outside the
// loop's body) are dropped.
func Sanitize(nodes []core.Node, edges []core.Edge, newID IDFunc) ([]core.Node, []core.Edge, SanitizeReport) {
	if newID == nil {
		newID = RandomIDs
	}
	var report SanitizeReport
	used := make(map[string]bool, len(nodes)+len(edges))
	for _, n := range nodes {
		used[n.ID] = true
	}
	for _, e := range edges {
		used[e.ID] = true
	}
	mint := func(prefix string) string {
		for {
			id := newID(prefix)
			if !used[id] {
				used[id] = true
				report.AssignedIDs++
				return id
			}
		}
	}

	kept := make([]core.Node, 0, len(nodes))
	types := make(map[string]core.NodeType, len(nodes))
	for _, n := range nodes {
		if !n.Type.Valid() {
			report.DroppedNodes = append(report.DroppedNodes, n.ID)
			continue
		}
		if n.ID == "" {
			n.ID = mint("node")
		} else if _, dup := types[n.ID]; dup {
			report.DroppedNodes = append(report.DroppedNodes, n.ID)
			continue
		}
		if n.Config != nil && (n.Config.NodeType() != n.Type || checkConfig(n.ID, n.Config) != nil) {
			n.Config = nil
		}
		if n.Config == nil {
			n.Config, _ = core.DefaultConfig(n.Type)
		}
		types[n.ID] = n.Type
		kept = append(kept, n.Clone())
	}
	for i, n := range kept {
		if n.ParentID == "" {
			continue
		}
		if t, ok := types[n.ParentID]; !ok || !t.IsContainer() || n.ParentID == n.ID {
			report.ClearedParents = append(report.ClearedParents, n.ID)
			kept[i].ParentID = ""
		}
	}
	idx := Graph{Nodes: kept}.Index()
	for i, n := range kept {
		if n.ParentID != "" && hasParentCycle(idx, n.ID) {
			report.ClearedParents = append(report.ClearedParents, n.ID)
			kept[i].ParentID = ""
			idx[n.ID] = kept[i]
		}
	}

	partial := Graph{Nodes: kept}
	keptEdges := make([]core.Edge, 0, len(edges))
	seenEdges := make(map[string]bool, len(edges))
	for _, e := range edges {
		_, srcOK := types[e.Source]
		_, dstOK := types[e.Target]
		if !srcOK || !dstOK || e.Source == e.Target {
			report.DroppedEdges = append(report.DroppedEdges, e.ID)
			continue
		}
		if partial.checkSourceHandle(idx, e) != nil {
			report.DroppedEdges = append(report.DroppedEdges, e.ID)
			continue
		}
		if e.ID == "" || seenEdges[e.ID] {
			e.ID = mint("edge")
		}
		seenEdges[e.ID] = true
		keptEdges = append(keptEdges, e)
		partial.Edges = keptEdges
	}
	return kept, keptEdges, report
}
