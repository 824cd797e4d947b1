package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/nodes"
	"github.com/bintelAI/ai-workflow/nodes/expr"
)

// Diagnostic is an advisory finding about a graph. Validation never blocks
// editing or simulation; callers decide what to do with errors.
type Diagnostic struct {
	Code     string `json:"code"`              // e.g. "GR-001", "LP-002"
	Severity string `json:"severity"`          // "error" or "warning"
	Message  string `json:"message"`           // human-readable description
	Path     string `json:"path,omitempty"`    // JSON path to offending field
	NodeID   string `json:"node_id,omitempty"` // node the finding is about
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Validate inspects the graph and reports problems:
//   - GR-001: no start node
//   - GR-002: more than one start node
//   - GR-003: edge references an unknown node
//   - GR-004: cycle
//   - GR-005: parent missing or not a container
//   - GR-006: handle misuse (unknown handle, or two edges on one output)
//   - GR-007: edge crosses container scopes
//   - GR-008: node unreachable from the start node
//   - LP-001..LP-003: loop configuration and body wiring
//   - BR-001, BR-002: branch expression and wiring
//   - PL-001: parallel with fewer than two branches
//   - SC-001: javascript that does not compile
//   - DL-001: unusable delay duration or cron expression
//   - ST-001: start payload that is not valid JSON
func (g Graph) Validate() []Diagnostic {
	var diags []Diagnostic
	idx := g.Index()

	diags = append(diags, g.validateStarts()...)
	diags = append(diags, g.validateParents(idx)...)
	diags = append(diags, g.validateEdges(idx)...)

	if !hasCode(diags, "GR-003") {
		if cycle := g.detectCycle(); cycle != "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-004",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Graph contains a cycle: %s", cycle),
			})
		}
		diags = append(diags, g.validateReachability()...)
	}

	for i, n := range g.Nodes {
		diags = append(diags, g.validateNode(i, n)...)
	}
	return diags
}

func (g Graph) validateStarts() []Diagnostic {
	starts := g.StartNodes()
	switch {
	case len(starts) == 0:
		return []Diagnostic{{
			Code:     "GR-001",
			Severity: SeverityError,
			Message:  "Graph has no start node",
		}}
	case len(starts) > 1:
		ids := make([]string, len(starts))
		for i, s := range starts {
			ids[i] = s.ID
		}
		return []Diagnostic{{
			Code:     "GR-002",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Graph has %d start nodes (%s); exactly one is required", len(starts), strings.Join(ids, ", ")),
		}}
	}
	return nil
}

func (g Graph) validateParents(idx Index) []Diagnostic {
	var diags []Diagnostic
	for i, n := range g.Nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := idx[n.ParentID]
		if !ok || !parent.Type.IsContainer() || hasParentCycle(idx, n.ID) {
			diags = append(diags, Diagnostic{
				Code:     "GR-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q has parent %q which is missing or not a container", n.ID, n.ParentID),
				Path:     fmt.Sprintf("nodes[%d].parentId", i),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func (g Graph) validateEdges(idx Index) []Diagnostic {
	var diags []Diagnostic
	used := make(map[string]string) // source|handle -> first edge id

	for i, e := range g.Edges {
		src, srcOK := idx[e.Source]
		dst, dstOK := idx[e.Target]
		if !srcOK {
			diags = append(diags, Diagnostic{
				Code:     "GR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", e.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !dstOK {
			diags = append(diags, Diagnostic{
				Code:     "GR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", e.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}
		if !srcOK || !dstOK {
			continue
		}

		if !validSourceHandle(src, e.SourceHandle) {
			diags = append(diags, Diagnostic{
				Code:     "GR-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Handle %q is not an output of %s node %q", e.SourceHandle, src.Type, src.ID),
				Path:     fmt.Sprintf("edges[%d].sourceHandle", i),
				NodeID:   src.ID,
			})
		}
		if !validTargetHandle(dst, e.TargetHandle) {
			diags = append(diags, Diagnostic{
				Code:     "GR-006",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Handle %q is not an input of %s node %q", e.TargetHandle, dst.Type, dst.ID),
				Path:     fmt.Sprintf("edges[%d].targetHandle", i),
				NodeID:   dst.ID,
			})
		}
		key := e.Source + "|" + e.SourceHandle
		if first, dup := used[key]; dup {
			diags = append(diags, Diagnostic{
				Code:     "GR-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Output %q of node %q carries edges %q and %q", e.SourceHandle, src.ID, first, e.ID),
				Path:     fmt.Sprintf("edges[%d]", i),
				NodeID:   src.ID,
			})
		} else {
			used[key] = e.ID
		}

		enteringBody := e.SourceHandle == core.HandleLoopStart && dst.ParentID == src.ID
		if src.ParentID != dst.ParentID && !enteringBody {
			diags = append(diags, Diagnostic{
				Code:     "GR-007",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Edge %q crosses a container boundary (%q -> %q)", e.ID, src.ID, dst.ID),
				Path:     fmt.Sprintf("edges[%d]", i),
			})
		}
	}
	return diags
}

func (g Graph) validateReachability() []Diagnostic {
	starts := g.StartNodes()
	if len(starts) != 1 {
		return nil
	}
	seen := map[string]bool{starts[0].ID: true}
	queue := []string{starts[0].ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	var diags []Diagnostic
	for i, n := range g.Nodes {
		if !seen[n.ID] {
			diags = append(diags, Diagnostic{
				Code:     "GR-008",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Node %q is not reachable from the start node", n.ID),
				Path:     fmt.Sprintf("nodes[%d]", i),
				NodeID:   n.ID,
			})
		}
	}
	return diags
}

func (g Graph) validateNode(i int, n core.Node) []Diagnostic {
	var diags []Diagnostic
	warn := func(code, path, format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code:     code,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf(format, args...),
			Path:     fmt.Sprintf("nodes[%d].%s", i, path),
			NodeID:   n.ID,
		})
	}
	fail := func(code, path, format string, args ...any) {
		diags = append(diags, Diagnostic{
			Code:     code,
			Severity: SeverityError,
			Message:  fmt.Sprintf(format, args...),
			Path:     fmt.Sprintf("nodes[%d].%s", i, path),
			NodeID:   n.ID,
		})
	}

	switch cfg := n.Config.(type) {
	case core.StartConfig:
		if strings.TrimSpace(cfg.Payload) != "" && !json.Valid([]byte(cfg.Payload)) {
			warn("ST-001", "config.payload", "Start node %q payload is not valid JSON", n.ID)
		}

	case core.LoopConfig:
		if strings.TrimSpace(cfg.Collection) == "" {
			warn("LP-001", "config.collection", "Loop %q has no target collection", n.ID)
		}
		if len(g.Children(n.ID)) == 0 {
			warn("LP-002", "id", "Loop %q has no child nodes", n.ID)
		} else if !g.handleOccupied(n.ID, core.HandleLoopStart) {
			warn("LP-003", "id", "Loop %q has children but no %s edge", n.ID, core.HandleLoopStart)
		}

	case core.BranchConfig:
		if strings.TrimSpace(cfg.Expression) == "" {
			fail("BR-001", "config.expression", "Branch %q has an empty expression", n.ID)
		} else if err := expr.ValidateSyntax(cfg.Expression); err != nil {
			fail("BR-001", "config.expression", "Branch %q has an invalid expression: %v", n.ID, err)
		}
		for _, h := range []string{core.HandleTrue, core.HandleFalse} {
			if !g.handleOccupied(n.ID, h) {
				warn("BR-002", "id", "Branch %q has no edge on its %q handle", n.ID, h)
			}
		}

	case core.ParallelConfig:
		if cfg.BranchCount < 2 {
			warn("PL-001", "config.branchCount", "Parallel %q has %d branches; fan-out needs at least 2", n.ID, cfg.BranchCount)
		}

	case core.ScriptConfig:
		if err := nodes.CompileScript(cfg); err != nil {
			warn("SC-001", "config.code", "Script %q does not compile: %v", n.ID, err)
		}

	case core.DelayConfig:
		if _, err := nodes.ResumeAt(cfg, nodes.Epoch); err != nil {
			fail("DL-001", "config", "Delay %q: %v", n.ID, err)
		}
	}
	return diags
}

func hasCode(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

// detectCycle uses Kahn's algorithm to find cycles. Returns a description
// of the cycle if found, or empty string if the graph is acyclic.
func (g Graph) detectCycle() string {
	inDegree := make(map[string]int, len(g.Nodes))
	successors := make(map[string][]string)
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	queue := make([]string, 0)
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(g.Nodes) {
		var cycleNodes []string
		for _, n := range g.Nodes {
			if inDegree[n.ID] > 0 {
				cycleNodes = append(cycleNodes, n.ID)
			}
		}
		return fmt.Sprintf("nodes involved: %v", cycleNodes)
	}
	return ""
}
