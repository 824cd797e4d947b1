// Package variables works out which values a node can reference and
// resolves {{ path }} templates against the value tree of a run.
//
// At design time Available lists the addressable paths for a node: fields
// of the start payload, outputs of every upstream node, the enclosing loop
// frame, and system values. At run time Tree assembles the concrete values
// and ResolveTemplate / Materialize substitute them into configuration.
package variables

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/registry"
)

// Scope says where a variable comes from.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeNode   Scope = "node"
	ScopeLoop   Scope = "loop"
	ScopeSystem Scope = "system"
)

// JSONErrorPath is the single global entry reported when the start
// payload does not parse.
const JSONErrorPath = "(JSON Error)"

// Variable is one addressable path.
type Variable struct {
	Path         string `json:"path"`
	Label        string `json:"label"`
	Scope        Scope  `json:"scope"`
	SourceNodeID string `json:"source_node_id,omitempty"`
	Type         string `json:"type"`
}

// Available lists the variables a node can reference, globals first, then
// upstream node outputs nearest first, then loop and system values. An
// unknown node id yields only globals and system values.
func Available(g graph.Graph, nodeID string) []Variable {
	var vars []Variable
	vars = append(vars, globalVariables(g)...)
	vars = append(vars, upstreamVariables(g, nodeID)...)
	vars = append(vars, loopVariables(g, nodeID)...)
	vars = append(vars, systemVariables()...)
	return vars
}

func globalVariables(g graph.Graph) []Variable {
	starts := g.StartNodes()
	if len(starts) == 0 {
		return nil
	}
	cfg, _ := starts[0].Config.(core.StartConfig)
	payload, err := ParsePayload(cfg.Payload)
	if err != nil {
		return []Variable{{
			Path:         JSONErrorPath,
			Label:        JSONErrorPath,
			Scope:        ScopeGlobal,
			SourceNodeID: starts[0].ID,
			Type:         "error",
		}}
	}
	// Only object payloads are lifted to the root of the value tree. Any
	// other payload is reachable under input alone.
	prefix := ""
	if _, ok := payload.(map[string]any); !ok {
		prefix = "input"
	}
	var vars []Variable
	flatten(prefix, payload, func(path string, v any) {
		vars = append(vars, Variable{
			Path:         path,
			Label:        path,
			Scope:        ScopeGlobal,
			SourceNodeID: starts[0].ID,
			Type:         TypeOf(v),
		})
	})
	return vars
}

// ParsePayload decodes a start payload. Blank text is an empty object.
func ParsePayload(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return v, nil
}

// flatten reports every leaf path under v. Objects recurse with sorted
// keys. Arrays report their own path and then recurse into the first
// element only, as a template for the rest.
func flatten(prefix string, v any, emit func(path string, v any)) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			if prefix != "" {
				emit(prefix, val)
			}
			return
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flatten(path, val[k], emit)
		}
	case []any:
		if prefix != "" {
			emit(prefix, val)
		}
		if len(val) > 0 {
			flatten(prefix+"[0]", val[0], emit)
		}
	default:
		if prefix != "" {
			emit(prefix, val)
		}
	}
}

// upstreamVariables walks edges backwards from nodeID. A loop-start edge
// makes the loop an ancestor of its body, so body nodes see everything
// upstream of the loop as well.
func upstreamVariables(g graph.Graph, nodeID string) []Variable {
	idx := g.Index()
	if _, ok := idx[nodeID]; !ok {
		return nil
	}
	reg := registry.Global()

	seen := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	var vars []Variable
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Incoming(cur) {
			if seen[e.Source] {
				continue
			}
			seen[e.Source] = true
			queue = append(queue, e.Source)

			src, ok := idx[e.Source]
			if !ok {
				continue
			}
			def, _ := reg.Get(src.Type)
			for _, field := range reg.OutputFields(src.Type) {
				vars = append(vars, Variable{
					Path:         fmt.Sprintf("nodes.%s.%s", src.ID, field),
					Label:        fmt.Sprintf("%s / %s", labelOf(src), field),
					Scope:        ScopeNode,
					SourceNodeID: src.ID,
					Type:         fieldType(def, field),
				})
			}
		}
	}
	return vars
}

func loopVariables(g graph.Graph, nodeID string) []Variable {
	idx := g.Index()
	loop, ok := idx.NearestContainer(nodeID)
	if !ok || loop.Type != core.NodeTypeLoop {
		return nil
	}
	vars := []Variable{
		{Path: "loop.item", Label: labelOf(loop) + " / item", Scope: ScopeLoop, SourceNodeID: loop.ID, Type: "any"},
		{Path: "loop.index", Label: labelOf(loop) + " / index", Scope: ScopeLoop, SourceNodeID: loop.ID, Type: "number"},
	}
	if outer, ok := idx.NearestContainer(loop.ID); ok && outer.Type == core.NodeTypeLoop {
		vars = append(vars,
			Variable{Path: "loop.parent.item", Label: labelOf(outer) + " / item", Scope: ScopeLoop, SourceNodeID: outer.ID, Type: "any"},
			Variable{Path: "loop.parent.index", Label: labelOf(outer) + " / index", Scope: ScopeLoop, SourceNodeID: outer.ID, Type: "number"},
		)
	}
	return vars
}

func systemVariables() []Variable {
	return []Variable{
		{Path: "system.timestamp", Label: "Run timestamp", Scope: ScopeSystem, Type: "string"},
		{Path: "system.workflow_id", Label: "Workflow ID", Scope: ScopeSystem, Type: "string"},
		{Path: "system.execution_id", Label: "Execution ID", Scope: ScopeSystem, Type: "string"},
	}
}

func labelOf(n core.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func fieldType(def registry.NodeTypeDef, name string) string {
	for _, f := range def.OutputFields {
		if f.Name == name {
			return f.Type
		}
	}
	return "any"
}

// TypeOf names the JSON type of a decoded value.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "any"
}
