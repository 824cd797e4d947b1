package variables

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPath is returned by ParsePath for malformed references.
var ErrInvalidPath = errors.New("invalid variable path")

// Undefined marks a reference that did not resolve. It renders as
// "undefined" inside text and encodes as JSON null.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }

func (Undefined) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Frame is one level of loop iteration.
type Frame struct {
	Item  any
	Index int
}

// System carries the run-level values under system.*.
type System struct {
	Timestamp   time.Time
	WorkflowID  string
	ExecutionID string
}

// Values is everything a run knows at one point of one path.
type Values struct {
	Payload any
	Nodes   map[string]map[string]any
	Frames  []Frame // outermost first
	System  System
}

// Tree assembles the value tree templates resolve against. Payload
// fields sit at the root and under "input"; node outputs under "nodes";
// the innermost loop frame under "loop" with enclosing frames chained
// through "loop.parent"; run values under "system". The reserved keys
// shadow payload fields of the same name.
func Tree(s Values) map[string]any {
	tree := make(map[string]any)
	if m, ok := s.Payload.(map[string]any); ok {
		for k, v := range m {
			tree[k] = v
		}
	}
	tree["input"] = s.Payload

	nodes := make(map[string]any, len(s.Nodes))
	for id, fields := range s.Nodes {
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		nodes[id] = out
	}
	tree["nodes"] = nodes

	var loop map[string]any
	for _, f := range s.Frames {
		frame := map[string]any{"item": f.Item, "index": float64(f.Index)}
		if loop != nil {
			frame["parent"] = loop
		}
		loop = frame
	}
	if loop != nil {
		tree["loop"] = loop
	}

	ts := ""
	if !s.System.Timestamp.IsZero() {
		ts = s.System.Timestamp.UTC().Format(time.RFC3339)
	}
	tree["system"] = map[string]any{
		"timestamp":    ts,
		"workflow_id":  s.System.WorkflowID,
		"execution_id": s.System.ExecutionID,
	}
	return tree
}

// Segment is one step of a path: a key, or an index when IsIndex is set.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// ParsePath splits "a.b[0].c" or `a["odd key"]` into segments.
func ParsePath(path string) ([]Segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	var segs []Segment
	i := 0
	expectKey := true
	for i < len(path) {
		switch c := path[i]; {
		case c == '.':
			if expectKey {
				return nil, fmt.Errorf("%w: %q: unexpected '.'", ErrInvalidPath, path)
			}
			expectKey = true
			i++
		case c == '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unclosed '['", ErrInvalidPath, path)
			}
			inner := strings.TrimSpace(path[i+1 : i+end])
			i += end + 1
			if n, err := strconv.Atoi(inner); err == nil && n >= 0 {
				segs = append(segs, Segment{Index: n, IsIndex: true})
			} else if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, Segment{Key: inner[1 : len(inner)-1]})
			} else {
				return nil, fmt.Errorf("%w: %q: bad index %q", ErrInvalidPath, path, inner)
			}
			expectKey = false
		default:
			if !expectKey {
				return nil, fmt.Errorf("%w: %q: missing '.' before %q", ErrInvalidPath, path, path[i:])
			}
			start := i
			for i < len(path) && path[i] != '.' && path[i] != '[' {
				if !isIdentChar(path[i]) {
					return nil, fmt.Errorf("%w: %q: unexpected %q", ErrInvalidPath, path, path[i])
				}
				i++
			}
			segs = append(segs, Segment{Key: path[start:i]})
			expectKey = false
		}
	}
	if expectKey {
		return nil, fmt.Errorf("%w: %q: trailing '.'", ErrInvalidPath, path)
	}
	return segs, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Lookup resolves path against tree. Numeric keys also index arrays, so
// "items.0" and "items[0]" are the same.
func Lookup(tree map[string]any, path string) (any, bool) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, seg := range segs {
		switch v := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				next, ok := v[strconv.Itoa(seg.Index)]
				if !ok {
					return nil, false
				}
				cur = next
				continue
			}
			next, ok := v[seg.Key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx := seg.Index
			if !seg.IsIndex {
				if seg.Key == "length" {
					cur = float64(len(v))
					continue
				}
				n, err := strconv.Atoi(seg.Key)
				if err != nil {
					return nil, false
				}
				idx = n
			}
			if idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
