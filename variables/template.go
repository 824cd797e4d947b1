package variables

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var templateRe = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Warning reports a reference that could not be resolved.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// HasTemplate reports whether s contains a {{ }} reference.
func HasTemplate(s string) bool {
	return templateRe.MatchString(s)
}

// References returns the paths referenced in s, in order.
func References(s string) []string {
	var refs []string
	for _, m := range templateRe.FindAllStringSubmatch(s, -1) {
		refs = append(refs, m[1])
	}
	return refs
}

// ResolveTemplate substitutes every {{ path }} in s. When s is exactly
// one reference the raw value is returned with its type intact;
// otherwise the result is a string. Each unresolved reference becomes
// Undefined and adds a warning.
func ResolveTemplate(s string, tree map[string]any) (any, []Warning) {
	trimmed := strings.TrimSpace(s)
	if loc := templateRe.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		path := trimmed[loc[2]:loc[3]]
		v, w := resolveRef(path, tree)
		if w != nil {
			return Undefined{}, []Warning{*w}
		}
		return v, nil
	}
	return ResolveString(s, tree)
}

// ResolveString substitutes every {{ path }} in s and always returns text.
func ResolveString(s string, tree map[string]any) (string, []Warning) {
	if !HasTemplate(s) {
		return s, nil
	}
	var warnings []Warning
	out := templateRe.ReplaceAllStringFunc(s, func(match string) string {
		path := templateRe.FindStringSubmatch(match)[1]
		v, w := resolveRef(path, tree)
		if w != nil {
			warnings = append(warnings, *w)
			return Undefined{}.String()
		}
		return Stringify(v)
	})
	return out, warnings
}

func resolveRef(path string, tree map[string]any) (any, *Warning) {
	if _, err := ParsePath(path); err != nil {
		return nil, &Warning{Path: path, Message: err.Error()}
	}
	v, ok := Lookup(tree, path)
	if !ok {
		return nil, &Warning{Path: path, Message: "variable is not defined"}
	}
	return v, nil
}

// Stringify renders a value the way it appears inside text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case Undefined:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Materialize resolves templates in every string under v, walking maps
// and slices. Single-reference strings keep their resolved type. v is not
// modified.
func Materialize(v any, tree map[string]any) (any, []Warning) {
	return materialize(v, tree, ResolveTemplate)
}

// MaterializeText is Materialize with every resolved string kept as text,
// so the result still decodes into the original typed configuration.
func MaterializeText(v any, tree map[string]any) (any, []Warning) {
	return materialize(v, tree, func(s string, tree map[string]any) (any, []Warning) {
		return ResolveString(s, tree)
	})
}

func materialize(v any, tree map[string]any, resolve func(string, map[string]any) (any, []Warning)) (any, []Warning) {
	switch val := v.(type) {
	case string:
		return resolve(val, tree)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var warnings []Warning
		out := make(map[string]any, len(val))
		for _, k := range keys {
			r, w := materialize(val[k], tree, resolve)
			out[k] = r
			warnings = append(warnings, w...)
		}
		return out, warnings
	case []any:
		var warnings []Warning
		out := make([]any, len(val))
		for i, item := range val {
			r, w := materialize(item, tree, resolve)
			out[i] = r
			warnings = append(warnings, w...)
		}
		return out, warnings
	}
	return v, nil
}
