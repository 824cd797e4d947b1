// Package expr is a small, safe expression language for branch conditions
// and data operations. Expressions are stateless and side-effect-free: they
// read variables, compare, combine and compute, and nothing else.
//
// Supported syntax, loosest binding first:
//
//	a ?? b                          null coalescing
//	a || b, a or b                  logical or
//	a && b, a and b                 logical and
//	a == b, a != b (=== and !==)    equality with numeric normalization
//	a < b, a <= b, a > b, a >= b    numeric or string ordering
//	a in b, a has "k", a contains b, a startsWith b, a endsWith b, a matches "re"
//	a + b, a - b                    arithmetic; + concatenates strings
//	a * b, a / b, a % b
//	!a, not a, -a
//	a.b, a[0], a["k"], a.length, {{ a.b }}
package expr

import "sync"

// programCache holds parsed expressions keyed by source text.
var programCache sync.Map

// Compile parses source, reusing an earlier parse of the same text.
func Compile(source string) (Expr, error) {
	if cached, ok := programCache.Load(source); ok {
		return cached.(Expr), nil
	}
	e, err := Parse(source)
	if err != nil {
		return nil, err
	}
	programCache.Store(source, e)
	return e, nil
}

// Evaluate compiles source and evaluates it against vars.
func Evaluate(source string, vars map[string]any) (any, error) {
	e, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return Eval(e, vars)
}

// EvaluateBool evaluates source and reads the result as a boolean.
func EvaluateBool(source string, vars map[string]any) (bool, error) {
	v, err := Evaluate(source, vars)
	if err != nil {
		return false, err
	}
	return IsTruthy(v), nil
}

// ValidateSyntax checks whether an expression string is syntactically valid.
// Returns nil if valid, or a parse error describing the problem.
func ValidateSyntax(expression string) error {
	_, err := Parse(expression)
	return err
}
