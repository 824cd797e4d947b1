package expr

import (
	"errors"
	"testing"
)

// evalExpr is a parse-then-eval helper.
func evalExpr(t *testing.T, input string, vars map[string]any) any {
	t.Helper()
	ast, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", input, err)
	}
	result, err := Eval(ast, vars)
	if err != nil {
		t.Fatalf("Eval(%q) unexpected error: %v", input, err)
	}
	return result
}

func assertBool(t *testing.T, label string, got any, want bool) {
	t.Helper()
	b, ok := got.(bool)
	if !ok {
		t.Fatalf("%s: expected bool, got %T (%v)", label, got, got)
	}
	if b != want {
		t.Fatalf("%s: got %v, want %v", label, b, want)
	}
}

func assertFloat64(t *testing.T, label string, got any, want float64) {
	t.Helper()
	f, ok := got.(float64)
	if !ok {
		t.Fatalf("%s: expected float64, got %T (%v)", label, got, got)
	}
	if f != want {
		t.Fatalf("%s: got %v, want %v", label, f, want)
	}
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

func TestLex_Operators(t *testing.T) {
	tests := []struct {
		input string
		want  TokenKind
	}{
		{"==", TokenEq},
		{"===", TokenEq},
		{"!=", TokenNeq},
		{"!==", TokenNeq},
		{">=", TokenGte},
		{"<", TokenLt},
		{"&&", TokenAnd},
		{"||", TokenOr},
		{"??", TokenNullCoal},
		{"+", TokenPlus},
		{"-", TokenMinus},
		{"%", TokenPct},
		{"{{", TokenOpenTmpl},
		{"}}", TokenCloseTmpl},
	}
	for _, tt := range tests {
		toks, err := Lex(tt.input)
		if err != nil {
			t.Fatalf("Lex(%q): %v", tt.input, err)
		}
		if len(toks) != 2 || toks[0].Kind != tt.want {
			t.Errorf("Lex(%q) = %v, want single %s", tt.input, toks, tt.want)
		}
	}
}

func TestLex_Strings(t *testing.T) {
	toks, err := Lex(`"a\"b" 'c\'d'`)
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if toks[0].Value != `a"b` || toks[1].Value != `c'd` {
		t.Errorf("got %q and %q", toks[0].Value, toks[1].Value)
	}
}

func TestLex_Errors(t *testing.T) {
	for _, input := range []string{`"open`, `'open\`, "a # b", "a & b"} {
		if _, err := Lex(input); err == nil {
			t.Errorf("Lex(%q): expected error", input)
		}
	}
}

func TestLex_NumberThenMember(t *testing.T) {
	toks, err := Lex("items.0")
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if toks[0].Kind != TokenIdent || toks[1].Kind != TokenDot || toks[2].Kind != TokenNumber {
		t.Errorf("unexpected tokens %v", toks)
	}
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a || b && c", "(a || (b && c))"},
		{"a == b > c", "(a == (b > c))"},
		{"a + b * c", "(a + (b * c))"},
		{"a > b + 1", "(a > (b + 1))"},
		{"!a == b", "((!a) == b)"},
		{"a ?? b || c", "(a ?? (b || c))"},
		{"(a + b) * c", "((a + b) * c)"},
		{"-3 + x", "(-3 + x)"},
		{"a - -b", "(a - (-b))"},
		{"x in [1, 2]", "(x in [1, 2])"},
	}
	for _, tt := range tests {
		ast, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.input, err)
		}
		if got := ast.String(); got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParse_TemplateReference(t *testing.T) {
	ast, err := Parse("{{ input.amount }} > 5000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := ast.String(); got != "(input.amount > 5000)" {
		t.Errorf("got %s", got)
	}
}

func TestParse_KeywordAsProperty(t *testing.T) {
	ast, err := Parse("row.in && row.has")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := ast.String(); got != "(row.in && row.has)" {
		t.Errorf("got %s", got)
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"a >",
		"(a",
		"{{ a",
		"a b",
		"a.",
		"[1, 2",
		"a in b in c",
	} {
		if err := ValidateSyntax(input); err == nil {
			t.Errorf("ValidateSyntax(%q): expected error", input)
		}
	}
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

func TestEval_Comparisons(t *testing.T) {
	vars := map[string]any{"amount": float64(8500), "name": "bob"}
	assertBool(t, "gt", evalExpr(t, "amount > 5000", vars), true)
	assertBool(t, "lte", evalExpr(t, "amount <= 5000", vars), false)
	assertBool(t, "string order", evalExpr(t, `name < "carol"`, vars), true)
	assertBool(t, "strict eq", evalExpr(t, "amount === 8500", vars), true)
	assertBool(t, "mixed types", evalExpr(t, `amount > "x"`, vars), false)
	assertBool(t, "int normalization", evalExpr(t, "n == 3", map[string]any{"n": 3}), true)
}

func TestEval_Logic(t *testing.T) {
	vars := map[string]any{"a": true, "b": false, "zero": float64(0)}
	assertBool(t, "and", evalExpr(t, "a && b", vars), false)
	assertBool(t, "or", evalExpr(t, "a or b", vars), true)
	assertBool(t, "not", evalExpr(t, "not zero", vars), true)
	assertBool(t, "undefined is falsy", evalExpr(t, "!missing", vars), true)
}

func TestEval_ShortCircuit(t *testing.T) {
	// right side would fail with division by zero if evaluated
	assertBool(t, "and", evalExpr(t, "false && 1 / 0", nil), false)
	assertBool(t, "or", evalExpr(t, "true || 1 / 0", nil), true)
}

func TestEval_Arithmetic(t *testing.T) {
	vars := map[string]any{"price": float64(12.5), "qty": 4}
	assertFloat64(t, "mul", evalExpr(t, "price * qty", vars), 50)
	assertFloat64(t, "sub", evalExpr(t, "qty - 10", vars), -6)
	assertFloat64(t, "mod", evalExpr(t, "7 % 4", vars), 3)
	assertFloat64(t, "neg", evalExpr(t, "-price", vars), -12.5)

	if got := evalExpr(t, `"order-" + qty`, vars); got != "order-4" {
		t.Errorf("concat: got %v", got)
	}
}

func TestEval_ArithmeticErrors(t *testing.T) {
	_, err := Evaluate("1 / 0", nil)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("1 / 0: err = %v, want ErrDivisionByZero", err)
	}
	if _, err := Evaluate("true * 2", nil); err == nil {
		t.Error("true * 2: expected error")
	}
}

func TestEval_MemberAndIndex(t *testing.T) {
	vars := map[string]any{
		"input": map[string]any{
			"items": []any{map[string]any{"sku": "A1"}, map[string]any{"sku": "B2"}},
			"tags":  []any{"vip", "eu"},
		},
	}
	if got := evalExpr(t, "input.items[1].sku", vars); got != "B2" {
		t.Errorf("index: got %v", got)
	}
	assertFloat64(t, "length", evalExpr(t, "input.items.length", vars), 2)
	if got := evalExpr(t, "input.items[9]", vars); got != nil {
		t.Errorf("out of range: got %v", got)
	}
	if got := evalExpr(t, "input.missing.deeper", vars); got != nil {
		t.Errorf("missing path: got %v", got)
	}
	assertBool(t, "contains element", evalExpr(t, `input.tags contains "vip"`, vars), true)
	assertBool(t, "in", evalExpr(t, `"eu" in input.tags`, vars), true)
	assertBool(t, "has", evalExpr(t, `input has "tags"`, vars), true)
}

func TestEval_StringOperators(t *testing.T) {
	vars := map[string]any{"email": "ops@example.com"}
	assertBool(t, "startsWith", evalExpr(t, `email startsWith "ops"`, vars), true)
	assertBool(t, "endsWith", evalExpr(t, `email endsWith ".org"`, vars), false)
	assertBool(t, "matches", evalExpr(t, `email matches "^[a-z]+@"`, vars), true)
	if _, err := Evaluate(`email matches "("`, vars); err == nil {
		t.Error("invalid regex: expected error")
	}
}

func TestEval_NullCoalescing(t *testing.T) {
	if got := evalExpr(t, `missing ?? "fallback"`, nil); got != "fallback" {
		t.Errorf("got %v", got)
	}
	assertFloat64(t, "present", evalExpr(t, "n ?? 1", map[string]any{"n": float64(0)}), 0)
}

func TestIsTruthy(t *testing.T) {
	falsy := []any{nil, false, float64(0), 0, "", []any{}, map[string]any{}}
	for _, v := range falsy {
		if IsTruthy(v) {
			t.Errorf("IsTruthy(%#v) = true", v)
		}
	}
	truthy := []any{true, float64(1), "x", []any{1}, map[string]any{"a": 1}}
	for _, v := range truthy {
		if !IsTruthy(v) {
			t.Errorf("IsTruthy(%#v) = false", v)
		}
	}
}

func TestCompile_Caches(t *testing.T) {
	a, err := Compile("x > 1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, _ := Compile("x > 1")
	if a != b {
		t.Error("expected the cached AST to be reused")
	}
	ok, err := EvaluateBool("x > 1", map[string]any{"x": float64(2)})
	if err != nil || !ok {
		t.Errorf("EvaluateBool = %v, %v", ok, err)
	}
}
