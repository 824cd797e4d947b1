package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ErrDivisionByZero is returned for x / 0 and x % 0.
var ErrDivisionByZero = errors.New("division by zero")

// Eval evaluates a parsed expression against a variable map.
// Unknown identifiers and missing properties evaluate to nil.
func Eval(e Expr, vars map[string]any) (any, error) {
	ev := &evaluator{vars: vars}
	return ev.eval(e)
}

type evaluator struct {
	vars map[string]any
}

func (ev *evaluator) eval(e Expr) (any, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil

	case *IdentExpr:
		return ev.vars[n.Name], nil

	case *MemberExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		return accessMember(obj, n.Property), nil

	case *IndexExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return accessIndex(obj, idx)

	case *ArrayLiteral:
		out := make([]any, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ev.eval(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *UnaryExpr:
		val, err := ev.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case TokenNot:
			return !IsTruthy(val), nil
		case TokenMinus:
			f, ok := toFloat64(val)
			if !ok {
				return nil, fmt.Errorf("cannot negate %T", val)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("unknown unary operator %s", n.Op)

	case *BinaryExpr:
		return ev.evalBinary(n)
	}
	return nil, fmt.Errorf("unknown expression type %T", e)
}

func (ev *evaluator) evalBinary(n *BinaryExpr) (any, error) {
	left, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}

	// short-circuit forms
	switch n.Op {
	case TokenAnd:
		if !IsTruthy(left) {
			return false, nil
		}
		right, err := ev.eval(n.Right)
		return IsTruthy(right), err
	case TokenOr:
		if IsTruthy(left) {
			return true, nil
		}
		right, err := ev.eval(n.Right)
		return IsTruthy(right), err
	case TokenNullCoal:
		if left != nil {
			return left, nil
		}
		return ev.eval(n.Right)
	}

	right, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case TokenEq:
		return isEqual(left, right), nil
	case TokenNeq:
		return !isEqual(left, right), nil
	case TokenGt, TokenGte, TokenLt, TokenLte:
		cmp, ok := compare(left, right)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case TokenGt:
			return cmp > 0, nil
		case TokenGte:
			return cmp >= 0, nil
		case TokenLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case TokenIn:
		return checkIn(left, right), nil
	case TokenHas:
		return checkHas(left, right), nil
	case TokenContains:
		return checkContains(left, right), nil
	case TokenStartsWith:
		return stringPair(left, right, strings.HasPrefix), nil
	case TokenEndsWith:
		return stringPair(left, right, strings.HasSuffix), nil
	case TokenMatches:
		return checkMatches(left, right)
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPct:
		return arithmetic(n.Op, left, right)
	}
	return nil, fmt.Errorf("unknown binary operator %s", n.Op)
}

// IsTruthy reports the boolean reading of a value.
// Falsy: false, 0, "", null, empty array, empty object.
func IsTruthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if f, ok := toFloat64(val); ok {
		return f != 0 && !math.IsNaN(f)
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

func arithmetic(op TokenKind, left, right any) (any, error) {
	if op == TokenPlus {
		ls, lStr := left.(string)
		rs, rStr := right.(string)
		if lStr || rStr {
			if !lStr {
				ls = stringify(left)
			}
			if !rStr {
				rs = stringify(right)
			}
			return ls + rs, nil
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s needs numbers, got %T and %T", op, left, right)
	}
	switch op {
	case TokenPlus:
		return lf + rf, nil
	case TokenMinus:
		return lf - rf, nil
	case TokenStar:
		return lf * rf, nil
	case TokenSlash:
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return lf / rf, nil
	case TokenPct:
		if rf == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %s", op)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// isEqual follows reflect.DeepEqual semantics with numeric normalization.
func isEqual(a, b any) bool {
	af, aOK := toFloat64(a)
	bf, bOK := toFloat64(b)
	if aOK && bOK {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two strings. ok is false for anything else.
func compare(a, b any) (int, bool) {
	af, aOK := toFloat64(a)
	bf, bOK := toFloat64(b)
	if aOK && bOK {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func accessMember(obj any, prop string) any {
	if obj == nil {
		return nil
	}
	if prop == "length" {
		if n, ok := lengthOf(obj); ok {
			return n
		}
	}
	if m, ok := obj.(map[string]any); ok {
		return m[prop]
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		if val := rv.MapIndex(reflect.ValueOf(prop).Convert(rv.Type().Key())); val.IsValid() {
			return val.Interface()
		}
	}
	return nil
}

func lengthOf(obj any) (float64, bool) {
	switch v := obj.(type) {
	case string:
		return float64(len(v)), true
	case []any:
		return float64(len(v)), true
	case map[string]any:
		if _, shadowed := v["length"]; shadowed {
			return 0, false
		}
		return float64(len(v)), true
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		return float64(rv.Len()), true
	}
	return 0, false
}

func accessIndex(obj, idx any) (any, error) {
	if obj == nil {
		return nil, nil
	}
	if key, ok := idx.(string); ok {
		return accessMember(obj, key), nil
	}
	f, ok := toFloat64(idx)
	if !ok {
		return nil, fmt.Errorf("invalid index type %T", idx)
	}
	i := int(f)
	if arr, ok := obj.([]any); ok {
		if i < 0 || i >= len(arr) {
			return nil, nil
		}
		return arr[i], nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if i < 0 || i >= rv.Len() {
			return nil, nil
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, nil
}

func checkIn(left, right any) bool {
	if s, ok := right.(string); ok {
		ls, lok := left.(string)
		return lok && strings.Contains(s, ls)
	}
	rv := reflect.ValueOf(right)
	if right == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if isEqual(left, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func checkHas(left, right any) bool {
	key, ok := right.(string)
	if !ok || left == nil {
		return false
	}
	if m, ok := left.(map[string]any); ok {
		_, found := m[key]
		return found
	}
	return false
}

// checkContains works on strings (substring) and arrays (element).
func checkContains(left, right any) bool {
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		return rok && strings.Contains(ls, rs)
	}
	return checkIn(right, left)
}

func stringPair(left, right any, fn func(string, string) bool) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	return lok && rok && fn(ls, rs)
}

// regexCache caches compiled patterns for matches.
var regexCache sync.Map

func checkMatches(left, right any) (bool, error) {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return false, nil
	}
	if cached, ok := regexCache.Load(rs); ok {
		return cached.(*regexp.Regexp).MatchString(ls), nil
	}
	re, err := regexp.Compile(rs)
	if err != nil {
		return false, fmt.Errorf("invalid regex %q: %w", rs, err)
	}
	regexCache.Store(rs, re)
	return re.MatchString(ls), nil
}
