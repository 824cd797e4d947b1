package expr

import (
	"fmt"
	"strings"
)

// Expr is the interface implemented by all AST nodes.
type Expr interface {
	expr()
	String() string
}

// BinaryExpr is a binary operation such as a == b or a + b.
type BinaryExpr struct {
	Left  Expr
	Op    TokenKind
	Right Expr
}

// UnaryExpr is !a or -a.
type UnaryExpr struct {
	Op      TokenKind
	Operand Expr
}

// LiteralExpr is a number (float64), string, bool, or null (nil).
type LiteralExpr struct {
	Value any
}

// IdentExpr is a top-level variable name.
type IdentExpr struct {
	Name string
}

// MemberExpr is property access, a.b.
type MemberExpr struct {
	Object   Expr
	Property string
}

// IndexExpr is subscript access, a[0] or a["key"].
type IndexExpr struct {
	Object Expr
	Index  Expr
}

// ArrayLiteral is an inline array, ["a", "b"].
type ArrayLiteral struct {
	Elements []Expr
}

func (*BinaryExpr) expr()   {}
func (*UnaryExpr) expr()    {}
func (*LiteralExpr) expr()  {}
func (*IdentExpr) expr()    {}
func (*MemberExpr) expr()   {}
func (*IndexExpr) expr()    {}
func (*ArrayLiteral) expr() {}

func (e *BinaryExpr) String() string { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *UnaryExpr) String() string  { return fmt.Sprintf("(%s%s)", e.Op, e.Operand) }
func (e *IdentExpr) String() string  { return e.Name }
func (e *MemberExpr) String() string { return fmt.Sprintf("%s.%s", e.Object, e.Property) }
func (e *IndexExpr) String() string  { return fmt.Sprintf("%s[%s]", e.Object, e.Index) }

func (e *LiteralExpr) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (e *ArrayLiteral) String() string {
	parts := make([]string, len(e.Elements))
	for i, el := range e.Elements {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
