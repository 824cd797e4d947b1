package expr

import (
	"fmt"
	"strconv"
)

// Parse parses an expression string into an AST.
func Parse(input string) (Expr, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	e, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Kind != TokenEOF {
		return nil, fmt.Errorf("unexpected token %s at position %d", tok.Kind, tok.Pos)
	}
	return e, nil
}

// binaryLevels lists binary operators from loosest to tightest binding.
// Membership operators do not chain: "a in b in c" is rejected.
var binaryLevels = []struct {
	ops   []TokenKind
	chain bool
}{
	{[]TokenKind{TokenNullCoal}, true},
	{[]TokenKind{TokenOr}, true},
	{[]TokenKind{TokenAnd}, true},
	{[]TokenKind{TokenEq, TokenNeq}, true},
	{[]TokenKind{TokenGt, TokenGte, TokenLt, TokenLte}, true},
	{[]TokenKind{TokenIn, TokenHas, TokenContains, TokenStartsWith, TokenEndsWith, TokenMatches}, false},
	{[]TokenKind{TokenPlus, TokenMinus}, true},
	{[]TokenKind{TokenStar, TokenSlash, TokenPct}, true},
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.current()
	if tok.Kind != kind {
		return tok, fmt.Errorf("expected %s but got %s at position %d", kind, tok.Kind, tok.Pos)
	}
	p.advance()
	return tok, nil
}

func (p *parser) atOneOf(kinds []TokenKind) bool {
	cur := p.current().Kind
	for _, k := range kinds {
		if cur == k {
			return true
		}
	}
	return false
}

// parseBinary parses the operators at binaryLevels[level] and tighter.
func (p *parser) parseBinary(level int) (Expr, error) {
	if level >= len(binaryLevels) {
		return p.parseUnary()
	}
	lvl := binaryLevels[level]
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for p.atOneOf(lvl.ops) {
		op := p.advance()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Kind, Right: right}
		if !lvl.chain {
			break
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.current().Kind {
	case TokenNot, TokenMinus:
		op := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*LiteralExpr); ok && op.Kind == TokenMinus {
			if f, isNum := lit.Value.(float64); isNum {
				return &LiteralExpr{Value: -f}, nil
			}
		}
		return &UnaryExpr{Op: op.Kind, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current().Kind {
		case TokenDot:
			p.advance()
			tok := p.current()
			// keywords are fine as property names (input.has, row.in)
			if tok.Kind != TokenIdent && !isKeywordToken(tok.Kind) {
				return nil, fmt.Errorf("expected property name but got %s at position %d", tok.Kind, tok.Pos)
			}
			p.advance()
			e = &MemberExpr{Object: e, Property: tok.Value}

		case TokenLBracket:
			p.advance()
			index, err := p.parseBinary(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			e = &IndexExpr{Object: e, Index: index}

		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.current()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.Value, tok.Pos)
		}
		return &LiteralExpr{Value: val}, nil

	case TokenString:
		p.advance()
		return &LiteralExpr{Value: tok.Value}, nil

	case TokenTrue, TokenFalse:
		p.advance()
		return &LiteralExpr{Value: tok.Kind == TokenTrue}, nil

	case TokenNull:
		p.advance()
		return &LiteralExpr{Value: nil}, nil

	case TokenIdent:
		p.advance()
		return &IdentExpr{Name: tok.Value}, nil

	case TokenLParen:
		return p.parseGroup(TokenRParen)

	case TokenOpenTmpl:
		// {{ path }} inside an expression is the path itself.
		return p.parseGroup(TokenCloseTmpl)

	case TokenLBracket:
		return p.parseArrayLiteral()

	default:
		return nil, fmt.Errorf("unexpected token %s at position %d", tok.Kind, tok.Pos)
	}
}

func (p *parser) parseGroup(closer TokenKind) (Expr, error) {
	p.advance()
	e, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(closer); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *parser) parseArrayLiteral() (Expr, error) {
	p.advance() // [
	arr := &ArrayLiteral{}
	if p.current().Kind == TokenRBracket {
		p.advance()
		return arr, nil
	}
	for {
		elem, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, elem)
		if p.current().Kind != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return arr, nil
}

func isKeywordToken(kind TokenKind) bool {
	switch kind {
	case TokenIn, TokenHas, TokenContains, TokenStartsWith, TokenEndsWith,
		TokenMatches, TokenTrue, TokenFalse, TokenNull, TokenAnd, TokenOr, TokenNot:
		return true
	}
	return false
}
