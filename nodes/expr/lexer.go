package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	// Literals and identifiers
	TokenIdent  TokenKind = iota // identifier
	TokenNumber                  // numeric literal
	TokenString                  // string literal

	// Comparison and logic
	TokenEq         // == or ===
	TokenNeq        // != or !==
	TokenGt         // >
	TokenGte        // >=
	TokenLt         // <
	TokenLte        // <=
	TokenAnd        // &&
	TokenOr         // ||
	TokenNot        // !
	TokenNullCoal   // ??
	TokenIn         // in
	TokenHas        // has
	TokenContains   // contains
	TokenStartsWith // startsWith
	TokenEndsWith   // endsWith
	TokenMatches    // matches

	// Arithmetic
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenPct   // %

	// Delimiters
	TokenDot       // .
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLParen    // (
	TokenRParen    // )
	TokenComma     // ,
	TokenOpenTmpl  // {{
	TokenCloseTmpl // }}

	// Special
	TokenTrue  // true
	TokenFalse // false
	TokenNull  // null
	TokenEOF
)

var tokenNames = map[TokenKind]string{
	TokenIdent:      "identifier",
	TokenNumber:     "number",
	TokenString:     "string",
	TokenEq:         "==",
	TokenNeq:        "!=",
	TokenGt:         ">",
	TokenGte:        ">=",
	TokenLt:         "<",
	TokenLte:        "<=",
	TokenAnd:        "&&",
	TokenOr:         "||",
	TokenNot:        "!",
	TokenNullCoal:   "??",
	TokenIn:         "in",
	TokenHas:        "has",
	TokenContains:   "contains",
	TokenStartsWith: "startsWith",
	TokenEndsWith:   "endsWith",
	TokenMatches:    "matches",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPct:        "%",
	TokenDot:        ".",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenComma:      ",",
	TokenOpenTmpl:   "{{",
	TokenCloseTmpl:  "}}",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenNull:       "null",
	TokenEOF:        "EOF",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with position information.
type Token struct {
	Kind  TokenKind
	Value string // raw text, or the decoded contents for strings
	Pos   int    // byte offset in source
}

// keywords maps reserved words to their token kinds. "and", "or" and
// "not" are accepted for expressions written by non-programmers.
var keywords = map[string]TokenKind{
	"in":         TokenIn,
	"has":        TokenHas,
	"contains":   TokenContains,
	"startsWith": TokenStartsWith,
	"endsWith":   TokenEndsWith,
	"matches":    TokenMatches,
	"true":       TokenTrue,
	"false":      TokenFalse,
	"null":       TokenNull,
	"undefined":  TokenNull,
	"and":        TokenAnd,
	"or":         TokenOr,
	"not":        TokenNot,
}

// operators is tried longest first.
var operators = []struct {
	text string
	kind TokenKind
}{
	{"===", TokenEq},
	{"!==", TokenNeq},
	{"==", TokenEq},
	{"!=", TokenNeq},
	{">=", TokenGte},
	{"<=", TokenLte},
	{"&&", TokenAnd},
	{"||", TokenOr},
	{"??", TokenNullCoal},
	{"{{", TokenOpenTmpl},
	{"}}", TokenCloseTmpl},
	{">", TokenGt},
	{"<", TokenLt},
	{"!", TokenNot},
	{"+", TokenPlus},
	{"-", TokenMinus},
	{"*", TokenStar},
	{"/", TokenSlash},
	{"%", TokenPct},
	{".", TokenDot},
	{"[", TokenLBracket},
	{"]", TokenRBracket},
	{"(", TokenLParen},
	{")", TokenRParen},
	{",", TokenComma},
}

// Lex tokenizes src.
func Lex(src string) ([]Token, error) {
	var tokens []Token
	pos := 0
	for {
		for pos < len(src) {
			ch, size := utf8.DecodeRuneInString(src[pos:])
			if !unicode.IsSpace(ch) {
				break
			}
			pos += size
		}
		if pos >= len(src) {
			return append(tokens, Token{Kind: TokenEOF, Pos: pos}), nil
		}

		ch, _ := utf8.DecodeRuneInString(src[pos:])
		switch {
		case ch == '"' || ch == '\'':
			tok, next, err := lexString(src, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			pos = next
			continue
		case isDigit(ch):
			tok, next := lexNumber(src, pos)
			tokens = append(tokens, tok)
			pos = next
			continue
		case isIdentStart(ch):
			tok, next := lexIdent(src, pos)
			tokens = append(tokens, tok)
			pos = next
			continue
		}

		matched := false
		for _, op := range operators {
			if strings.HasPrefix(src[pos:], op.text) {
				tokens = append(tokens, Token{Kind: op.kind, Value: op.text, Pos: pos})
				pos += len(op.text)
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), pos)
		}
	}
}

func lexString(src string, start int) (Token, int, error) {
	quote := src[start]
	pos := start + 1
	var sb strings.Builder

	for pos < len(src) {
		ch := src[pos]
		switch {
		case ch == '\\':
			pos++
			if pos >= len(src) {
				return Token{}, 0, fmt.Errorf("unterminated string at position %d", start)
			}
			switch esc := src[pos]; esc {
			case '"', '\'', '\\', '/':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(esc)
			}
			pos++
		case ch == quote:
			return Token{Kind: TokenString, Value: sb.String(), Pos: start}, pos + 1, nil
		default:
			sb.WriteByte(ch)
			pos++
		}
	}
	return Token{}, 0, fmt.Errorf("unterminated string at position %d", start)
}

func lexNumber(src string, start int) (Token, int) {
	pos := start
	for pos < len(src) && isDigit(rune(src[pos])) {
		pos++
	}
	if pos+1 < len(src) && src[pos] == '.' && isDigit(rune(src[pos+1])) {
		pos++
		for pos < len(src) && isDigit(rune(src[pos])) {
			pos++
		}
	}
	return Token{Kind: TokenNumber, Value: src[start:pos], Pos: start}, pos
}

func lexIdent(src string, start int) (Token, int) {
	pos := start
	for pos < len(src) {
		ch, size := utf8.DecodeRuneInString(src[pos:])
		if !isIdentPart(ch) {
			break
		}
		pos += size
	}
	word := src[start:pos]
	kind := TokenIdent
	if kw, ok := keywords[word]; ok {
		kind = kw
	}
	return Token{Kind: kind, Value: word, Pos: start}, pos
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || ch == '$' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || ch == '$' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
