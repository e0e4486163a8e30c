// internal/rules/lexer.go
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Query tokenizer.
 *
 * Token classes are tried in a fixed order at every position: separators,
 * IPv4 literals, IPv6 literals, floats, integers, quoted strings, symbol
 * operators (longest first), then words. A word is either a keyword spelled
 * fully lower or fully upper case, or a variable path.
 *
 * Address literals carry an optional range suffix ("/nn", "-addr" or
 * "..addr") and are kept as text; the compiler turns them into addresses.
 * Negative numbers are not literals: write "0 - x".
 */

// TokenKind classifies a token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokComma
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokIPv4
	TokIPv6
	TokFloat
	TokInt
	TokString
	TokVariable
	TokAnd
	TokOr
	TokXor
	TokSymAnd
	TokSymOr
	TokSymXor
	TokNot
	TokExists
	TokCompare
	TokAdd
	TokSub
	TokMul
	TokDiv
	TokMod
)

// Token is one lexeme with its source position.
type Token struct {
	Kind    TokenKind
	Text    string
	Compare CompareOp
	Line    int
	Col     int
}

// SyntaxError reports a lex or parse failure at a source position.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

// Unwrap makes errors.Is(err, types.ErrSyntax) hold.
func (e *SyntaxError) Unwrap() error { return types.ErrSyntax }

const (
	ipv4Pat = `\d{1,3}(?:\.\d{1,3}){3}`
	ipv6Pat = `[0-9A-Fa-f]{0,4}(?::[0-9A-Fa-f]{0,4}){2,7}`
)

var (
	ipv4Regex   = regexp.MustCompile(`^` + ipv4Pat + `(?:/\d{1,2}|(?:-|\.\.)` + ipv4Pat + `)?`)
	ipv6Regex   = regexp.MustCompile(`^` + ipv6Pat + `(?:/\d{1,3}|(?:-|\.\.)` + ipv6Pat + `)?`)
	floatRegex  = regexp.MustCompile(`^\d+\.\d+`)
	intRegex    = regexp.MustCompile(`^\d+`)
	stringRegex = regexp.MustCompile(`^(?:"[^"]*"|'[^']*')`)
	wordRegex   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(?:\[(?:\d+|#|\*)\])?(?:\.[A-Za-z_][A-Za-z0-9_]*(?:\[(?:\d+|#|\*)\])?)*`)
)

type symbol struct {
	text    string
	kind    TokenKind
	compare CompareOp
}

// symbols is ordered longest first so "<=" wins over "<".
var symbols = []symbol{
	{text: "&&", kind: TokSymAnd},
	{text: "||", kind: TokSymOr},
	{text: "^^", kind: TokSymXor},
	{text: "=~", kind: TokCompare, compare: OpLike},
	{text: "~~", kind: TokCompare, compare: OpIn},
	{text: "==", kind: TokCompare, compare: OpEq},
	{text: "!=", kind: TokCompare, compare: OpNe},
	{text: "<>", kind: TokCompare, compare: OpNe},
	{text: ">=", kind: TokCompare, compare: OpGe},
	{text: "<=", kind: TokCompare, compare: OpLe},
	{text: ">", kind: TokCompare, compare: OpGt},
	{text: "<", kind: TokCompare, compare: OpLt},
	{text: "!", kind: TokNot},
	{text: "?", kind: TokExists},
	{text: "+", kind: TokAdd},
	{text: "-", kind: TokSub},
	{text: "*", kind: TokMul},
	{text: "/", kind: TokDiv},
	{text: "%", kind: TokMod},
	{text: "(", kind: TokLParen},
	{text: ")", kind: TokRParen},
	{text: "[", kind: TokLBracket},
	{text: "]", kind: TokRBracket},
}

var keywords = map[string]symbol{
	"and":    {kind: TokAnd},
	"or":     {kind: TokOr},
	"xor":    {kind: TokXor},
	"not":    {kind: TokNot},
	"exists": {kind: TokExists},
	"like":   {kind: TokCompare, compare: OpLike},
	"in":     {kind: TokCompare, compare: OpIn},
	"is":     {kind: TokCompare, compare: OpIs},
	"eq":     {kind: TokCompare, compare: OpEq},
	"ne":     {kind: TokCompare, compare: OpNe},
	"gt":     {kind: TokCompare, compare: OpGt},
	"ge":     {kind: TokCompare, compare: OpGe},
	"lt":     {kind: TokCompare, compare: OpLt},
	"le":     {kind: TokCompare, compare: OpLe},
}

// Lex splits a query into tokens, ending with a TokEOF token.
func Lex(input string) ([]Token, error) {
	if len(input) > types.MaxQueryLength {
		return nil, &SyntaxError{Line: 1, Col: 1, Msg: fmt.Sprintf("query longer than %d bytes", types.MaxQueryLength)}
	}

	var tokens []Token
	line, lineStart := 1, 0
	pos := 0

	for pos < len(input) {
		c := input[pos]
		col := pos - lineStart + 1

		switch c {
		case '\n':
			pos++
			line++
			lineStart = pos
			continue
		case ' ', '\t', '\r':
			pos++
			continue
		case ',', ';':
			tokens = append(tokens, Token{Kind: TokComma, Text: string(c), Line: line, Col: col})
			pos++
			continue
		}

		rest := input[pos:]
		emit := func(kind TokenKind, text string) {
			tokens = append(tokens, Token{Kind: kind, Text: text, Line: line, Col: col})
			pos += len(text)
		}

		if m := ipv4Regex.FindString(rest); m != "" && !continuesWord(rest, len(m)) {
			emit(TokIPv4, m)
			continue
		}
		if m := ipv6Regex.FindString(rest); m != "" && strings.Count(m, ":") >= 2 && !continuesWord(rest, len(m)) {
			emit(TokIPv6, m)
			continue
		}
		if m := floatRegex.FindString(rest); m != "" {
			emit(TokFloat, m)
			continue
		}
		if m := intRegex.FindString(rest); m != "" {
			emit(TokInt, m)
			continue
		}
		if m := stringRegex.FindString(rest); m != "" {
			tokens = append(tokens, Token{Kind: TokString, Text: m[1 : len(m)-1], Line: line, Col: col})
			pos += len(m)
			line += strings.Count(m, "\n")
			if i := strings.LastIndexByte(m, '\n'); i >= 0 {
				lineStart = pos - len(m) + i + 1
			}
			continue
		}
		if c == '"' || c == '\'' {
			return nil, &SyntaxError{Line: line, Col: col, Msg: "unterminated string"}
		}
		if sym, ok := matchSymbol(rest); ok {
			tokens = append(tokens, Token{Kind: sym.kind, Text: sym.text, Compare: sym.compare, Line: line, Col: col})
			pos += len(sym.text)
			continue
		}
		if m := wordRegex.FindString(rest); m != "" {
			tok := Token{Kind: TokVariable, Text: m, Line: line, Col: col}
			if kw, ok := keyword(m); ok {
				tok.Kind = kw.kind
				tok.Compare = kw.compare
			}
			tokens = append(tokens, tok)
			pos += len(m)
			continue
		}

		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unexpected character %q", c)}
	}

	tokens = append(tokens, Token{Kind: TokEOF, Line: line, Col: pos - lineStart + 1})
	return tokens, nil
}

func matchSymbol(rest string) (symbol, bool) {
	for _, s := range symbols {
		if strings.HasPrefix(rest, s.text) {
			return s, true
		}
	}
	return symbol{}, false
}

// keyword recognises "and" and "AND" but not "And".
func keyword(word string) (symbol, bool) {
	lower := strings.ToLower(word)
	if word != lower && word != strings.ToUpper(word) {
		return symbol{}, false
	}
	kw, ok := keywords[lower]
	if ok {
		kw.text = word
	}
	return kw, ok
}

// continuesWord reports whether an address match is really the prefix of a
// longer identifier or number.
func continuesWord(rest string, n int) bool {
	if n >= len(rest) {
		return false
	}
	c := rest[n]
	return c == '_' || c == '.' || c == ':' ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
