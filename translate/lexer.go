package translate

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokIdent tokenKind = iota + 1
	tokQuotedIdent
	tokString
	tokNumber
	tokDate
	tokParam
	tokOp
)

// token is one lexical unit of a statement. value holds the unquoted text
// of identifiers, strings and date literals.
type token struct {
	kind  tokenKind
	text  string
	value string
	pos   int
	space bool
	// fixed tokens are engine text produced by a rule and are never resolved
	// as identifiers.
	fixed bool
	// alias marks an identifier defining an alias.
	alias bool
	// param is the 0-based ordinal of a parameter token.
	param int
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (t token) isOp(op string) bool {
	return t.kind == tokOp && t.text == op
}

func (t token) isName() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

// name is the identifier text without quoting.
func (t token) name() string {
	if t.kind == tokQuotedIdent {
		return t.value
	}
	return t.text
}

func word(text string) token {
	return token{kind: tokIdent, text: text, space: true, fixed: true}
}

func op(text string) token {
	return token{kind: tokOp, text: text, space: true}
}

func ident(name string) token {
	return token{kind: tokQuotedIdent, text: "[" + name + "]", value: name, space: true}
}

func str(value string) token {
	return token{kind: tokString, text: quoteString(value), value: value, space: true}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var twoCharOps = []string{"<>", "<=", ">=", "!=", "==", "||"}

// lex splits sql into tokens, dropping comments.
func lex(sql string) ([]token, error) {
	var toks []token
	space := false
	params := 0
	i := 0
	for i < len(sql) {
		r, size := utf8.DecodeRuneInString(sql[i:])
		start := i
		switch {
		case unicode.IsSpace(r):
			space = true
			i += size
			continue

		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			i += end
			space = true
			continue

		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, &TranslationError{SQL: sql, Pos: i, Reason: "unterminated comment"}
			}
			i += end + 4
			space = true
			continue

		case r == '\'' || r == '"':
			value, n, ok := scanQuoted(sql[i:], byte(r))
			if !ok {
				return nil, &TranslationError{SQL: sql, Pos: i, Reason: "unterminated string"}
			}
			i += n
			toks = append(toks, token{kind: tokString, text: sql[start:i], value: value, pos: start, space: space})

		case r == '[':
			end := strings.IndexByte(sql[i:], ']')
			if end < 0 {
				return nil, &TranslationError{SQL: sql, Pos: i, Reason: "unterminated [identifier]"}
			}
			i += end + 1
			toks = append(toks, token{kind: tokQuotedIdent, text: sql[start:i], value: sql[start+1 : i-1], pos: start, space: space})

		case r == '`':
			end := strings.IndexByte(sql[i+1:], '`')
			if end < 0 {
				return nil, &TranslationError{SQL: sql, Pos: i, Reason: "unterminated `identifier`"}
			}
			i += end + 2
			toks = append(toks, token{kind: tokQuotedIdent, text: sql[start:i], value: sql[start+1 : i-1], pos: start, space: space})

		case r == '#' && dateLiteralAhead(sql[i:]):
			end := strings.IndexByte(sql[i+1:], '#')
			i += end + 2
			toks = append(toks, token{kind: tokDate, text: sql[start:i], value: strings.TrimSpace(sql[start+1 : i-1]), pos: start, space: space})

		case r == '?':
			i++
			toks = append(toks, token{kind: tokParam, text: "?", pos: start, space: space, param: params})
			params++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			i += scanNumber(sql[i:])
			toks = append(toks, token{kind: tokNumber, text: sql[start:i], pos: start, space: space})

		case unicode.IsLetter(r) || r == '_' || r == '$':
			for i < len(sql) {
				r, size = utf8.DecodeRuneInString(sql[i:])
				if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$') {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokIdent, text: sql[start:i], pos: start, space: space})

		default:
			text := string(r)
			for _, two := range twoCharOps {
				if strings.HasPrefix(sql[i:], two) {
					text = two
					break
				}
			}
			i += len(text)
			toks = append(toks, token{kind: tokOp, text: text, pos: start, space: space})
		}
		space = false
	}
	return toks, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// scanQuoted reads a literal opened by q, where a doubled q escapes itself.
func scanQuoted(s string, q byte) (string, int, bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != q {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			b.WriteByte(q)
			i++
			continue
		}
		return b.String(), i + 1, true
	}
	return "", 0, false
}

func scanNumber(s string) int {
	i := 0
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		i = 2
		for i < len(s) && strings.IndexByte("0123456789abcdefABCDEF", s[i]) >= 0 {
			i++
		}
		return i
	}
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

// dateLiteralAhead reports whether s opens a #...# date literal, closed on
// the same line.
func dateLiteralAhead(s string) bool {
	end := strings.IndexByte(s[1:], '#')
	if end <= 0 {
		return false
	}
	body := s[1 : end+1]
	return strings.TrimSpace(body) != "" && !strings.ContainsAny(body, "\n'\"")
}

// render joins tokens back into SQL text. Parameters are numbered so that a
// rule may repeat them.
func render(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && t.space {
			b.WriteByte(' ')
		}
		if t.kind == tokParam {
			b.WriteString("?")
			b.WriteString(strconv.Itoa(t.param + 1))
			continue
		}
		b.WriteString(t.text)
	}
	return b.String()
}

// matching returns the index of the token closing the parenthesis at open,
// or -1.
func matching(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].isOp("("):
			depth++
		case toks[i].isOp(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits toks at commas outside parentheses.
func splitTop(toks []token) [][]token {
	var parts [][]token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.isOp("("):
			depth++
		case t.isOp(")"):
			depth--
		case t.isOp(",") && depth == 0:
			parts = append(parts, toks[start:i])
			start = i + 1
		}
	}
	return append(parts, toks[start:])
}

// findTop returns the index of the first bare word among words at depth 0
// of toks[from:], or -1.
func findTop(toks []token, from int, words ...string) int {
	depth := 0
	for i := from; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.isOp("("):
			depth++
		case t.isOp(")"):
			depth--
			if depth < 0 {
				return -1
			}
		case depth == 0 && t.kind == tokIdent:
			for _, w := range words {
				if t.is(w) {
					return i
				}
			}
		}
	}
	return -1
}

func cloneTokens(toks []token) []token {
	return append([]token(nil), toks...)
}

// splice replaces toks[from:to] with repl.
func splice(toks []token, from, to int, repl ...token) []token {
	out := make([]token, 0, len(toks)-(to-from)+len(repl))
	out = append(out, toks[:from]...)
	out = append(out, repl...)
	return append(out, toks[to:]...)
}
