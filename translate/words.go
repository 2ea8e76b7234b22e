package translate

import "strings"

// sqlWords are the words that are syntax rather than names when written
// without brackets.
var sqlWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`SELECT FROM WHERE GROUP BY ORDER HAVING AND OR NOT NULL IS IN
LIKE GLOB BETWEEN AS ON JOIN INNER LEFT RIGHT OUTER FULL CROSS NATURAL UNION ALL DISTINCT
EXCEPT INTERSECT INSERT INTO VALUES UPDATE SET DELETE CASE WHEN THEN ELSE END EXISTS ASC DESC
LIMIT OFFSET WITH ESCAPE CAST COLLATE DEFAULT ROWID OID _ROWID_ CURRENT_DATE CURRENT_TIME
CURRENT_TIMESTAMP NULLS RECURSIVE`) {
		sqlWords[w] = true
	}
}

func isSQLWord(t token) bool {
	return t.kind == tokIdent && sqlWords[strings.ToUpper(t.text)]
}

// fixedTokens lexes engine text produced by a rule. The result is never
// resolved against the mirror.
func fixedTokens(sql string) []token {
	toks, err := lex(sql)
	if err != nil {
		panic("translate: bad fixed text " + sql)
	}
	for i := range toks {
		toks[i].fixed = true
	}
	if len(toks) > 0 {
		toks[0].space = true
	}
	return toks
}

func comma() token {
	return token{kind: tokOp, text: ",", fixed: true}
}

func dot() token {
	return token{kind: tokOp, text: ".", fixed: true}
}

// wrap parenthesizes toks.
func wrap(toks []token) []token {
	out := make([]token, 0, len(toks)+2)
	out = append(out, token{kind: tokOp, text: "(", space: true, fixed: true})
	for i, t := range toks {
		if i == 0 {
			t.space = false
		}
		out = append(out, t)
	}
	return append(out, token{kind: tokOp, text: ")", fixed: true})
}

// join concatenates token lists separated by sep.
func join(parts [][]token, sep ...token) []token {
	var out []token
	for i, p := range parts {
		if i > 0 {
			out = append(out, sep...)
		}
		out = append(out, withSpace(p)...)
	}
	return out
}

// withSpace returns toks with a leading space.
func withSpace(toks []token) []token {
	if len(toks) == 0 || toks[0].space {
		return toks
	}
	out := cloneTokens(toks)
	out[0].space = true
	return out
}
