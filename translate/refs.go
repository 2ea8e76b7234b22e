package translate

// tableRef is one table or derived table of a FROM clause. start and end
// span its tokens including the alias.
type tableRef struct {
	start, end int
	name       string
	alias      string
	derived    bool
}

// qualifier is the name columns of the ref are qualified with.
func (r tableRef) qualifier() string {
	if r.alias != "" {
		return r.alias
	}
	return r.name
}

var joinWords = []string{"JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL"}

func isJoinWord(t token) bool {
	for _, w := range joinWords {
		if t.is(w) {
			return true
		}
	}
	return false
}

// fromRefs lists the refs of a FROM clause body, skipping ON conditions.
func fromRefs(from []token) []tableRef {
	var refs []tableRef
	expect, inOn := true, false
	for i := 0; i < len(from); i++ {
		t := from[i]
		switch {
		case t.isOp("("):
			if (i+1 < len(from) && from[i+1].is("SELECT")) || inOn {
				close := matching(from, i)
				if close < 0 {
					return refs
				}
				if inOn {
					i = close
					continue
				}
				ref := tableRef{start: i, derived: true}
				ref.alias, ref.end = readAlias(from, close+1)
				refs = append(refs, ref)
				i = ref.end - 1
				expect = false
				continue
			}
			expect = true
		case t.isOp(",") || t.is("JOIN"):
			expect, inOn = true, false
		case t.is("ON"):
			inOn = true
		case expect && t.isName() && !isSQLWord(t) && !isJoinWord(t):
			ref := tableRef{start: i, name: t.name()}
			ref.alias, ref.end = readAlias(from, i+1)
			refs = append(refs, ref)
			i = ref.end - 1
			expect = false
		}
	}
	return refs
}

// readAlias reads an optional [AS] alias at i.
func readAlias(toks []token, i int) (string, int) {
	j := i
	if j < len(toks) && toks[j].is("AS") {
		j++
	}
	if j < len(toks) && toks[j].isName() && !isSQLWord(toks[j]) && !isJoinWord(toks[j]) {
		return toks[j].name(), j + 1
	}
	return "", i
}

// onConditions lists the ON conditions of a FROM clause body.
func onConditions(from []token) [][]token {
	var conds [][]token
	for i := 0; i < len(from); i++ {
		if from[i].isOp("(") && i+1 < len(from) && from[i+1].is("SELECT") {
			if close := matching(from, i); close > 0 {
				i = close
			}
			continue
		}
		if !from[i].is("ON") {
			continue
		}
		depth, j := 0, i+1
	scan:
		for ; j < len(from); j++ {
			switch t := from[j]; {
			case t.isOp("("):
				depth++
			case t.isOp(")"):
				if depth == 0 {
					break scan
				}
				depth--
			case depth == 0 && (t.isOp(",") || isJoinWord(t)):
				break scan
			}
		}
		conds = append(conds, from[i+1:j])
		i = j - 1
	}
	return conds
}

// clauseEnd returns the index ending the clause that starts at from: the
// first of words at depth 0, a paren closing the enclosing level, or the
// end of toks.
func clauseEnd(toks []token, from int, words ...string) int {
	depth := 0
	for i := from; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.isOp("("):
			depth++
		case t.isOp(")"):
			if depth == 0 {
				return i
			}
			depth--
		case depth == 0 && t.kind == tokIdent:
			for _, w := range words {
				if t.is(w) {
					return i
				}
			}
		}
	}
	return len(toks)
}
