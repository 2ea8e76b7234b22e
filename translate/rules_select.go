package translate

import (
	"strconv"
	"strings"

	"github.com/notzippy/ucanaccess-code/mirror"
)

type classifyRule struct{}

func (r *classifyRule) Name() string  { return "Classify" }
func (r *classifyRule) Priority() int { return 10 }

func (r *classifyRule) Apply(s *state) (bool, error) {
	for len(s.toks) > 0 && s.toks[len(s.toks)-1].isOp(";") {
		s.toks = s.toks[:len(s.toks)-1]
	}
	if len(s.toks) == 0 {
		return false, fail(s.sql, "empty statement")
	}
	for _, t := range s.toks {
		if t.isOp(";") {
			return false, failAt(s.sql, t, "multiple statements")
		}
	}

	first := s.toks[0]
	for i := 0; first.isOp("(") && i+1 < len(s.toks); i++ {
		first = s.toks[i+1]
	}
	switch strings.ToUpper(first.text) {
	case "SELECT", "WITH":
		s.kind = Query
		if into := findTop(s.toks, 0, "INTO"); into >= 0 {
			return false, failAt(s.sql, s.toks[into], "SELECT ... INTO is not supported")
		}
	case "INSERT":
		s.kind = Insert
	case "UPDATE":
		s.kind = Update
	case "DELETE":
		s.kind = Delete
	case "CREATE":
		s.kind = Create
	case "ALTER":
		s.kind = Alter
	case "DROP":
		s.kind = Drop
	case "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "START", "END":
		return false, failAt(s.sql, first, "transaction control in SQL text is not supported; use the connection's transaction methods")
	default:
		return false, failAt(s.sql, first, "unsupported statement %s", strings.ToUpper(first.text))
	}
	if first.kind != tokIdent {
		return false, failAt(s.sql, first, "unsupported statement")
	}
	return false, nil
}

type distinctRowRule struct{}

func (r *distinctRowRule) Name() string  { return "DistinctRow" }
func (r *distinctRowRule) Priority() int { return 35 }

func (r *distinctRowRule) Apply(s *state) (bool, error) {
	changed := false
	for i, t := range s.toks {
		if t.is("DISTINCTROW") {
			w := word("DISTINCT")
			w.pos, w.space = t.pos, t.space
			s.toks[i] = w
			changed = true
		}
	}
	return changed, nil
}

var compoundWords = []string{"UNION", "EXCEPT", "INTERSECT"}

// topRule turns SELECT TOP n [PERCENT] into LIMIT, adding an ORDER BY when
// the query has none so the rows kept do not depend on the scan order.
type topRule struct{}

func (r *topRule) Name() string  { return "Top" }
func (r *topRule) Priority() int { return 40 }

func (r *topRule) Apply(s *state) (bool, error) {
	changed := false
	for i := 0; i < len(s.toks); i++ {
		if !s.toks[i].is("SELECT") {
			continue
		}
		j := i + 1
		if j < len(s.toks) && (s.toks[j].is("DISTINCT") || s.toks[j].is("ALL") || s.toks[j].is("DISTINCTROW")) {
			j++
		}
		if j >= len(s.toks) || !s.toks[j].is("TOP") {
			continue
		}
		if j+1 >= len(s.toks) || s.toks[j+1].kind != tokNumber {
			return false, failAt(s.sql, s.toks[j], "TOP needs a number")
		}
		n := s.toks[j+1].text
		drop := 2
		percent := j+2 < len(s.toks) && s.toks[j+2].is("PERCENT")
		if percent {
			drop = 3
		} else if _, err := strconv.Atoi(n); err != nil {
			return false, failAt(s.sql, s.toks[j+1], "TOP needs a whole number")
		}
		s.toks = splice(s.toks, j, j+drop)

		end := clauseEnd(s.toks, i+1, compoundWords...)
		if (end < len(s.toks) && s.toks[end].kind == tokIdent) || precededByCompound(s.toks, i) {
			return false, failAt(s.sql, s.toks[i], "TOP in a compound query is not supported")
		}

		block := s.toks[i:end]
		orderAt := clauseEnd(block, 1, "ORDER")
		var tail []token
		if orderAt == len(block) {
			tail = append(fixedTokens("ORDER BY"), r.defaultOrder(s, block)...)
		}
		if percent {
			inner := cloneTokens(block[:orderAt])
			inner[0].space = false
			tail = append(tail, fixedTokens("LIMIT (SELECT -CAST(-(COUNT(*) * "+n+" / 100.0) AS INTEGER) FROM (")...)
			tail = append(tail, inner...)
			tail = append(tail, token{kind: tokOp, text: ")", fixed: true}, token{kind: tokOp, text: ")", fixed: true})
		} else {
			tail = append(tail, fixedTokens("LIMIT "+n)...)
		}
		s.toks = splice(s.toks, end, end, tail...)
		changed = true
	}
	return changed, nil
}

func precededByCompound(toks []token, i int) bool {
	j := i - 1
	if j >= 0 && toks[j].is("ALL") {
		j--
	}
	if j >= 0 && toks[j].isOp("(") {
		return false
	}
	if j < 0 {
		return false
	}
	for _, w := range compoundWords {
		if toks[j].is(w) {
			return true
		}
	}
	return false
}

// defaultOrder orders a single-table query by its primary key, or rowid
// without one; anything else by every select-list position.
func (r *topRule) defaultOrder(s *state, block []token) []token {
	from := clauseEnd(block, 1, "FROM")
	grouped := clauseEnd(block, 1, "GROUP") < len(block) || (len(block) > 1 && block[1].is("DISTINCT"))
	if from < len(block) && !grouped && s.mirror != nil {
		body := block[from+1 : clauseEnd(block, from+1, "WHERE", "GROUP", "HAVING", "ORDER")]
		refs := fromRefs(body)
		if len(refs) == 1 && !refs[0].derived && refs[0].end == len(body) {
			if t, ok := s.mirror.Lookup(refs[0].name); ok {
				return orderByKey(t, refs[0].qualifier())
			}
		}
	}

	items := splitTop(block[1:from])
	parts := make([][]token, len(items))
	for i := range items {
		parts[i] = fixedTokens(strconv.Itoa(i + 1))
	}
	return join(parts, comma())
}

func orderByKey(t *mirror.Table, qualifier string) []token {
	var parts [][]token
	for _, pk := range t.PK {
		c, _ := t.EngineColumn(pk)
		col := ident(c.SourceName())
		col.space = false
		parts = append(parts, []token{ident(qualifier), dot(), col})
	}
	if len(parts) == 0 {
		rowid := word("rowid")
		rowid.space = false
		parts = append(parts, []token{ident(qualifier), dot(), rowid})
	}
	return join(parts, comma())
}
