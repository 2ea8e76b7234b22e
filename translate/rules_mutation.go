package translate

import "strings"

// deleteRule accepts DELETE *, DELETE t.* and deletes through joins, which
// become a rowid subquery on the target table.
type deleteRule struct{}

func (r *deleteRule) Name() string  { return "Delete" }
func (r *deleteRule) Priority() int { return 30 }

func (r *deleteRule) Apply(s *state) (bool, error) {
	if s.kind != Delete || len(s.toks) < 2 {
		return false, nil
	}
	changed := false
	target := ""
	switch t := s.toks; {
	case t[1].isOp("*"):
		s.toks = splice(s.toks, 1, 2)
		changed = true
	case len(t) > 3 && t[1].isName() && t[2].isOp(".") && t[3].isOp("*"):
		target = t[1].name()
		s.toks = splice(s.toks, 1, 4)
		changed = true
	case len(t) > 2 && t[1].isName() && t[2].is("FROM"):
		target = t[1].name()
		s.toks = splice(s.toks, 1, 2)
		changed = true
	}
	if len(s.toks) < 3 || !s.toks[1].is("FROM") {
		return false, failAt(s.sql, s.toks[len(s.toks)-1], "DELETE without FROM")
	}
	s.toks[1].space = true

	where := findTop(s.toks, 2, "WHERE")
	if where < 0 {
		where = len(s.toks)
	}
	from := s.toks[2:where]
	joined := from[0].isOp("(") || findTop(from, 0, "JOIN") >= 0 || len(splitTop(from)) > 1
	if !joined {
		return changed, nil
	}

	refs := fromRefs(from)
	if len(refs) == 0 {
		return false, failAt(s.sql, from[0], "DELETE without a table")
	}
	pick := -1
	for i, ref := range refs {
		if target == "" || strings.EqualFold(ref.qualifier(), target) {
			pick = i
			break
		}
	}
	if pick < 0 || refs[pick].derived {
		return false, &UnknownIdentifierError{SQL: s.sql, Identifier: target}
	}
	ref := refs[pick]
	tableTok := from[ref.start]

	out := fixedTokens("DELETE FROM")
	out = append(out, withSpace([]token{tableTok})...)
	out = append(out, fixedTokens("WHERE rowid IN (SELECT")...)
	q := ident(ref.qualifier())
	rowid := word("rowid")
	rowid.space = false
	out = append(out, q, dot(), rowid)
	out = append(out, fixedTokens("FROM")...)
	out = append(out, withSpace(cloneTokens(from))...)
	out = append(out, s.toks[where:]...)
	out = append(out, token{kind: tokOp, text: ")", fixed: true})
	s.toks = out
	return true, nil
}

// updateJoinRule turns UPDATE a INNER JOIN b ON c SET ... into
// UPDATE a SET ... FROM b WHERE c.
type updateJoinRule struct{}

func (r *updateJoinRule) Name() string  { return "UpdateJoin" }
func (r *updateJoinRule) Priority() int { return 45 }

func (r *updateJoinRule) Apply(s *state) (bool, error) {
	if s.kind != Update {
		return false, nil
	}
	set := findTop(s.toks, 1, "SET")
	if set < 0 {
		return false, failAt(s.sql, s.toks[0], "UPDATE without SET")
	}
	expr := s.toks[1:set]
	if len(expr) == 0 {
		return false, failAt(s.sql, s.toks[set], "UPDATE without a table")
	}
	if !expr[0].isOp("(") && findTop(expr, 0, "JOIN") < 0 && len(splitTop(expr)) == 1 {
		return false, nil
	}
	for _, t := range expr {
		if t.is("LEFT") || t.is("RIGHT") || t.is("FULL") || t.is("OUTER") {
			return false, failAt(s.sql, t, "UPDATE through an outer join is not supported")
		}
	}

	refs := fromRefs(expr)
	conds := onConditions(expr)
	where := findTop(s.toks, set+1, "WHERE")
	if where < 0 {
		where = len(s.toks)
	}

	assignments := splitTop(s.toks[set+1 : where])
	target := -1
	for k, a := range assignments {
		if len(a) == 0 {
			return false, failAt(s.sql, s.toks[set], "empty SET item")
		}
		idx := -1
		if len(a) > 2 && a[0].isName() && a[1].isOp(".") {
			for i, ref := range refs {
				if strings.EqualFold(ref.qualifier(), a[0].name()) {
					idx = i
					break
				}
			}
			if idx < 0 {
				return false, &UnknownIdentifierError{SQL: s.sql, Identifier: a[0].name()}
			}
			a = cloneTokens(a[2:])
			a[0].space = true
			assignments[k] = a
		} else {
			idx = r.owner(s, refs, a[0])
		}
		if target >= 0 && idx != target {
			return false, failAt(s.sql, a[0], "UPDATE of more than one table is not supported")
		}
		target = idx
	}
	if target < 0 || refs[target].derived {
		return false, failAt(s.sql, s.toks[0], "cannot tell which table UPDATE changes")
	}

	out := []token{s.toks[0]}
	out = append(out, withSpace(cloneTokens(expr[refs[target].start:refs[target].end]))...)
	out = append(out, fixedTokens("SET")...)
	out = append(out, join(assignments, comma())...)
	var others [][]token
	for i, ref := range refs {
		if i != target {
			others = append(others, expr[ref.start:ref.end])
		}
	}
	out = append(out, fixedTokens("FROM")...)
	out = append(out, join(others, comma())...)

	var filters [][]token
	for _, c := range conds {
		filters = append(filters, wrap(c))
	}
	if where < len(s.toks) {
		filters = append(filters, wrap(s.toks[where+1:]))
	}
	if len(filters) > 0 {
		out = append(out, fixedTokens("WHERE")...)
		out = append(out, join(filters, fixedTokens("AND")...)...)
	}
	s.toks = out
	return true, nil
}

// owner finds the first joined table holding an unqualified column.
func (r *updateJoinRule) owner(s *state, refs []tableRef, col token) int {
	if s.mirror == nil {
		return 0
	}
	for i, ref := range refs {
		if ref.derived {
			continue
		}
		t, ok := s.mirror.Lookup(ref.name)
		if !ok {
			continue
		}
		if _, ok := t.Lookup(col.name()); ok {
			return i
		}
	}
	return 0
}
