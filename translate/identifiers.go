package translate

import (
	"strings"

	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/typemap"
)

type role uint8

const (
	roleNone role = iota
	roleTable
	roleAlias
	roleDerived
	roleOutput
	roleCTE
	roleColumn
	roleQualifier
	roleQualified
	roleInsertColumn
)

// frame is the clause state of one parenthesis level.
type frame struct {
	clause         string
	expectTable    bool
	expectAlias    bool
	expectOutput   bool
	expectCTE      bool
	expectType     bool
	pendingDerived bool
	cast           bool
	insertCols     bool
	subquery       bool
	lastTable      int
}

type ref struct {
	table   *mirror.Table
	name    string
	alias   string
	cte     bool
	derived bool
}

// resolver classifies every name of a statement and rewrites it to its
// quoted engine name.
type resolver struct {
	s       *state
	roles   []role
	depth   []int
	aliasOf map[int]int

	refs    []ref
	tableAt map[int]int
	aliases map[string]int
	ctes    map[string]bool
	outputs map[string]bool
	colAt   map[int]*mirror.Column
	target  *mirror.Table
	inserts []*mirror.Column
}

type identifierRule struct{}

func (r *identifierRule) Name() string  { return "Identifier" }
func (r *identifierRule) Priority() int { return 90 }

func (r *identifierRule) Apply(s *state) (bool, error) {
	if s.kind.DDL() {
		return false, nil
	}
	res := &resolver{
		s:       s,
		roles:   make([]role, len(s.toks)),
		depth:   make([]int, len(s.toks)),
		aliasOf: make(map[int]int),
		tableAt: make(map[int]int),
		aliases: make(map[string]int),
		ctes:    make(map[string]bool),
		outputs: make(map[string]bool),
		colAt:   make(map[int]*mirror.Column),
	}
	res.walk()
	if err := res.collect(); err != nil {
		return false, err
	}
	if err := res.rewrite(); err != nil {
		return false, err
	}
	res.tagParams()
	return true, nil
}

func (r *resolver) walk() {
	toks := r.s.toks
	stack := []*frame{{clause: "start", lastTable: -1}}
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		f := stack[len(stack)-1]
		r.depth[i] = len(stack) - 1
		switch {
		case t.isOp("("):
			next := &frame{clause: f.clause, lastTable: -1}
			switch {
			case i+1 < len(toks) && (toks[i+1].is("SELECT") || toks[i+1].is("WITH")):
				next.subquery = true
				next.clause = "start"
				if f.expectTable {
					f.expectTable = false
					f.pendingDerived = true
				}
			case f.expectTable:
				next.clause = "from"
				next.expectTable = true
				f.expectTable = false
			case f.clause == "into-table":
				next.insertCols = true
			case i > 0 && toks[i-1].is("CAST"):
				next.cast = true
			}
			f.expectAlias = false
			stack = append(stack, next)

		case t.isOp(")"):
			if len(stack) == 1 {
				continue
			}
			popped := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			if popped.subquery && parent.pendingDerived {
				parent.expectAlias = true
			}

		case t.isOp(","):
			switch f.clause {
			case "from":
				f.expectTable = true
			case "with":
				f.expectCTE = true
			}
			f.expectAlias, f.expectOutput, f.pendingDerived = false, false, false

		case t.kind == tokIdent && (isSQLWord(t) || isJoinWord(t)):
			r.keyword(f, t)

		case t.isName():
			r.name(f, i)
			if r.roles[i] == roleQualifier {
				i += 2
			}

		default:
			f.expectAlias, f.pendingDerived = false, false
		}
	}
}

func (r *resolver) keyword(f *frame, t token) {
	w := strings.ToUpper(t.text)
	if w == "AS" {
		switch {
		case f.cast:
			f.expectType = true
		case f.clause == "with", f.expectAlias:
		case f.clause == "select":
			f.expectOutput = true
		}
		return
	}
	f.expectAlias, f.pendingDerived = false, false
	switch w {
	case "SELECT":
		f.clause = "select"
	case "FROM", "JOIN":
		f.clause = "from"
		f.expectTable = true
	case "ON":
		f.clause = "on"
	case "WHERE", "GROUP", "ORDER", "HAVING", "SET", "VALUES":
		f.clause = strings.ToLower(w)
	case "UNION", "EXCEPT", "INTERSECT":
		f.clause = "start"
	case "INTO":
		f.clause = "into"
		f.expectTable = true
	case "UPDATE":
		f.clause = "update"
		f.expectTable = true
	case "WITH":
		f.clause = "with"
		f.expectCTE = true
	}
}

func (r *resolver) name(f *frame, i int) {
	toks := r.s.toks
	t := toks[i]
	if t.fixed {
		f.expectAlias = false
		return
	}
	call := t.kind == tokIdent && i+1 < len(toks) && toks[i+1].isOp("(")
	switch {
	case f.expectType:
		f.expectType = false
	case f.expectCTE:
		r.roles[i] = roleCTE
		f.expectCTE = false
	case f.expectTable:
		r.roles[i] = roleTable
		f.expectTable = false
		f.lastTable = i
		if f.clause == "into" {
			f.clause = "into-table"
		} else {
			f.expectAlias = true
		}
	case f.expectAlias:
		f.expectAlias = false
		if f.pendingDerived {
			r.roles[i] = roleDerived
			f.pendingDerived = false
		} else {
			r.roles[i] = roleAlias
			r.aliasOf[i] = f.lastTable
		}
	case f.expectOutput:
		r.roles[i] = roleOutput
		f.expectOutput = false
	case call:
	case i+2 < len(toks) && toks[i+1].isOp("."):
		r.roles[i] = roleQualifier
		if toks[i+2].isName() && !toks[i+2].fixed {
			r.roles[i+2] = roleQualified
		}
	case f.insertCols:
		r.roles[i] = roleInsertColumn
	default:
		r.roles[i] = roleColumn
	}
}

func (r *resolver) collect() error {
	toks := r.s.toks
	for i, ro := range r.roles {
		switch ro {
		case roleCTE:
			r.ctes[typemap.FoldName(toks[i].name())] = true
		case roleOutput:
			r.outputs[typemap.FoldName(toks[i].name())] = true
		}
	}
	for i, ro := range r.roles {
		name := toks[i].name()
		switch ro {
		case roleTable:
			if r.ctes[typemap.FoldName(name)] {
				r.tableAt[i] = len(r.refs)
				r.refs = append(r.refs, ref{name: name, cte: true})
				continue
			}
			t, ok := r.lookupTable(name)
			if !ok {
				return &UnknownIdentifierError{SQL: r.s.sql, Identifier: name}
			}
			r.tableAt[i] = len(r.refs)
			r.refs = append(r.refs, ref{table: t, name: name})
			if r.target == nil && r.depth[i] == 0 && r.s.kind.Mutation() {
				r.target = t
				r.s.table = t.Meta.Name
			}
		case roleAlias:
			idx, ok := r.tableAt[r.aliasOf[i]]
			if !ok {
				continue
			}
			r.refs[idx].alias = name
			r.aliases[typemap.FoldName(name)] = idx
		case roleDerived:
			r.aliases[typemap.FoldName(name)] = len(r.refs)
			r.refs = append(r.refs, ref{alias: name, derived: true})
		}
	}
	for _, rf := range r.refs {
		if rf.table == nil {
			continue
		}
		for _, c := range rf.table.Columns {
			if _, seen := r.s.columnNames[c.Name]; c.Renamed() && !seen {
				r.s.columnNames[c.Name] = c.SourceName()
			}
		}
	}
	return nil
}

func (r *resolver) lookupTable(name string) (*mirror.Table, bool) {
	if r.s.mirror == nil {
		return nil, false
	}
	return r.s.mirror.Lookup(name)
}

func (r *resolver) quote(i int, name string) {
	r.s.toks[i].text = typemap.QuoteIdent(name)
	r.s.toks[i].fixed = true
}

func (r *resolver) rewrite() error {
	toks := r.s.toks
	for i, ro := range r.roles {
		name := toks[i].name()
		switch ro {
		case roleTable:
			rf := r.refs[r.tableAt[i]]
			if rf.table != nil {
				r.quote(i, rf.table.Name)
			} else {
				r.quote(i, name)
			}

		case roleAlias, roleDerived, roleOutput, roleCTE:
			r.quote(i, name)

		case roleQualifier:
			if err := r.qualified(i); err != nil {
				return err
			}

		case roleColumn:
			if c, ok := r.findColumn(name); ok {
				r.quote(i, c.Name)
				r.colAt[i] = c
				continue
			}
			switch {
			case r.outputs[typemap.FoldName(name)] || r.hasOpaqueRefs():
				r.quote(i, name)
			case toks[i].kind == tokIdent && typemap.IsEngineKeyword(name):
			default:
				return &UnknownIdentifierError{SQL: r.s.sql, Identifier: name}
			}

		case roleInsertColumn:
			if r.target == nil {
				return &UnknownIdentifierError{SQL: r.s.sql, Identifier: name}
			}
			c, ok := r.target.Lookup(name)
			if !ok {
				return &UnknownIdentifierError{SQL: r.s.sql, Identifier: r.target.SourceName() + "." + name}
			}
			r.quote(i, c.Name)
			r.colAt[i] = c
			r.inserts = append(r.inserts, c)
		}
	}
	return nil
}

// qualified resolves q.col with the qualifier at i.
func (r *resolver) qualified(i int) error {
	toks := r.s.toks
	q := toks[i].name()
	var rf *ref
	if idx, ok := r.aliases[typemap.FoldName(q)]; ok {
		rf = &r.refs[idx]
	} else {
		for k := range r.refs {
			cur := &r.refs[k]
			if cur.table != nil && (strings.EqualFold(cur.table.SourceName(), q) || strings.EqualFold(cur.table.Name, q)) ||
				cur.cte && strings.EqualFold(cur.name, q) {
				rf = cur
				break
			}
		}
	}
	if rf == nil {
		if r.ctes[typemap.FoldName(q)] {
			rf = &ref{name: q, cte: true}
		} else if t, ok := r.lookupTable(q); ok {
			rf = &ref{table: t}
		} else {
			return &UnknownIdentifierError{SQL: r.s.sql, Identifier: q}
		}
	}

	switch {
	case rf.alias != "":
		r.quote(i, rf.alias)
	case rf.table != nil:
		r.quote(i, rf.table.Name)
	default:
		r.quote(i, q)
	}

	if r.roles[i+2] != roleQualified {
		return nil
	}
	col := toks[i+2].name()
	if rf.table == nil {
		r.quote(i+2, col)
		return nil
	}
	c, ok := rf.table.Lookup(col)
	if !ok {
		return &UnknownIdentifierError{SQL: r.s.sql, Identifier: q + "." + col}
	}
	r.quote(i+2, c.Name)
	r.colAt[i+2] = c
	return nil
}

func (r *resolver) findColumn(name string) (*mirror.Column, bool) {
	if r.s.scope != nil {
		return r.s.scope.Lookup(name)
	}
	for _, rf := range r.refs {
		if rf.table == nil {
			continue
		}
		if c, ok := rf.table.Lookup(name); ok {
			return c, true
		}
	}
	return nil, false
}

// hasOpaqueRefs reports whether the statement reads from a derived table
// or common table expression, whose columns the mirror cannot check.
func (r *resolver) hasOpaqueRefs() bool {
	for _, rf := range r.refs {
		if rf.cte || rf.derived {
			return true
		}
	}
	return false
}

var comparisons = map[string]bool{"=": true, "==": true, "<>": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func isComparison(t token) bool {
	return (t.kind == tokOp && comparisons[t.text]) || t.is("LIKE") || t.is("BETWEEN")
}

// tagParams records the column each parameter is compared with or
// assigned to.
func (r *resolver) tagParams() {
	toks := r.s.toks
	for i, t := range toks {
		if t.kind != tokParam {
			continue
		}
		switch {
		case i >= 2 && isComparison(toks[i-1]) && r.colAt[i-2] != nil:
			r.s.tagParam(t.param, r.colAt[i-2].Meta)
		case i >= 4 && toks[i-1].is("AND") && toks[i-2].kind == tokParam && toks[i-3].is("BETWEEN") && r.colAt[i-4] != nil:
			r.s.tagParam(t.param, r.colAt[i-4].Meta)
		case i+2 < len(toks) && toks[i+1].kind == tokOp && comparisons[toks[i+1].text]:
			c := r.colAt[i+2]
			if c == nil && i+4 < len(toks) {
				c = r.colAt[i+4]
			}
			if c != nil {
				r.s.tagParam(t.param, c.Meta)
			}
		}
	}

	if r.s.kind != Insert || r.target == nil {
		return
	}
	cols := r.inserts
	if len(cols) == 0 {
		cols = r.target.StoredColumns()
	}
	values := findTop(toks, 0, "VALUES")
	if values < 0 {
		return
	}
	for j := values + 1; j < len(toks); j++ {
		if !toks[j].isOp("(") {
			continue
		}
		close := matching(toks, j)
		if close < 0 {
			return
		}
		for k, item := range splitTop(toks[j+1 : close]) {
			if len(item) == 1 && item[0].kind == tokParam && k < len(cols) {
				r.s.tagParam(item[0].param, cols[k].Meta)
			}
		}
		j = close
	}
}
