package translate

import (
	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/mirror"
)

// Rule rewrites the token stream of one statement. Rules run in Priority
// order; Apply reports whether it changed anything.
type Rule interface {
	Name() string
	Priority() int
	Apply(s *state) (bool, error)
}

// RuleSet sorts rules by Priority.
type RuleSet []Rule

func (rs RuleSet) Len() int           { return len(rs) }
func (rs RuleSet) Less(i, j int) bool { return rs[i].Priority() < rs[j].Priority() }
func (rs RuleSet) Swap(i, j int)      { rs[i], rs[j] = rs[j], rs[i] }

// state is the statement being translated.
type state struct {
	sql    string
	toks   []token
	mirror *mirror.Mirror
	kind   Kind
	// table is the file name of the mutated table.
	table string
	// like and columns annotate parameters by ordinal.
	like    map[int]bool
	columns map[int]*accessfile.ColumnMeta
	// columnNames maps renamed engine columns back to file names.
	columnNames map[string]string
	// scope, when set, resolves bare names as columns of one table. It is
	// used for calculated column expressions.
	scope *mirror.Table
	// expr translates calculated column expressions for DDL.
	expr mirror.ExpressionFunc
	// change is the parsed schema change of a DDL statement.
	change *mirror.SchemaChange
}

func newState(sql string, toks []token, m *mirror.Mirror) *state {
	return &state{
		sql:         sql,
		toks:        toks,
		mirror:      m,
		like:        make(map[int]bool),
		columns:     make(map[int]*accessfile.ColumnMeta),
		columnNames: make(map[string]string),
	}
}

// params lists the parameters in order of appearance.
func (s *state) params() []Param {
	n := 0
	for _, t := range s.toks {
		if t.kind == tokParam && t.param+1 > n {
			n = t.param + 1
		}
	}
	out := make([]Param, n)
	for i := range out {
		out[i] = Param{Index: i, Like: s.like[i], Column: s.columns[i]}
	}
	return out
}

func (s *state) tagParam(p int, col accessfile.ColumnMeta) {
	if _, done := s.columns[p]; done {
		return
	}
	c := col
	s.columns[p] = &c
}
