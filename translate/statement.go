package translate

import (
	"fmt"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/mirror"
)

// Kind classifies a statement.
type Kind uint8

const (
	Query Kind = iota + 1
	Insert
	Update
	Delete
	Create
	Alter
	Drop
)

var kindNames = map[Kind]string{
	Query:  "QUERY",
	Insert: "INSERT",
	Update: "UPDATE",
	Delete: "DELETE",
	Create: "DDL-CREATE",
	Alter:  "DDL-ALTER",
	Drop:   "DDL-DROP",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Mutation reports whether statements of kind k change rows.
func (k Kind) Mutation() bool {
	return k == Insert || k == Update || k == Delete
}

// DDL reports whether statements of kind k change the schema.
func (k Kind) DDL() bool {
	return k == Create || k == Alter || k == Drop
}

// Param is one '?' of the source statement, in order of appearance.
type Param struct {
	Index int
	// Like marks a parameter used as a LIKE pattern; its value needs
	// LikePattern before binding.
	Like bool
	// Column is the column the parameter is compared with or assigned to,
	// when the translator could tell.
	Column *accessfile.ColumnMeta
}

// Statement is one translated client statement. It is immutable and may be
// shared between executions.
type Statement struct {
	Source string
	Target string
	Kind   Kind
	// Table is the file name of the table a mutation or DDL statement
	// targets.
	Table  string
	Params []Param
	// DDL is the schema change of Create, Alter and Drop statements.
	DDL *mirror.SchemaChange
	// ColumnNames maps engine result column names back to file names for
	// renamed columns.
	ColumnNames map[string]string
	// Rules lists the rules that changed the statement.
	Rules []string
}

// SourceColumn maps an engine result column name to the name the client
// expects.
func (s *Statement) SourceColumn(name string) string {
	if src, ok := s.ColumnNames[name]; ok {
		return src
	}
	return name
}
