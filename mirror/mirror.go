// Package mirror keeps the engine schema structurally equivalent to the
// file's: it records how every file table and column is named and typed in
// the engine, builds the engine DDL, and imports a file on connection open.
package mirror

import (
	"fmt"
	"strings"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// Column is the mirror entry of one file column.
type Column struct {
	Meta       accessfile.ColumnMeta
	Name       string
	EngineType string
	// Generated columns are computed by the engine and never written.
	Generated bool
}

// SourceName is the column's name in the file.
func (c *Column) SourceName() string { return c.Meta.Name }

// Renamed reports whether the engine name differs from the file name.
func (c *Column) Renamed() bool { return c.Name != c.Meta.Name }

// Table is the mirror entry of one file table.
type Table struct {
	Meta    accessfile.TableMeta
	Name    string
	Columns []*Column
	// PK lists the engine names of the primary key columns.
	PK []string
	// RowIDAlias is set when the sole primary key column is an integer
	// autonumber stored as the engine's rowid.
	RowIDAlias bool
	// Indexes maps folded file index names to engine index names.
	Indexes map[string]string

	bySource map[string]*Column
	byEngine map[string]*Column
}

// SourceName is the table's name in the file.
func (t *Table) SourceName() string { return t.Meta.Name }

// Column finds a column by its file name.
func (t *Table) Column(source string) (*Column, bool) {
	c, ok := t.bySource[typemap.FoldName(source)]
	return c, ok
}

// EngineColumn finds a column by its engine name.
func (t *Table) EngineColumn(name string) (*Column, bool) {
	c, ok := t.byEngine[typemap.FoldName(name)]
	return c, ok
}

// Lookup finds a column by either name, file name first.
func (t *Table) Lookup(name string) (*Column, bool) {
	if c, ok := t.Column(name); ok {
		return c, true
	}
	return t.EngineColumn(name)
}

// StoredColumns are the columns holding written values, in declaration
// order. Captured pre-images list these columns.
func (t *Table) StoredColumns() []*Column {
	out := make([]*Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Generated {
			out = append(out, c)
		}
	}
	return out
}

// ColumnNames lists engine names of cols.
func ColumnNames(cols []*Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// AutoNumbers lists the autonumber columns.
func (t *Table) AutoNumbers() []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.Meta.AutoNumber {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) index() {
	t.bySource = make(map[string]*Column, len(t.Columns))
	t.byEngine = make(map[string]*Column, len(t.Columns))
	for _, c := range t.Columns {
		t.bySource[typemap.FoldName(c.Meta.Name)] = c
		t.byEngine[typemap.FoldName(c.Name)] = c
	}
}

func (t *Table) clone() *Table {
	out := *t
	out.Meta = cloneMeta(t.Meta)
	out.Columns = make([]*Column, len(t.Columns))
	for i, c := range t.Columns {
		cc := *c
		out.Columns[i] = &cc
	}
	out.PK = append([]string(nil), t.PK...)
	out.Indexes = make(map[string]string, len(t.Indexes))
	for k, v := range t.Indexes {
		out.Indexes[k] = v
	}
	out.index()
	return &out
}

func cloneMeta(m accessfile.TableMeta) accessfile.TableMeta {
	out := m
	out.Columns = append([]accessfile.ColumnMeta(nil), m.Columns...)
	out.Indexes = make([]accessfile.IndexMeta, len(m.Indexes))
	for i, idx := range m.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.Indexes[i] = idx
	}
	return out
}

// Mirror is the schema mirror of one connection. It is not safe for
// concurrent use; the owning connection serializes access.
type Mirror struct {
	version       uint64
	tables        []*Table
	bySource      map[string]*Table
	byEngine      map[string]*Table
	relationships []accessfile.Relationship
}

// New returns an empty mirror.
func New() *Mirror {
	return &Mirror{
		bySource: make(map[string]*Table),
		byEngine: make(map[string]*Table),
	}
}

// Version changes whenever the mirrored schema does.
func (m *Mirror) Version() uint64 { return m.version }

// Tables lists tables in file declaration order.
func (m *Mirror) Tables() []*Table {
	return append([]*Table(nil), m.tables...)
}

// Table finds a table by its file name.
func (m *Mirror) Table(source string) (*Table, bool) {
	t, ok := m.bySource[typemap.FoldName(source)]
	return t, ok
}

// EngineTable finds a table by its engine name.
func (m *Mirror) EngineTable(name string) (*Table, bool) {
	t, ok := m.byEngine[typemap.FoldName(name)]
	return t, ok
}

// Lookup finds a table by either name, file name first.
func (m *Mirror) Lookup(name string) (*Table, bool) {
	if t, ok := m.Table(name); ok {
		return t, true
	}
	return m.EngineTable(name)
}

// Relationships lists mirrored relationships.
func (m *Mirror) Relationships() []accessfile.Relationship {
	return append([]accessfile.Relationship(nil), m.relationships...)
}

// RelationshipsOf lists relationships whose referencing side is the table.
func (m *Mirror) RelationshipsOf(source string) []accessfile.Relationship {
	var out []accessfile.Relationship
	for _, r := range m.relationships {
		if strings.EqualFold(r.FromTable, source) {
			out = append(out, r)
		}
	}
	return out
}

// ReferencesTo lists relationships whose referenced side is the table.
func (m *Mirror) ReferencesTo(source string) []accessfile.Relationship {
	var out []accessfile.Relationship
	for _, r := range m.relationships {
		if strings.EqualFold(r.ToTable, source) {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy, used to restore the mirror when a transaction
// holding DDL is undone.
func (m *Mirror) Clone() *Mirror {
	out := New()
	out.version = m.version
	for _, t := range m.tables {
		ct := t.clone()
		out.tables = append(out.tables, ct)
		out.bySource[typemap.FoldName(ct.Meta.Name)] = ct
		out.byEngine[typemap.FoldName(ct.Name)] = ct
	}
	for _, r := range m.relationships {
		r.FromColumns = append([]string(nil), r.FromColumns...)
		r.ToColumns = append([]string(nil), r.ToColumns...)
		out.relationships = append(out.relationships, r)
	}
	return out
}

// Restore replaces the mirror's content with a snapshot taken by Clone. The
// version still advances so cached translations are not reused.
func (m *Mirror) Restore(snapshot *Mirror) {
	version := m.version
	*m = *snapshot.Clone()
	m.version = version + 1
}

// PlanTable builds the mirror entry for a file table without adding it.
// It fails when the table or one of its columns collides with an existing
// engine name after safing.
func (m *Mirror) PlanTable(meta accessfile.TableMeta) (*Table, error) {
	if _, ok := m.Table(meta.Name); ok {
		return nil, &SchemaImportError{Table: meta.Name, Reason: "table already mirrored", Err: accessfile.ErrTableExists}
	}
	t := &Table{Meta: cloneMeta(meta), Name: typemap.SafeIdentifier(meta.Name), Indexes: make(map[string]string)}
	if other, ok := m.EngineTable(t.Name); ok {
		return nil, &SchemaImportError{Table: meta.Name, Reason: fmt.Sprintf("engine name %s collides with table %s", t.Name, other.Meta.Name)}
	}

	seen := make(map[string]string, len(meta.Columns))
	for _, cm := range meta.Columns {
		if cm.Type == accessfile.TypeVersionHistory {
			return nil, &SchemaImportError{Table: meta.Name, Column: cm.Name, Reason: "version history columns are not supported", Err: accessfile.ErrUnsupported}
		}
		engType, err := typemap.EngineType(cm)
		if err != nil {
			return nil, &SchemaImportError{Table: meta.Name, Column: cm.Name, Reason: "no engine type", Err: err}
		}
		name := typemap.SafeIdentifier(cm.Name)
		if prev, dup := seen[typemap.FoldName(name)]; dup {
			return nil, &SchemaImportError{Table: meta.Name, Column: cm.Name, Reason: fmt.Sprintf("engine name %s collides with column %s", name, prev)}
		}
		seen[typemap.FoldName(name)] = cm.Name
		t.Columns = append(t.Columns, &Column{
			Meta:       cm,
			Name:       name,
			EngineType: engType,
			Generated:  cm.Type == accessfile.TypeCalculated,
		})
	}
	t.index()

	for _, idx := range meta.Indexes {
		for _, col := range idx.Columns {
			c, ok := t.Column(col)
			if !ok {
				return nil, &SchemaImportError{Table: meta.Name, Column: col, Reason: fmt.Sprintf("index %s names a missing column", idx.Name), Err: accessfile.ErrNoSuchColumn}
			}
			if idx.Primary {
				t.PK = append(t.PK, c.Name)
			}
		}
		if !idx.Primary {
			t.Indexes[typemap.FoldName(idx.Name)] = typemap.SafeIdentifier(t.Name + "_" + idx.Name)
		}
	}
	if len(t.PK) == 1 {
		c, _ := t.EngineColumn(t.PK[0])
		t.RowIDAlias = c.Meta.AutoNumber && (c.Meta.Type == accessfile.TypeLong || c.Meta.Type == accessfile.TypeBigInt)
	}
	return t, nil
}

// AddTable adds a planned table.
func (m *Mirror) AddTable(t *Table) {
	m.tables = append(m.tables, t)
	m.bySource[typemap.FoldName(t.Meta.Name)] = t
	m.byEngine[typemap.FoldName(t.Name)] = t
	m.version++
}

// RemoveTable drops a table and every relationship touching it.
func (m *Mirror) RemoveTable(source string) {
	t, ok := m.Table(source)
	if !ok {
		return
	}
	for i, cur := range m.tables {
		if cur == t {
			m.tables = append(m.tables[:i], m.tables[i+1:]...)
			break
		}
	}
	delete(m.bySource, typemap.FoldName(t.Meta.Name))
	delete(m.byEngine, typemap.FoldName(t.Name))
	rels := m.relationships[:0]
	for _, r := range m.relationships {
		if !strings.EqualFold(r.FromTable, source) && !strings.EqualFold(r.ToTable, source) {
			rels = append(rels, r)
		}
	}
	m.relationships = rels
	m.version++
}

// ReplaceTable swaps in a rebuilt entry for an existing table, keeping its
// declaration position.
func (m *Mirror) ReplaceTable(t *Table) {
	for i, cur := range m.tables {
		if strings.EqualFold(cur.Meta.Name, t.Meta.Name) {
			m.tables[i] = t
			delete(m.byEngine, typemap.FoldName(cur.Name))
		}
	}
	m.bySource[typemap.FoldName(t.Meta.Name)] = t
	m.byEngine[typemap.FoldName(t.Name)] = t
	m.version++
}

// AddRelationship records a relationship after checking both sides exist.
func (m *Mirror) AddRelationship(rel accessfile.Relationship) error {
	from, ok := m.Table(rel.FromTable)
	if !ok {
		return &SchemaImportError{Table: rel.FromTable, Reason: "relationship " + rel.Name + " names a missing table", Err: accessfile.ErrNoSuchTable}
	}
	to, ok := m.Table(rel.ToTable)
	if !ok {
		return &SchemaImportError{Table: rel.ToTable, Reason: "relationship " + rel.Name + " names a missing table", Err: accessfile.ErrNoSuchTable}
	}
	if len(rel.FromColumns) == 0 || len(rel.FromColumns) != len(rel.ToColumns) {
		return &SchemaImportError{Table: rel.FromTable, Reason: "relationship " + rel.Name + " has mismatched columns"}
	}
	for i := range rel.FromColumns {
		if _, ok := from.Column(rel.FromColumns[i]); !ok {
			return &SchemaImportError{Table: rel.FromTable, Column: rel.FromColumns[i], Reason: "relationship " + rel.Name + " names a missing column", Err: accessfile.ErrNoSuchColumn}
		}
		if _, ok := to.Column(rel.ToColumns[i]); !ok {
			return &SchemaImportError{Table: rel.ToTable, Column: rel.ToColumns[i], Reason: "relationship " + rel.Name + " names a missing column", Err: accessfile.ErrNoSuchColumn}
		}
	}
	rel.FromColumns = append([]string(nil), rel.FromColumns...)
	rel.ToColumns = append([]string(nil), rel.ToColumns...)
	m.relationships = append(m.relationships, rel)
	m.version++
	return nil
}

// DropRelationship forgets a relationship by name.
func (m *Mirror) DropRelationship(name string) bool {
	for i, r := range m.relationships {
		if strings.EqualFold(r.Name, name) {
			m.relationships = append(m.relationships[:i], m.relationships[i+1:]...)
			m.version++
			return true
		}
	}
	return false
}
