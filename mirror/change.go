package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// ChangeKind is the kind of a schema change.
type ChangeKind uint8

const (
	CreateTable ChangeKind = iota + 1
	DropTable
	AddColumn
	DropColumn
	CreateIndex
	DropIndex
	AddRelationship
	DropRelationship
)

var changeKindNames = map[ChangeKind]string{
	CreateTable:      "CREATE TABLE",
	DropTable:        "DROP TABLE",
	AddColumn:        "ADD COLUMN",
	DropColumn:       "DROP COLUMN",
	CreateIndex:      "CREATE INDEX",
	DropIndex:        "DROP INDEX",
	AddRelationship:  "ADD RELATIONSHIP",
	DropRelationship: "DROP RELATIONSHIP",
}

func (k ChangeKind) String() string {
	if s, ok := changeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ChangeKind(%d)", uint8(k))
}

// SchemaChange is one DDL statement in file terms. Table, column, index and
// relationship names are file names.
type SchemaChange struct {
	Kind  ChangeKind
	Table string
	// Meta is the new table of CreateTable, including its indexes.
	Meta accessfile.TableMeta
	// Relationships declared inline by CreateTable.
	Relationships []accessfile.Relationship
	Column        accessfile.ColumnMeta
	Index         accessfile.IndexMeta
	Relationship  accessfile.Relationship
	// Name is the dropped column, index or relationship.
	Name string
}

// NeedsResync reports whether the engine copy of the changed table must be
// rebuilt from the file once the change is written: values the file assigns
// (autonumbers, defaults) and constraints the engine cannot alter in place.
func (c *SchemaChange) NeedsResync() bool {
	switch c.Kind {
	case AddColumn, AddRelationship, DropRelationship:
		return true
	case CreateIndex:
		return c.Index.Primary
	}
	return false
}

// ResyncTable names the table NeedsResync refers to.
func (c *SchemaChange) ResyncTable() string {
	switch c.Kind {
	case AddRelationship:
		return c.Relationship.FromTable
	}
	return c.Table
}

// Statements renders the engine DDL of c against the current mirror without
// changing it.
func (m *Mirror) Statements(c *SchemaChange, expr ExpressionFunc) ([]string, error) {
	work := m.Clone()
	return work.apply(c, expr)
}

// Apply executes c against the engine and records it in the mirror. The
// mirror is left untouched when the engine rejects the change.
func (m *Mirror) Apply(ctx context.Context, eng *engine.Engine, c *SchemaChange, expr ExpressionFunc) error {
	work := m.Clone()
	stmts, err := work.apply(c, expr)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := eng.Exec(ctx, s); err != nil {
			return fmt.Errorf("%s %s: %w", c.Kind, c.Table, err)
		}
	}
	version := m.version
	*m = *work
	m.version = version + 1
	return nil
}

// apply mutates m and returns the engine statements realizing c.
func (m *Mirror) apply(c *SchemaChange, expr ExpressionFunc) ([]string, error) {
	switch c.Kind {
	case CreateTable:
		t, err := m.PlanTable(c.Meta)
		if err != nil {
			return nil, err
		}
		m.AddTable(t)
		for _, rel := range c.Relationships {
			if err := m.AddRelationship(rel); err != nil {
				return nil, err
			}
		}
		stmts, err := TableStatements(m, t, expr)
		if err != nil {
			return nil, err
		}
		for _, idx := range t.Meta.Indexes {
			if idx.Primary {
				continue
			}
			s, err := IndexSQL(t, idx)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
		}
		return stmts, nil

	case DropTable:
		t, err := m.mustTable(c.Table)
		if err != nil {
			return nil, err
		}
		m.RemoveTable(c.Table)
		return []string{"DROP TABLE " + typemap.QuoteIdent(t.Name)}, nil

	case AddColumn:
		t, err := m.mustTable(c.Table)
		if err != nil {
			return nil, err
		}
		meta := cloneMeta(t.Meta)
		meta.Columns = append(meta.Columns, c.Column)
		next, err := m.replan(t, meta)
		if err != nil {
			return nil, err
		}
		col, _ := next.Column(c.Column.Name)
		def, err := addColumnDef(next, col, expr)
		if err != nil {
			return nil, err
		}
		stmts := DropCaptureTriggerSQL(t)
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", typemap.QuoteIdent(t.Name), def))
		if col.Meta.AutoNumber {
			stmts = append(stmts, createSequenceTable)
			if col.Meta.Type != accessfile.TypeGUID {
				stmts = append(stmts, fmt.Sprintf("INSERT OR IGNORE INTO %s (name, seq) VALUES (%s, 0)",
					SequenceTable, typemap.QuoteString(SequenceKey(next, col))))
			}
			only := *next
			only.Columns = []*Column{col}
			stmts = append(stmts, AutoNumberTriggerSQL(&only)...)
		}
		return append(stmts, CaptureTriggerSQL(next)...), nil

	case DropColumn:
		t, err := m.mustTable(c.Table)
		if err != nil {
			return nil, err
		}
		col, ok := t.Column(c.Name)
		if !ok {
			return nil, fmt.Errorf("%s.%s: %w", c.Table, c.Name, accessfile.ErrNoSuchColumn)
		}
		meta := cloneMeta(t.Meta)
		meta.Columns = meta.Columns[:0]
		for _, cm := range t.Meta.Columns {
			if !strings.EqualFold(cm.Name, c.Name) {
				meta.Columns = append(meta.Columns, cm)
			}
		}
		next, err := m.replan(t, meta)
		if err != nil {
			return nil, err
		}
		stmts := DropCaptureTriggerSQL(t)
		if col.Meta.AutoNumber {
			stmts = append(stmts,
				"DROP TRIGGER IF EXISTS "+triggerName("an", t, col.Name),
				"DROP TRIGGER IF EXISTS "+triggerName("ax", t, col.Name))
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", typemap.QuoteIdent(t.Name), typemap.QuoteIdent(col.Name)))
		return append(stmts, CaptureTriggerSQL(next)...), nil

	case CreateIndex:
		t, err := m.mustTable(c.Table)
		if err != nil {
			return nil, err
		}
		idx := c.Index
		if idx.Primary {
			idx.Unique = true
		}
		meta := cloneMeta(t.Meta)
		meta.Indexes = append(meta.Indexes, idx)
		next, err := m.replan(t, meta)
		if err != nil {
			return nil, err
		}
		if idx.Primary {
			// The engine cannot add a primary key in place; a unique index
			// enforces it until the table is resynced.
			name := typemap.SafeIdentifier(next.Name + "_" + idx.Name)
			next.Indexes[typemap.FoldName(idx.Name)] = name
		}
		s, err := IndexSQL(next, idx)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil

	case DropIndex:
		t, err := m.mustTable(c.Table)
		if err != nil {
			return nil, err
		}
		idx, ok := t.Meta.Index(c.Name)
		if !ok {
			return nil, fmt.Errorf("%s on %s: %w", c.Name, c.Table, accessfile.ErrNoSuchIndex)
		}
		engineName, hasEngineIndex := t.Indexes[typemap.FoldName(idx.Name)]
		meta := cloneMeta(t.Meta)
		meta.Indexes = meta.Indexes[:0]
		for _, cur := range t.Meta.Indexes {
			if !strings.EqualFold(cur.Name, c.Name) {
				meta.Indexes = append(meta.Indexes, cur)
			}
		}
		if _, err := m.replan(t, meta); err != nil {
			return nil, err
		}
		if !hasEngineIndex {
			return nil, nil
		}
		return []string{"DROP INDEX IF EXISTS " + typemap.QuoteIdent(engineName)}, nil

	case AddRelationship:
		return nil, m.AddRelationship(c.Relationship)

	case DropRelationship:
		if !m.DropRelationship(c.Name) {
			return nil, fmt.Errorf("relationship %s: %w", c.Name, accessfile.ErrNoSuchIndex)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown schema change %s", c.Kind)
}

func (m *Mirror) mustTable(source string) (*Table, error) {
	t, ok := m.Table(source)
	if !ok {
		return nil, fmt.Errorf("%s: %w", source, accessfile.ErrNoSuchTable)
	}
	return t, nil
}

// replan rebuilds the entry of t from changed metadata, keeping its engine
// name and rowid layout.
func (m *Mirror) replan(t *Table, meta accessfile.TableMeta) (*Table, error) {
	probe := New()
	next, err := probe.PlanTable(meta)
	if err != nil {
		return nil, err
	}
	next.Name = t.Name
	next.RowIDAlias = t.RowIDAlias
	for k, v := range t.Indexes {
		if _, still := next.Indexes[k]; still {
			next.Indexes[k] = v
		}
	}
	m.ReplaceTable(next)
	return next, nil
}

// addColumnDef renders a column for ALTER TABLE ADD COLUMN, which only
// accepts constant defaults and NOT NULL with a default.
func addColumnDef(t *Table, c *Column, expr ExpressionFunc) (string, error) {
	meta := c.Meta
	if d := strings.ToLower(strings.TrimSpace(meta.Default)); strings.HasSuffix(d, "()") {
		meta.Default = ""
	}
	if _, ok := engineDefault(meta); !ok {
		meta.Required = false
	}
	col := *c
	col.Meta = meta
	return columnDef(t, &col, expr)
}
