package mirror

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// SequenceTable holds the engine-side counters of autonumber columns that
// are not the table's rowid.
const SequenceTable = typemap.InternalPrefix + "_sequence"

const createSequenceTable = "CREATE TABLE IF NOT EXISTS " + SequenceTable +
	" (name TEXT PRIMARY KEY, seq INTEGER NOT NULL)"

// ExpressionFunc translates the expression of a calculated column of t into
// an engine expression.
type ExpressionFunc func(t *Table, expr string) (string, error)

// SequenceKey names the engine counter of an autonumber column.
func SequenceKey(t *Table, c *Column) string {
	return t.Name + "." + c.Name
}

func triggerName(kind string, t *Table, suffix string) string {
	name := typemap.InternalPrefix + "_" + kind + "_" + t.Name
	if suffix != "" {
		name += "_" + suffix
	}
	return typemap.QuoteIdent(name)
}

func textual(c *Column) bool {
	return c.Meta.ValueType() == accessfile.TypeText || c.Meta.ValueType() == accessfile.TypeMemo
}

func columnDef(t *Table, c *Column, expr ExpressionFunc) (string, error) {
	var b strings.Builder
	b.WriteString(typemap.QuoteIdent(c.Name))
	b.WriteByte(' ')

	if t.RowIDAlias && len(t.PK) == 1 && strings.EqualFold(t.PK[0], c.Name) {
		b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		return b.String(), nil
	}
	b.WriteString(c.EngineType)

	if c.Generated {
		if expr == nil {
			return "", &SchemaImportError{Table: t.Meta.Name, Column: c.Meta.Name, Reason: "calculated columns need an expression translator", Err: accessfile.ErrUnsupported}
		}
		e, err := expr(t, c.Meta.Expression)
		if err != nil {
			return "", &SchemaImportError{Table: t.Meta.Name, Column: c.Meta.Name, Reason: "untranslatable expression", Err: err}
		}
		fmt.Fprintf(&b, " GENERATED ALWAYS AS (%s) VIRTUAL", e)
		return b.String(), nil
	}

	if c.Meta.Required && !c.Meta.AutoNumber {
		b.WriteString(" NOT NULL")
	}
	if textual(c) {
		b.WriteString(" COLLATE NOCASE")
	}
	if def, ok := engineDefault(c.Meta); ok {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String(), nil
}

// engineDefault renders a column default as an engine DEFAULT clause.
// Defaults the engine cannot express are left to write-back.
func engineDefault(col accessfile.ColumnMeta) (string, bool) {
	d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(col.Default), "="))
	switch d {
	case "":
		return "", false
	case "now()":
		return "(datetime('now', 'localtime'))", true
	case "date()":
		return "(date('now', 'localtime') || ' 00:00:00')", true
	case "time()":
		return "('1899-12-30 ' || time('now', 'localtime'))", true
	}
	v, err := typemap.ToEngine(col, accessfile.ParseDefault(col.Default))
	if err != nil || v == nil {
		return "", false
	}
	return literal(v)
}

func literal(v interface{}) (string, bool) {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case string:
		return typemap.QuoteString(x), true
	}
	return "", false
}

func foreignKey(m *Mirror, rel accessfile.Relationship) (string, bool) {
	from, ok := m.Table(rel.FromTable)
	if !ok {
		return "", false
	}
	to, ok := m.Table(rel.ToTable)
	if !ok {
		return "", false
	}
	fromCols := make([]string, len(rel.FromColumns))
	toCols := make([]string, len(rel.ToColumns))
	for i := range rel.FromColumns {
		fc, ok1 := from.Column(rel.FromColumns[i])
		tc, ok2 := to.Column(rel.ToColumns[i])
		if !ok1 || !ok2 {
			return "", false
		}
		fromCols[i] = typemap.QuoteIdent(fc.Name)
		toCols[i] = typemap.QuoteIdent(tc.Name)
	}
	fk := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		strings.Join(fromCols, ", "), typemap.QuoteIdent(to.Name), strings.Join(toCols, ", "))
	if rel.CascadeUpdates {
		fk += " ON UPDATE CASCADE"
	}
	if rel.CascadeDeletes {
		fk += " ON DELETE CASCADE"
	}
	return fk + " DEFERRABLE INITIALLY DEFERRED", true
}

// CreateTableSQL renders the CREATE TABLE statement of t, including its
// primary key and the enforced relationships it references.
func CreateTableSQL(m *Mirror, t *Table, expr ExpressionFunc) (string, error) {
	var parts []string
	for _, c := range t.Columns {
		def, err := columnDef(t, c, expr)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	if len(t.PK) > 0 && !t.RowIDAlias {
		quoted := make([]string, len(t.PK))
		for i, c := range t.PK {
			quoted[i] = typemap.QuoteIdent(c)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	for _, rel := range m.RelationshipsOf(t.Meta.Name) {
		if !rel.Enforce {
			continue
		}
		if fk, ok := foreignKey(m, rel); ok {
			parts = append(parts, fk)
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", typemap.QuoteIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// AutoNumberTriggerSQL renders the triggers filling autonumber columns that
// are not the rowid. Integer columns draw from SequenceTable; GUID columns
// get a fresh GUID.
func AutoNumberTriggerSQL(t *Table) []string {
	var out []string
	table := typemap.QuoteIdent(t.Name)
	for _, c := range t.AutoNumbers() {
		if t.RowIDAlias && strings.EqualFold(t.PK[0], c.Name) {
			continue
		}
		col := typemap.QuoteIdent(c.Name)
		if c.Meta.Type == accessfile.TypeGUID {
			out = append(out, fmt.Sprintf(
				"CREATE TRIGGER %s AFTER INSERT ON %s WHEN NEW.%s IS NULL BEGIN UPDATE %s SET %s = acc_newguid() WHERE rowid = NEW.rowid; END",
				triggerName("an", t, c.Name), table, col, table, col))
			continue
		}
		key := typemap.QuoteString(SequenceKey(t, c))
		out = append(out,
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s WHEN NEW.%s IS NULL BEGIN "+
				"UPDATE %s SET seq = seq + 1 WHERE name = %s; "+
				"UPDATE %s SET %s = (SELECT seq FROM %s WHERE name = %s) WHERE rowid = NEW.rowid; END",
				triggerName("an", t, c.Name), table, col,
				SequenceTable, key,
				table, col, SequenceTable, key),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s WHEN NEW.%s IS NOT NULL BEGIN "+
				"UPDATE %s SET seq = MAX(seq, NEW.%s) WHERE name = %s; END",
				triggerName("ax", t, c.Name), table, col,
				SequenceTable, col, key))
	}
	return out
}

// CaptureTriggerSQL renders the triggers reporting every row change of t to
// the engine's change capture.
func CaptureTriggerSQL(t *Table) []string {
	table := typemap.QuoteIdent(t.Name)
	name := typemap.QuoteString(t.Name)
	var old strings.Builder
	for _, c := range t.StoredColumns() {
		old.WriteString(", OLD.")
		old.WriteString(typemap.QuoteIdent(c.Name))
	}
	return []string{
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s BEGIN SELECT %s(%s, 'I', NULL, NEW.rowid); END",
			triggerName("ai", t, ""), table, engine.CaptureFunc, name),
		fmt.Sprintf("CREATE TRIGGER %s AFTER UPDATE ON %s BEGIN SELECT %s(%s, 'U', OLD.rowid, NEW.rowid%s); END",
			triggerName("au", t, ""), table, engine.CaptureFunc, name, old.String()),
		fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s BEGIN SELECT %s(%s, 'D', OLD.rowid, NULL%s); END",
			triggerName("ad", t, ""), table, engine.CaptureFunc, name, old.String()),
	}
}

// DropCaptureTriggerSQL drops the capture triggers of t.
func DropCaptureTriggerSQL(t *Table) []string {
	out := make([]string, 0, 3)
	for _, kind := range []string{"ai", "au", "ad"} {
		out = append(out, "DROP TRIGGER IF EXISTS "+triggerName(kind, t, ""))
	}
	return out
}

// IndexSQL renders CREATE INDEX for a non-primary index of t.
func IndexSQL(t *Table, idx accessfile.IndexMeta) (string, error) {
	name, ok := t.Indexes[typemap.FoldName(idx.Name)]
	if !ok {
		return "", fmt.Errorf("index %s of %s is not mirrored: %w", idx.Name, t.Meta.Name, accessfile.ErrNoSuchIndex)
	}
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		c, ok := t.Column(col)
		if !ok {
			return "", fmt.Errorf("index %s names %s: %w", idx.Name, col, accessfile.ErrNoSuchColumn)
		}
		cols[i] = typemap.QuoteIdent(c.Name)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, typemap.QuoteIdent(name), typemap.QuoteIdent(t.Name), strings.Join(cols, ", ")), nil
}

// TableStatements renders everything CreateTableSQL, AutoNumberTriggerSQL
// and CaptureTriggerSQL produce for t, in execution order.
func TableStatements(m *Mirror, t *Table, expr ExpressionFunc) ([]string, error) {
	create, err := CreateTableSQL(m, t, expr)
	if err != nil {
		return nil, err
	}
	stmts := []string{create}
	if len(t.AutoNumbers()) > 0 {
		stmts = append(stmts, createSequenceTable)
		for _, c := range t.AutoNumbers() {
			if c.Meta.Type == accessfile.TypeGUID || (t.RowIDAlias && strings.EqualFold(t.PK[0], c.Name)) {
				continue
			}
			stmts = append(stmts, fmt.Sprintf("INSERT OR IGNORE INTO %s (name, seq) VALUES (%s, 0)",
				SequenceTable, typemap.QuoteString(SequenceKey(t, c))))
		}
	}
	stmts = append(stmts, AutoNumberTriggerSQL(t)...)
	return append(stmts, CaptureTriggerSQL(t)...), nil
}
