package accessfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/notzippy/ucanaccess-code/encoding"
	"github.com/rs/zerolog/log"
)

func (s *Session) checkColumn(table string, col ColumnMeta, op string) error {
	if strings.TrimSpace(col.Name) == "" {
		return rowErr(table, op, errors.New("column name is empty"))
	}
	if !validType(col.Type) {
		return rowErr(table, op, fmt.Errorf("column %s: unknown type %d", col.Name, col.Type))
	}
	format := s.f.Format()
	for _, t := range []DataType{col.Type, col.ElementType, col.ResultType} {
		if t != 0 && format < t.MinFormat() {
			return rowErr(table, op, fmt.Errorf("%w: %s column %s needs %s, file is %s", ErrUnsupported, t, col.Name, t.MinFormat(), format))
		}
	}
	if col.Type == TypeCalculated && (col.Expression == "" || col.ResultType == 0 || col.ResultType.Complex()) {
		return rowErr(table, op, fmt.Errorf("calculated column %s needs an expression and a scalar result type", col.Name))
	}
	if col.Type == TypeMultiValue && col.ElementType.Complex() {
		return rowErr(table, op, fmt.Errorf("multi-value column %s cannot hold %s", col.Name, col.ElementType))
	}
	if col.AutoNumber && col.Type != TypeLong && col.Type != TypeGUID && col.Type != TypeBigInt {
		return rowErr(table, op, fmt.Errorf("autonumber column %s must be LONG, BIGINT or GUID", col.Name))
	}
	return nil
}

func validType(t DataType) bool {
	_, ok := dataTypeNames[t]
	return ok
}

func checkIndex(meta *TableMeta, idx IndexMeta, op string) error {
	if strings.TrimSpace(idx.Name) == "" || len(idx.Columns) == 0 {
		return rowErr(meta.Name, op, errors.New("index needs a name and at least one column"))
	}
	if _, exists := meta.Index(idx.Name); exists {
		return rowErr(meta.Name, op, fmt.Errorf("index %s already exists", idx.Name))
	}
	for _, name := range idx.Columns {
		col, ok := meta.Column(name)
		if !ok {
			return rowErrf(meta.Name, op, ErrNoSuchColumn, "%s in index %s", name, idx.Name)
		}
		if col.Complex() {
			return rowErr(meta.Name, op, fmt.Errorf("%w: index on complex column %s", ErrUnsupported, col.Name))
		}
	}
	if idx.Primary {
		if _, exists := meta.PrimaryKey(); exists {
			return rowErr(meta.Name, op, errors.New("table already has a primary key"))
		}
	}
	return nil
}

// CreateTable adds a table after every existing one. meta.ID and
// meta.Ordinal are assigned by the file.
func (s *Session) CreateTable(meta TableMeta) (*TableMeta, error) {
	const op = "create table"
	if err := s.check(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(meta.Name) == "" || len(meta.Columns) == 0 {
		return nil, rowErr(meta.Name, op, errors.New("table needs a name and at least one column"))
	}
	tables, err := loadTables(s.batch)
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	ordinal := 0
	for _, t := range tables {
		if Fold(t.Name) == Fold(meta.Name) {
			return nil, rowErrf(meta.Name, op, ErrTableExists, "%s", meta.Name)
		}
		if t.Ordinal >= ordinal {
			ordinal = t.Ordinal + 1
		}
	}

	seen := make(map[string]bool)
	for _, col := range meta.Columns {
		if err := s.checkColumn(meta.Name, col, op); err != nil {
			return nil, err
		}
		if seen[Fold(col.Name)] {
			return nil, rowErr(meta.Name, op, fmt.Errorf("duplicate column %s", col.Name))
		}
		seen[Fold(col.Name)] = true
	}

	indexes := meta.Indexes
	out := TableMeta{Name: meta.Name, Ordinal: ordinal, Columns: append([]ColumnMeta(nil), meta.Columns...)}
	for _, idx := range indexes {
		if idx.Primary {
			idx.Unique = true
		}
		if err := checkIndex(&out, idx, op); err != nil {
			return nil, err
		}
		out.Indexes = append(out.Indexes, idx)
	}

	lastID, err := readCounter(s.batch, []byte(keyTableSeq))
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	out.ID = uint32(lastID + 1)
	if err := s.batch.Set([]byte(keyTableSeq), encodeCounter(lastID+1), nil); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	if err := s.putTable(&out, op); err != nil {
		return nil, err
	}
	log.Debug().Str("table", out.Name).Uint32("table_id", out.ID).Msg("Created table in file session")
	return &out, nil
}

// DropTable removes a table with its rows, indexes and allocators. Tables
// still named by a relationship cannot be dropped.
func (s *Session) DropTable(name string) error {
	const op = "drop table"
	if err := s.check(op); err != nil {
		return err
	}
	meta, err := findTable(s.batch, name)
	if err != nil {
		return err
	}
	rels, err := loadRelationships(s.batch)
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	for _, rel := range rels {
		if Fold(rel.FromTable) == Fold(meta.Name) || Fold(rel.ToTable) == Fold(meta.Name) {
			return rowErrf(meta.Name, op, ErrReferentialIntegrity, "table is part of relationship %s", rel.Name)
		}
	}

	for _, prefix := range [][]byte{rowPrefix(meta.ID), tableIndexPrefix(meta.ID), autoSeqPrefix(meta.ID)} {
		if err := s.deletePrefix(prefix); err != nil {
			return &FileError{Path: s.f.h.path, Op: op, Err: err}
		}
	}
	for _, key := range [][]byte{rowSeqKey(meta.ID), tableKey(meta.ID)} {
		if err := s.batch.Delete(key, nil); err != nil {
			return &FileError{Path: s.f.h.path, Op: op, Err: err}
		}
	}
	s.writes++
	delete(s.touched, Fold(meta.Name))
	return nil
}

// AddColumn appends a column. Existing rows receive the column default, or
// fresh allocator values for an autonumber column.
func (s *Session) AddColumn(table string, col ColumnMeta) error {
	const op = "add column"
	if err := s.check(op); err != nil {
		return err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return err
	}
	if err := s.checkColumn(meta.Name, col, op); err != nil {
		return err
	}
	if _, exists := meta.Column(col.Name); exists {
		return rowErr(meta.Name, op, fmt.Errorf("column %s already exists", col.Name))
	}
	meta.Columns = append(meta.Columns, col)

	type pending struct {
		id  uint64
		row Row
	}
	var rows []pending
	if err := scanRows(s.batch, meta, func(rowID uint64, r Row) error {
		rows = append(rows, pending{rowID, r})
		return nil
	}); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	for _, p := range rows {
		var v interface{}
		switch {
		case col.AutoNumber:
			if v, err = s.allocate(meta, col); err != nil {
				return err
			}
		case col.Default != "":
			if v, err = Normalize(col, ParseDefault(col.Default)); err != nil {
				return rowErr(meta.Name, op, err)
			}
		}
		if v == nil && col.Required {
			return rowErrf(meta.Name, op, ErrNullViolation, "existing rows have no value for %s", col.Name)
		}
		p.row[col.Name] = v
		if err := s.putRow(meta, p.id, p.row, op); err != nil {
			return err
		}
	}
	s.touch(meta.Name)
	return s.putTable(meta, op)
}

// DropColumn removes a column that no index or relationship uses.
func (s *Session) DropColumn(table, column string) error {
	const op = "drop column"
	if err := s.check(op); err != nil {
		return err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return err
	}
	col, ok := meta.Column(column)
	if !ok {
		return rowErrf(meta.Name, op, ErrNoSuchColumn, "%s", column)
	}
	if len(meta.Columns) == 1 {
		return rowErr(meta.Name, op, errors.New("cannot drop the only column"))
	}
	for _, idx := range meta.Indexes {
		for _, c := range idx.Columns {
			if Fold(c) == Fold(col.Name) {
				return rowErr(meta.Name, op, fmt.Errorf("column %s is part of index %s", col.Name, idx.Name))
			}
		}
	}
	rels, err := loadRelationships(s.batch)
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	for _, rel := range rels {
		if (Fold(rel.FromTable) == Fold(meta.Name) && containsFold(rel.FromColumns, col.Name)) ||
			(Fold(rel.ToTable) == Fold(meta.Name) && containsFold(rel.ToColumns, col.Name)) {
			return rowErrf(meta.Name, op, ErrReferentialIntegrity, "column %s is part of relationship %s", col.Name, rel.Name)
		}
	}

	kept := meta.Columns[:0:0]
	for _, c := range meta.Columns {
		if Fold(c.Name) != Fold(col.Name) {
			kept = append(kept, c)
		}
	}
	meta.Columns = kept

	// Rewriting every row drops the stale value so a later column of the
	// same name starts empty.
	type pending struct {
		id  uint64
		row Row
	}
	var rows []pending
	if err := scanRows(s.batch, meta, func(rowID uint64, r Row) error {
		rows = append(rows, pending{rowID, r})
		return nil
	}); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	for _, p := range rows {
		if err := s.putRow(meta, p.id, p.row, op); err != nil {
			return err
		}
	}
	if err := s.batch.Delete(autoSeqKey(meta.ID, col.Name), nil); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	return s.putTable(meta, op)
}

// CreateIndex adds an index, building unique entries for existing rows.
func (s *Session) CreateIndex(table string, idx IndexMeta) error {
	const op = "create index"
	if err := s.check(op); err != nil {
		return err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return err
	}
	if idx.Primary {
		idx.Unique = true
	}
	if err := checkIndex(meta, idx, op); err != nil {
		return err
	}
	meta.Indexes = append(meta.Indexes, idx)

	if idx.Unique {
		only := &TableMeta{ID: meta.ID, Name: meta.Name, Columns: meta.Columns, Indexes: []IndexMeta{idx}}
		type pending struct {
			id  uint64
			row Row
		}
		var rows []pending
		if err := scanRows(s.batch, meta, func(rowID uint64, r Row) error {
			rows = append(rows, pending{rowID, r})
			return nil
		}); err != nil {
			return &FileError{Path: s.f.h.path, Op: op, Err: err}
		}
		for _, p := range rows {
			if idx.Primary {
				if err := checkRequired(only, p.row, op); err != nil {
					return err
				}
			}
			if err := s.putIndexEntries(only, p.id, p.row, op); err != nil {
				return err
			}
		}
	}
	return s.putTable(meta, op)
}

// DropIndex removes an index and its entries.
func (s *Session) DropIndex(table, name string) error {
	const op = "drop index"
	if err := s.check(op); err != nil {
		return err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return err
	}
	idx, ok := meta.Index(name)
	if !ok {
		return rowErrf(meta.Name, op, ErrNoSuchIndex, "%s", name)
	}
	kept := meta.Indexes[:0:0]
	for _, i := range meta.Indexes {
		if Fold(i.Name) != Fold(idx.Name) {
			kept = append(kept, i)
		}
	}
	meta.Indexes = kept
	if err := s.deletePrefix(indexPrefix(meta.ID, idx.Name)); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	return s.putTable(meta, op)
}

// AddRelationship records a relationship. ToColumns must be covered by a
// unique index of ToTable. Enforced relationships are checked on Commit.
func (s *Session) AddRelationship(rel Relationship) error {
	const op = "add relationship"
	if err := s.check(op); err != nil {
		return err
	}
	if rel.Name == "" || len(rel.FromColumns) == 0 || len(rel.FromColumns) != len(rel.ToColumns) {
		return rowErr(rel.FromTable, op, errors.New("relationship needs a name and matching column lists"))
	}
	rel.FromColumns = append([]string(nil), rel.FromColumns...)
	rel.ToColumns = append([]string(nil), rel.ToColumns...)
	from, err := findTable(s.batch, rel.FromTable)
	if err != nil {
		return err
	}
	to, err := findTable(s.batch, rel.ToTable)
	if err != nil {
		return err
	}
	for i := range rel.FromColumns {
		fc, ok := from.Column(rel.FromColumns[i])
		if !ok {
			return rowErrf(from.Name, op, ErrNoSuchColumn, "%s", rel.FromColumns[i])
		}
		tc, ok := to.Column(rel.ToColumns[i])
		if !ok {
			return rowErrf(to.Name, op, ErrNoSuchColumn, "%s", rel.ToColumns[i])
		}
		rel.FromColumns[i], rel.ToColumns[i] = fc.Name, tc.Name
	}
	rel.FromTable, rel.ToTable = from.Name, to.Name

	covered := false
	for _, idx := range to.Indexes {
		if idx.Unique && sameColumnSet(idx.Columns, rel.ToColumns) {
			covered = true
			break
		}
	}
	if !covered {
		return rowErr(to.Name, op, fmt.Errorf("columns %v are not covered by a unique index", rel.ToColumns))
	}

	if _, closer, err := s.batch.Get(relKey(rel.Name)); err == nil {
		closer.Close()
		return rowErr(from.Name, op, fmt.Errorf("relationship %s already exists", rel.Name))
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}

	data, err := encoding.Seal(rel)
	if err == nil {
		err = s.batch.Set(relKey(rel.Name), data, nil)
	}
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	s.writes++
	s.touch(from.Name)
	return nil
}

// DropRelationship removes a relationship by name.
func (s *Session) DropRelationship(name string) error {
	const op = "drop relationship"
	if err := s.check(op); err != nil {
		return err
	}
	_, closer, err := s.batch.Get(relKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return rowErr(name, op, fmt.Errorf("no such relationship %s", name))
	}
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	closer.Close()
	if err := s.batch.Delete(relKey(name), nil); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	s.writes++
	return nil
}

// checkIntegrity verifies every enforced relationship that touches a table
// written in this session: each non-null foreign tuple must match a row of
// the referenced table.
func (s *Session) checkIntegrity() error {
	if len(s.touched) == 0 {
		return nil
	}
	rels, err := loadRelationships(s.batch)
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: "commit", Err: err}
	}
	for _, rel := range rels {
		if !rel.Enforce || (!s.touched[Fold(rel.FromTable)] && !s.touched[Fold(rel.ToTable)]) {
			continue
		}
		to, err := findTable(s.batch, rel.ToTable)
		if err != nil {
			return err
		}
		from, err := findTable(s.batch, rel.FromTable)
		if err != nil {
			return err
		}

		parents := make(map[string]bool)
		if err := scanRows(s.batch, to, func(_ uint64, r Row) error {
			key, hasNull, err := indexTuple(to, rel.ToColumns, r)
			if err == nil && !hasNull {
				parents[string(key)] = true
			}
			return err
		}); err != nil {
			return &FileError{Path: s.f.h.path, Op: "commit", Err: err}
		}

		// Child tuples are re-keyed with the parent's column names so the
		// encoded form matches.
		var violation error
		if err := scanRows(s.batch, from, func(_ uint64, r Row) error {
			child := make(Row, len(rel.FromColumns))
			for i, fc := range rel.FromColumns {
				v, _ := r.Get(fc)
				if tc, ok := to.Column(rel.ToColumns[i]); ok && v != nil {
					if n, err := Normalize(tc, v); err == nil {
						v = n
					}
				}
				child[rel.ToColumns[i]] = v
			}
			key, hasNull, err := indexTuple(to, rel.ToColumns, child)
			if err != nil {
				return err
			}
			if !hasNull && !parents[string(key)] {
				violation = rowErrf(from.Name, "commit", ErrReferentialIntegrity, "relationship %s: no %s row matches %v", rel.Name, to.Name, child)
				return violation
			}
			return nil
		}); err != nil {
			if violation != nil {
				return violation
			}
			return &FileError{Path: s.f.h.path, Op: "commit", Err: err}
		}
	}
	return nil
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if Fold(v) == Fold(name) {
			return true
		}
	}
	return false
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, name := range a {
		if !containsFold(b, name) {
			return false
		}
	}
	return true
}
