package accessfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/notzippy/ucanaccess-code/encoding"
	"github.com/rs/zerolog/log"
)

// Session holds the exclusive write lock of a file. Writes accumulate in an
// indexed batch, are visible to the session's own reads, and reach the file
// only on Commit.
type Session struct {
	f       *File
	batch   *pebble.Batch
	touched map[string]bool
	writes  int
	done    bool
}

func (s *Session) check(op string) error {
	if s.done {
		return &FileError{Path: s.f.h.path, Op: op, Err: ErrSessionDone}
	}
	return s.f.check(op)
}

// Writes returns the number of row and schema changes pending in the session.
func (s *Session) Writes() int {
	return s.writes
}

// Commit checks deferred referential integrity and applies every pending
// write atomically, then releases the lock. On error nothing is applied and
// the session stays open until Release.
func (s *Session) Commit() error {
	if err := s.check("commit"); err != nil {
		return err
	}
	if err := s.checkIntegrity(); err != nil {
		return err
	}
	if err := s.batch.Commit(pebble.Sync); err != nil {
		return &FileError{Path: s.f.h.path, Op: "commit", Err: err}
	}
	log.Debug().Str("path", s.f.h.path).Int("writes", s.writes).Msg("Committed file session")
	s.finish()
	return nil
}

// Release discards uncommitted writes and unlocks the file. Safe to call
// after Commit.
func (s *Session) Release() {
	if s.done {
		return
	}
	s.finish()
}

func (s *Session) finish() {
	s.done = true
	_ = s.batch.Close()
	<-s.f.h.lock
}

// ListTables returns tables in declaration order, including pending DDL.
func (s *Session) ListTables() ([]TableMeta, error) {
	if err := s.check("list tables"); err != nil {
		return nil, err
	}
	return loadTables(s.batch)
}

// Table returns table metadata, including pending DDL.
func (s *Session) Table(name string) (*TableMeta, error) {
	if err := s.check("table"); err != nil {
		return nil, err
	}
	return findTable(s.batch, name)
}

// Rows returns the rows of a table as the session sees them.
func (s *Session) Rows(table string) ([]Row, error) {
	if err := s.check("scan"); err != nil {
		return nil, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return nil, err
	}
	var rows []Row
	err = scanRows(s.batch, meta, func(_ uint64, r Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// NextAutonumber allocates the next value of an autonumber column. GUID
// columns receive a random GUID; numeric columns receive one more than the
// highest value ever allocated.
func (s *Session) NextAutonumber(table, column string) (interface{}, error) {
	if err := s.check("next autonumber"); err != nil {
		return nil, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return nil, err
	}
	col, ok := meta.Column(column)
	if !ok || !col.AutoNumber {
		return nil, rowErrf(meta.Name, "next autonumber", ErrNoSuchColumn, "%s is not an autonumber column", column)
	}
	return s.allocate(meta, col)
}

// PeekAutonumber returns the value NextAutonumber would allocate for a
// numeric autonumber column, counting allocations pending in the session.
func (s *Session) PeekAutonumber(table, column string) (int64, error) {
	if err := s.check("peek autonumber"); err != nil {
		return 0, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return 0, err
	}
	col, ok := meta.Column(column)
	if !ok || !col.AutoNumber || !col.Type.Integral() {
		return 0, rowErrf(meta.Name, "peek autonumber", ErrNoSuchColumn, "%s is not a numeric autonumber column", column)
	}
	last, err := readCounter(s.batch, autoSeqKey(meta.ID, col.Name))
	if err != nil {
		return 0, &FileError{Path: s.f.h.path, Op: "peek autonumber", Err: err}
	}
	return last + 1, nil
}

func (s *Session) allocate(meta *TableMeta, col ColumnMeta) (interface{}, error) {
	if col.Type == TypeGUID {
		return uuid.New(), nil
	}
	key := autoSeqKey(meta.ID, col.Name)
	last, err := readCounter(s.batch, key)
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "next autonumber", Err: err}
	}
	if err := s.batch.Set(key, encodeCounter(last+1), nil); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "next autonumber", Err: err}
	}
	return Normalize(col, last+1)
}

// observeAutonumber moves the allocator past an explicitly supplied value.
func (s *Session) observeAutonumber(meta *TableMeta, col ColumnMeta, v interface{}) error {
	if col.Type == TypeGUID || v == nil {
		return nil
	}
	n, err := toInt(v)
	if err != nil {
		return err
	}
	key := autoSeqKey(meta.ID, col.Name)
	last, err := readCounter(s.batch, key)
	if err != nil {
		return err
	}
	if n > last {
		return s.batch.Set(key, encodeCounter(n), nil)
	}
	return nil
}

// AddRow inserts a row and returns it as stored, with defaults and
// autonumbers filled in. Absent autonumber columns are allocated.
func (s *Session) AddRow(table string, values Row) (Row, error) {
	if err := s.check("add row"); err != nil {
		return nil, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return nil, err
	}
	if err := unknownColumns(meta, values, "add row"); err != nil {
		return nil, err
	}

	row := make(Row, len(meta.Columns))
	for _, col := range meta.Columns {
		v, present := values.Get(col.Name)
		switch {
		case v == nil && col.AutoNumber:
			if v, err = s.allocate(meta, col); err != nil {
				return nil, err
			}
		case !present && col.Default != "":
			v = ParseDefault(col.Default)
		}
		n, err := Normalize(col, v)
		if err != nil {
			return nil, rowErr(meta.Name, "add row", fmt.Errorf("column %s: %w", col.Name, err))
		}
		if col.AutoNumber && present {
			if err := s.observeAutonumber(meta, col, n); err != nil {
				return nil, &FileError{Path: s.f.h.path, Op: "add row", Err: err}
			}
		}
		row[col.Name] = n
	}
	if err := checkRequired(meta, row, "add row"); err != nil {
		return nil, err
	}

	seqKey := rowSeqKey(meta.ID)
	last, err := readCounter(s.batch, seqKey)
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "add row", Err: err}
	}
	rowID := uint64(last + 1)
	if err := s.batch.Set(seqKey, encodeCounter(last+1), nil); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "add row", Err: err}
	}

	if err := s.putIndexEntries(meta, rowID, row, "add row"); err != nil {
		return nil, err
	}
	if err := s.putRow(meta, rowID, row, "add row"); err != nil {
		return nil, err
	}
	s.touch(meta.Name)
	return row, nil
}

// UpdateRow changes the columns in values of the row located by id and
// returns the row as stored.
func (s *Session) UpdateRow(table string, id RowIdentity, values Row) (Row, error) {
	if err := s.check("update row"); err != nil {
		return nil, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return nil, err
	}
	if err := unknownColumns(meta, values, "update row"); err != nil {
		return nil, err
	}
	rowID, old, err := s.locate(meta, id, "update row")
	if err != nil {
		return nil, err
	}

	row := make(Row, len(old))
	for k, v := range old {
		row[k] = v
	}
	for _, col := range meta.Columns {
		v, present := values.Get(col.Name)
		if !present {
			continue
		}
		n, err := Normalize(col, v)
		if err != nil {
			return nil, rowErr(meta.Name, "update row", fmt.Errorf("column %s: %w", col.Name, err))
		}
		if col.AutoNumber {
			if err := s.observeAutonumber(meta, col, n); err != nil {
				return nil, &FileError{Path: s.f.h.path, Op: "update row", Err: err}
			}
		}
		row[col.Name] = n
	}
	if err := checkRequired(meta, row, "update row"); err != nil {
		return nil, err
	}

	if err := s.deleteIndexEntries(meta, old); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "update row", Err: err}
	}
	if err := s.putIndexEntries(meta, rowID, row, "update row"); err != nil {
		return nil, err
	}
	if err := s.putRow(meta, rowID, row, "update row"); err != nil {
		return nil, err
	}
	s.touch(meta.Name)
	return row, nil
}

// DeleteRow removes the row located by id and returns its last values.
func (s *Session) DeleteRow(table string, id RowIdentity) (Row, error) {
	if err := s.check("delete row"); err != nil {
		return nil, err
	}
	meta, err := findTable(s.batch, table)
	if err != nil {
		return nil, err
	}
	rowID, old, err := s.locate(meta, id, "delete row")
	if err != nil {
		return nil, err
	}
	if err := s.deleteIndexEntries(meta, old); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "delete row", Err: err}
	}
	if err := s.batch.Delete(rowKey(meta.ID, rowID), nil); err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "delete row", Err: err}
	}
	s.writes++
	s.touch(meta.Name)
	return old, nil
}

// locate finds a row through the primary key when id carries every key
// column, and by matching all of id's values otherwise.
func (s *Session) locate(meta *TableMeta, id RowIdentity, op string) (uint64, Row, error) {
	if len(id.Key) == 0 {
		return 0, nil, rowErrf(meta.Name, op, ErrRowNotFound, "empty row identity")
	}
	want := make(Row, len(id.Key))
	for name, v := range id.Key {
		col, ok := meta.Column(name)
		if !ok {
			return 0, nil, rowErrf(meta.Name, op, ErrNoSuchColumn, "%s", name)
		}
		n, err := Normalize(col, v)
		if err != nil {
			return 0, nil, rowErr(meta.Name, op, fmt.Errorf("identity column %s: %w", name, err))
		}
		want[col.Name] = n
	}

	if pk, ok := meta.PrimaryKey(); ok && coversColumns(want, pk.Columns) {
		key, hasNull, err := indexTuple(meta, pk.Columns, want)
		if err != nil {
			return 0, nil, rowErr(meta.Name, op, err)
		}
		if !hasNull {
			rowID, found, err := s.indexLookup(meta, pk.Name, key)
			if err != nil {
				return 0, nil, &FileError{Path: s.f.h.path, Op: op, Err: err}
			}
			if !found {
				return 0, nil, rowErrf(meta.Name, op, ErrRowNotFound, "primary key %v", id.Key)
			}
			row, err := s.getRow(meta, rowID)
			if err != nil {
				return 0, nil, err
			}
			return rowID, row, nil
		}
	}

	var (
		foundID  uint64
		foundRow Row
		errStop  = errors.New("stop")
	)
	err := scanRows(s.batch, meta, func(rowID uint64, r Row) error {
		for name, v := range want {
			if !SameValue(r[name], v) {
				return nil
			}
		}
		foundID, foundRow = rowID, r
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return 0, nil, &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	if foundRow == nil {
		return 0, nil, rowErrf(meta.Name, op, ErrRowNotFound, "no row matches %v", id.Key)
	}
	return foundID, foundRow, nil
}

func (s *Session) getRow(meta *TableMeta, rowID uint64) (Row, error) {
	val, closer, err := s.batch.Get(rowKey(meta.ID, rowID))
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "read row", Err: fmt.Errorf("%w: dangling index entry for row %d of %s", ErrCorrupt, rowID, meta.Name)}
	}
	defer closer.Close()
	row, err := decodeRow(meta, val)
	if err != nil {
		return nil, &FileError{Path: s.f.h.path, Op: "read row", Err: err}
	}
	return row, nil
}

func (s *Session) putRow(meta *TableMeta, rowID uint64, row Row, op string) error {
	data, err := encodeRow(meta, row)
	if err != nil {
		return rowErr(meta.Name, op, err)
	}
	if err := s.batch.Set(rowKey(meta.ID, rowID), data, nil); err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	s.writes++
	return nil
}

func (s *Session) indexLookup(meta *TableMeta, index string, key []byte) (uint64, bool, error) {
	full := append(indexPrefix(meta.ID, index), key...)
	val, closer, err := s.batch.Get(full)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(val) < 8 {
		return 0, false, fmt.Errorf("%w: index entry of %s", ErrCorrupt, index)
	}
	return uint64(decodeCounter(val)), true, nil
}

func (s *Session) putIndexEntries(meta *TableMeta, rowID uint64, row Row, op string) error {
	for _, idx := range meta.Indexes {
		if !idx.Unique && !idx.Primary {
			continue
		}
		key, hasNull, err := indexTuple(meta, idx.Columns, row)
		if err != nil {
			return rowErr(meta.Name, op, err)
		}
		if hasNull {
			continue
		}
		if _, exists, err := s.indexLookup(meta, idx.Name, key); err != nil {
			return &FileError{Path: s.f.h.path, Op: op, Err: err}
		} else if exists {
			return rowErrf(meta.Name, op, ErrDuplicateKey, "index %s", idx.Name)
		}
		full := append(indexPrefix(meta.ID, idx.Name), key...)
		if err := s.batch.Set(full, encodeCounter(int64(rowID)), nil); err != nil {
			return &FileError{Path: s.f.h.path, Op: op, Err: err}
		}
	}
	return nil
}

func (s *Session) deleteIndexEntries(meta *TableMeta, row Row) error {
	for _, idx := range meta.Indexes {
		if !idx.Unique && !idx.Primary {
			continue
		}
		key, hasNull, err := indexTuple(meta, idx.Columns, row)
		if err != nil {
			return err
		}
		if hasNull {
			continue
		}
		if err := s.batch.Delete(append(indexPrefix(meta.ID, idx.Name), key...), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) touch(table string) {
	s.touched[Fold(table)] = true
}

func (s *Session) putTable(meta *TableMeta, op string) error {
	data, err := encoding.Seal(meta)
	if err == nil {
		err = s.batch.Set(tableKey(meta.ID), data, nil)
	}
	if err != nil {
		return &FileError{Path: s.f.h.path, Op: op, Err: err}
	}
	s.writes++
	return nil
}

// deletePrefix removes every key under prefix, collecting keys first since
// an open iterator does not observe later batch writes.
func (s *Session) deletePrefix(prefix []byte) error {
	var keys [][]byte
	err := iterate(s.batch, prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.batch.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func decodeCounter(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func coversColumns(row Row, columns []string) bool {
	for _, c := range columns {
		if _, ok := row.Get(c); !ok {
			return false
		}
	}
	return true
}

func unknownColumns(meta *TableMeta, values Row, op string) error {
	for name := range values {
		if _, ok := meta.Column(name); !ok {
			return rowErrf(meta.Name, op, ErrNoSuchColumn, "%s", name)
		}
	}
	return nil
}

func checkRequired(meta *TableMeta, row Row, op string) error {
	required := make(map[string]bool)
	for _, col := range meta.Columns {
		if col.Required {
			required[col.Name] = true
		}
	}
	if pk, ok := meta.PrimaryKey(); ok {
		for _, name := range pk.Columns {
			if col, ok := meta.Column(name); ok {
				required[col.Name] = true
			}
		}
	}
	for _, col := range meta.Columns {
		if required[col.Name] && row[col.Name] == nil && col.Type != TypeCalculated {
			return rowErrf(meta.Name, op, ErrNullViolation, "column %s", col.Name)
		}
	}
	return nil
}

// ParseDefault evaluates the literal default values the file's designer
// produces. Anything else yields nil.
func ParseDefault(def string) interface{} {
	d := strings.TrimSpace(def)
	d = strings.TrimPrefix(d, "=")
	switch strings.ToLower(d) {
	case "now()":
		return time.Now()
	case "date()":
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case "true", "yes":
		return true
	case "false", "no":
		return false
	case "null", "":
		return nil
	}
	if len(d) >= 2 && (d[0] == '\'' || d[0] == '"') && d[len(d)-1] == d[0] {
		q := string(d[0])
		return strings.ReplaceAll(d[1:len(d)-1], q+q, q)
	}
	if len(d) >= 2 && d[0] == '#' && d[len(d)-1] == '#' {
		if t, err := toTime(d[1 : len(d)-1]); err == nil {
			return t
		}
		return nil
	}
	return d
}
