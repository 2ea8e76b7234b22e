// Package accessfile is the persistent database file: tables, rows, unique
// indexes, relationships and autonumber allocators stored in a pebble
// directory. Every mutation goes through an exclusive Session whose writes
// are applied atomically on Commit.
package accessfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/notzippy/ucanaccess-code/encoding"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultLockTimeout bounds AcquireExclusiveLock when neither the context nor
// Options set a deadline.
const DefaultLockTimeout = 5 * time.Second

// Options configures Create and Open.
type Options struct {
	// Format is the format of files made by Create. Ignored by Open.
	Format      Format
	ReadOnly    bool
	LockTimeout time.Duration
	// CacheSizeMB sizes the block cache of a newly opened handle.
	CacheSizeMB int64
}

type fileHeader struct {
	Magic   string    `msgpack:"magic"`
	Format  Format    `msgpack:"format"`
	Created time.Time `msgpack:"created"`
}

// handle is the process-wide state of one open file, shared by every File
// opened on the same path.
type handle struct {
	path   string
	db     *pebble.DB
	header fileHeader
	lock   chan struct{}
	refs   int
}

var (
	handles   = xsync.NewMapOf[string, *handle]()
	openGroup singleflight.Group
)

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// File is one open reference to a database file.
type File struct {
	h           *handle
	readOnly    bool
	lockTimeout time.Duration
	closed      atomic.Bool
}

// Create makes a new, empty database file of opts.Format at path.
func Create(path string, opts Options) (*File, error) {
	if !opts.Format.Valid() {
		return nil, &FileError{Path: path, Op: "create", Err: fmt.Errorf("invalid format %d", opts.Format)}
	}
	return acquire(path, true, opts)
}

// Open opens an existing database file.
func Open(path string, opts Options) (*File, error) {
	return acquire(path, false, opts)
}

func acquire(path string, create bool, opts Options) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &FileError{Path: path, Op: "open", Err: err}
	}

	for {
		if create {
			if _, open := handles.Load(abs); open {
				return nil, &FileError{Path: abs, Op: "create", Err: ErrFileExists}
			}
		}

		v, err, _ := openGroup.Do(abs, func() (interface{}, error) {
			if h, ok := handles.Load(abs); ok {
				return h, nil
			}
			h, err := openHandle(abs, create, opts)
			if err != nil {
				return nil, err
			}
			handles.Store(abs, h)
			return h, nil
		})
		if err != nil {
			return nil, err
		}
		want := v.(*handle)

		got, ok := handles.Compute(abs, func(old *handle, loaded bool) (*handle, bool) {
			if !loaded || old != want {
				return old, !loaded
			}
			old.refs++
			return old, false
		})
		if ok && got == want {
			return &File{h: want, readOnly: opts.ReadOnly, lockTimeout: opts.LockTimeout}, nil
		}
		// The handle was closed between opening and referencing it.
	}
}

func openHandle(path string, create bool, opts Options) (*handle, error) {
	cacheMB := opts.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = 8
	}
	cache := pebble.NewCache(cacheMB << 20)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:            cache,
		ErrorIfExists:    create,
		ErrorIfNotExists: !create,
		Logger:           &pebbleLogger{},
	})
	if err != nil {
		op := "open"
		if create {
			op = "create"
		}
		return nil, &FileError{Path: path, Op: op, Err: err}
	}

	h := &handle{path: path, db: db, lock: make(chan struct{}, 1)}
	if create {
		h.header = fileHeader{Magic: headerChecksum, Format: opts.Format, Created: time.Now().UTC()}
		data, err := encoding.Seal(h.header)
		if err == nil {
			err = db.Set([]byte(keyHeader), data, pebble.Sync)
		}
		if err != nil {
			db.Close()
			return nil, &FileError{Path: path, Op: "create", Err: err}
		}
		log.Info().Str("path", path).Str("format", opts.Format.String()).Msg("Created database file")
		return h, nil
	}

	if err := getSealed(db, []byte(keyHeader), &h.header); err != nil || h.header.Magic != headerChecksum || !h.header.Format.Valid() {
		db.Close()
		if err == nil || errors.Is(err, pebble.ErrNotFound) {
			err = fmt.Errorf("%w: bad header", ErrCorrupt)
		}
		return nil, &FileError{Path: path, Op: "open", Err: err}
	}
	log.Debug().Str("path", path).Str("format", h.header.Format.String()).Msg("Opened database file")
	return h, nil
}

// Close releases this reference. The underlying file closes with its last reference.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	var closing *handle
	handles.Compute(f.h.path, func(old *handle, loaded bool) (*handle, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		closing = old
		return old, true
	})
	if closing != nil {
		if err := closing.db.Close(); err != nil {
			return &FileError{Path: f.h.path, Op: "close", Err: err}
		}
	}
	return nil
}

// Path returns the absolute path of the file.
func (f *File) Path() string {
	return f.h.path
}

// Format returns the format the file was created with.
func (f *File) Format() Format {
	return f.h.header.Format
}

// ReadOnly reports whether this reference refuses writes.
func (f *File) ReadOnly() bool {
	return f.readOnly
}

func (f *File) check(op string) error {
	if f.closed.Load() {
		return &FileError{Path: f.h.path, Op: op, Err: ErrClosed}
	}
	return nil
}

// ListTables returns every table in declaration order.
func (f *File) ListTables() ([]TableMeta, error) {
	if err := f.check("list tables"); err != nil {
		return nil, err
	}
	tables, err := loadTables(f.h.db)
	if err != nil {
		return nil, &FileError{Path: f.h.path, Op: "list tables", Err: err}
	}
	return tables, nil
}

// Table returns the metadata of one table.
func (f *File) Table(name string) (*TableMeta, error) {
	if err := f.check("table"); err != nil {
		return nil, err
	}
	return findTable(f.h.db, name)
}

// Relationships returns every relationship, ordered by name.
func (f *File) Relationships() ([]Relationship, error) {
	if err := f.check("relationships"); err != nil {
		return nil, err
	}
	rels, err := loadRelationships(f.h.db)
	if err != nil {
		return nil, &FileError{Path: f.h.path, Op: "relationships", Err: err}
	}
	return rels, nil
}

// Rows returns the rows of a table in insertion order.
func (f *File) Rows(table string) ([]Row, error) {
	var rows []Row
	err := f.ScanRows(table, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// ScanRows calls fn for every row of a table in insertion order.
func (f *File) ScanRows(table string, fn func(Row) error) error {
	if err := f.check("scan"); err != nil {
		return err
	}
	meta, err := findTable(f.h.db, table)
	if err != nil {
		return err
	}
	return scanRows(f.h.db, meta, func(_ uint64, r Row) error { return fn(r) })
}

// PeekAutonumber returns the value the next insert into an autonumber
// column will receive, without allocating it.
func (f *File) PeekAutonumber(table, column string) (int64, error) {
	if err := f.check("peek autonumber"); err != nil {
		return 0, err
	}
	meta, err := findTable(f.h.db, table)
	if err != nil {
		return 0, err
	}
	col, ok := meta.Column(column)
	if !ok || !col.AutoNumber || !col.Type.Integral() {
		return 0, rowErrf(meta.Name, "peek autonumber", ErrNoSuchColumn, "%s is not a numeric autonumber column", column)
	}
	last, err := readCounter(f.h.db, autoSeqKey(meta.ID, col.Name))
	if err != nil {
		return 0, &FileError{Path: f.h.path, Op: "peek autonumber", Err: err}
	}
	return last + 1, nil
}

// AcquireExclusiveLock waits for the file-level write lock and returns a
// Session holding it. The wait is bounded by ctx and by Options.LockTimeout;
// expiry fails with ErrLocked.
func (f *File) AcquireExclusiveLock(ctx context.Context) (*Session, error) {
	if err := f.check("lock"); err != nil {
		return nil, err
	}
	if f.readOnly {
		return nil, &FileError{Path: f.h.path, Op: "lock", Err: ErrReadOnly}
	}

	timeout := f.lockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f.h.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, &FileError{Path: f.h.path, Op: "lock", Err: fmt.Errorf("%w: %v", ErrLocked, ctx.Err())}
	case <-timer.C:
		return nil, &FileError{Path: f.h.path, Op: "lock", Err: fmt.Errorf("%w: waited %s", ErrLocked, timeout)}
	}

	return &Session{
		f:       f,
		batch:   f.h.db.NewIndexedBatch(),
		touched: make(map[string]bool),
	}, nil
}

// reader is satisfied by *pebble.DB and indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func getSealed(r reader, key []byte, v interface{}) error {
	val, closer, err := r.Get(key)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := encoding.Open(val, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func readCounter(r reader, key []byte) (int64, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) < 8 {
		return 0, fmt.Errorf("%w: counter %s", ErrCorrupt, key)
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func iterate(r reader, prefix []byte, fn func(key, val []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), val); err != nil {
			return err
		}
	}
	return iter.Error()
}

func loadTables(r reader) ([]TableMeta, error) {
	var tables []TableMeta
	err := iterate(r, []byte(prefixTable), func(key, val []byte) error {
		var t TableMeta
		if err := encoding.Open(val, &t); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
		tables = append(tables, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Ordinal < tables[j].Ordinal })
	return tables, nil
}

func findTable(r reader, name string) (*TableMeta, error) {
	tables, err := loadTables(r)
	if err != nil {
		return nil, err
	}
	folded := Fold(name)
	for i := range tables {
		if Fold(tables[i].Name) == folded {
			return &tables[i], nil
		}
	}
	return nil, rowErrf(name, "lookup", ErrNoSuchTable, "%s", name)
}

func loadRelationships(r reader) ([]Relationship, error) {
	var rels []Relationship
	err := iterate(r, []byte(prefixRel), func(key, val []byte) error {
		var rel Relationship
		if err := encoding.Open(val, &rel); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
		rels = append(rels, rel)
		return nil
	})
	return rels, err
}

func decodeRow(meta *TableMeta, val []byte) (Row, error) {
	var raw map[string]interface{}
	if err := encoding.Unmarshal(val, &raw); err != nil {
		return nil, fmt.Errorf("%w: row of %s: %v", ErrCorrupt, meta.Name, err)
	}
	row := make(Row, len(meta.Columns))
	for _, col := range meta.Columns {
		v, err := fromStored(col, raw[col.Name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrCorrupt, meta.Name, col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}

func encodeRow(meta *TableMeta, row Row) ([]byte, error) {
	raw := make(map[string]interface{}, len(meta.Columns))
	for _, col := range meta.Columns {
		v, _ := row.Get(col.Name)
		stored, err := toStored(col, v)
		if err != nil {
			return nil, err
		}
		raw[col.Name] = stored
	}
	return encoding.Marshal(raw)
}

func scanRows(r reader, meta *TableMeta, fn func(rowID uint64, r Row) error) error {
	prefix := rowPrefix(meta.ID)
	return iterate(r, prefix, func(key, val []byte) error {
		var rowID uint64
		if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016x", &rowID); err != nil {
			return fmt.Errorf("%w: row key %q", ErrCorrupt, key)
		}
		row, err := decodeRow(meta, val)
		if err != nil {
			return err
		}
		return fn(rowID, row)
	})
}
