// Package engine is the embedded relational engine: one private SQLite
// database per logical connection, with the source dialect's functions
// registered and every row change reported back to the caller.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CaptureFunc is the function change-capture triggers call with
// (table, kind, old rowid, new rowid, old column values...).
const CaptureFunc = "__ucan_capture"

// Dialect builds internal statements.
var Dialect = goqu.Dialect("sqlite3")

// ErrNoTransaction is returned by Commit and Rollback outside a transaction.
var ErrNoTransaction = errors.New("no active transaction")

// ErrTransactionActive is returned by Begin inside a transaction.
var ErrTransactionActive = errors.New("transaction already active")

// ChangeKind is the kind of a captured row change.
type ChangeKind byte

const (
	ChangeInsert ChangeKind = 'I'
	ChangeUpdate ChangeKind = 'U'
	ChangeDelete ChangeKind = 'D'
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "INSERT"
	case ChangeUpdate:
		return "UPDATE"
	case ChangeDelete:
		return "DELETE"
	}
	return fmt.Sprintf("ChangeKind(%c)", byte(k))
}

// Change is one row changed by a statement, in the order the engine made it.
type Change struct {
	Table    string
	Kind     ChangeKind
	OldRowID int64
	NewRowID int64
	// Old holds the pre-image of updated and deleted rows in the column
	// order of the capture trigger.
	Old []interface{}
}

// Result reports a mutating statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
	Changes      []Change
}

// Options configures Open.
type Options struct {
	// Memory keeps the database in memory; otherwise it lives in a temporary
	// file removed on Close.
	Memory      bool
	TempDir     string
	BusyTimeout time.Duration
	Logger      *zerolog.Logger
}

// Engine is one engine session. It is not safe for concurrent use; the
// owning connection serializes statements.
type Engine struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
	path string
	log  zerolog.Logger

	mu       sync.Mutex
	changes  []Change
	suppress atomic.Int32
}

// Open creates a fresh, empty engine database.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	var dsn, path string
	if opts.Memory {
		dsn = fmt.Sprintf("file:ucan_%s?mode=memory&cache=private&_busy_timeout=%d", uuid.NewString(), busy.Milliseconds())
	} else {
		dir := opts.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		path = filepath.Join(dir, "ucanaccess-"+uuid.NewString()+".db")
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", path, busy.Milliseconds())
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get engine connection: %w", err)
	}

	e := &Engine{db: db, conn: conn, path: path, log: logger}
	err = conn.Raw(func(driverConn interface{}) error {
		sqliteConn, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type: %T", driverConn)
		}
		return sqliteConn.RegisterFunc(CaptureFunc, e.capture, false)
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	logger.Debug().Bool("memory", opts.Memory).Str("path", path).Msg("Opened engine session")
	return e, nil
}

// Wrap builds an engine over an existing connection without change capture.
// It serves drivers other than the engine's own, such as test doubles.
func Wrap(db *sql.DB, conn *sql.Conn) *Engine {
	return &Engine{db: db, conn: conn, log: log.Logger}
}

// Close ends the session and discards the engine database.
func (e *Engine) Close() error {
	var errs []error
	if e.tx != nil {
		errs = append(errs, e.tx.Rollback())
		e.tx = nil
	}
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	if e.path != "" {
		for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
			if err := os.Remove(e.path + suffix); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) capture(args ...interface{}) (interface{}, error) {
	if e.suppress.Load() > 0 {
		return nil, nil
	}
	if len(args) < 4 {
		return nil, fmt.Errorf("%s needs at least 4 arguments", CaptureFunc)
	}
	table, _ := args[0].(string)
	kind, _ := args[1].(string)
	if table == "" || len(kind) != 1 {
		return nil, fmt.Errorf("%s: bad table or kind", CaptureFunc)
	}
	c := Change{Table: table, Kind: ChangeKind(kind[0])}
	c.OldRowID, _ = args[2].(int64)
	c.NewRowID, _ = args[3].(int64)
	if len(args) > 4 {
		c.Old = append([]interface{}(nil), args[4:]...)
	}

	e.mu.Lock()
	e.changes = append(e.changes, c)
	e.mu.Unlock()
	return nil, nil
}

func (e *Engine) resetChanges() {
	e.mu.Lock()
	e.changes = nil
	e.mu.Unlock()
}

func (e *Engine) takeChanges() []Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.changes
	e.changes = nil
	return out
}

// WithoutCapture runs fn with change capture switched off. Engine writes
// made to mirror the file, rather than on behalf of a client, use it.
func (e *Engine) WithoutCapture(fn func() error) error {
	e.suppress.Add(1)
	defer e.suppress.Add(-1)
	return fn()
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (e *Engine) target() execQuerier {
	if e.tx != nil {
		return e.tx
	}
	return e.conn
}

// Exec runs a statement and reports the rows it changed.
func (e *Engine) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	e.resetChanges()
	res, err := e.target().ExecContext(ctx, query, args...)
	changes := e.takeChanges()
	if err != nil {
		return Result{}, err
	}
	return resultOf(res, changes), nil
}

func resultOf(res sql.Result, changes []Change) Result {
	out := Result{Changes: changes}
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out
}

// Query runs a statement returning rows.
func (e *Engine) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return e.target().QueryContext(ctx, query, args...)
}

// QueryRow runs a statement returning at most one row.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return e.target().QueryRowContext(ctx, query, args...)
}

// Begin starts a transaction; statements run inside it until Commit or Rollback.
func (e *Engine) Begin(ctx context.Context) error {
	if e.tx != nil {
		return ErrTransactionActive
	}
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	e.tx = tx
	return nil
}

// InTransaction reports whether a transaction is active.
func (e *Engine) InTransaction() bool {
	return e.tx != nil
}

// Commit commits the active transaction.
func (e *Engine) Commit() error {
	if e.tx == nil {
		return ErrNoTransaction
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Commit(); err != nil {
		// A failed COMMIT, such as a deferred foreign key violation, leaves
		// the engine transaction open.
		if _, rerr := e.conn.ExecContext(context.Background(), "ROLLBACK"); rerr != nil {
			e.log.Debug().Err(rerr).Msg("Rollback after failed commit")
		}
		return err
	}
	return nil
}

// Rollback aborts the active transaction.
func (e *Engine) Rollback() error {
	if e.tx == nil {
		return ErrNoTransaction
	}
	tx := e.tx
	e.tx = nil
	return tx.Rollback()
}

// ReadRow reads columns of the row with the given rowid. Missing rows yield
// sql.ErrNoRows.
func (e *Engine) ReadRow(ctx context.Context, table string, columns []string, rowID int64) ([]interface{}, error) {
	cols := make([]interface{}, len(columns))
	for i, c := range columns {
		cols[i] = goqu.I(c)
	}
	query, args, err := Dialect.From(goqu.T(table)).Select(cols...).
		Where(goqu.L("rowid").Eq(rowID)).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := e.QueryRow(ctx, query, args...).Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

// ColumnInfo describes one engine column.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey int
}

// TableColumns lists the columns of an engine table in declaration order.
func (e *Engine) TableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := e.Query(ctx, "SELECT name, type, \"notnull\", pk FROM pragma_table_xinfo(?) WHERE hidden IN (0, 2, 3)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.PrimaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
