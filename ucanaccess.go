// Package ucanaccess runs Access-dialect SQL against an Access-style database
// file. Each connection mirrors the file into a private embedded SQLite
// database, executes translated statements there, and writes committed
// changes back to the file.
//
// Every error returned by this package is an *Error.
package ucanaccess

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/cfg"
	"github.com/notzippy/ucanaccess-code/coordinator"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/telemetry"
	"github.com/notzippy/ucanaccess-code/translate"
)

// BatchEntry is one statement of ExecBatch.
type BatchEntry = coordinator.BatchEntry

// Result reports the outcome of a statement that returns no rows.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Conn is one connection to a database file. Statements on a connection run
// one at a time; use one connection per goroutine.
type Conn struct {
	path   string
	conf   *cfg.Configuration
	file   *accessfile.File
	eng    *engine.Engine
	tr     *translate.Translator
	coord  *coordinator.Coordinator
	log    zerolog.Logger
	closed atomic.Bool
}

// Open connects to the file at path, creating it first when conf allows.
// A nil conf means cfg.Default().
func Open(ctx context.Context, path string, conf *cfg.Configuration) (*Conn, error) {
	if conf == nil {
		conf = cfg.Default()
	}
	if err := conf.Validate(); err != nil {
		return nil, newError(CodeConfiguration, SQLStateConnection, err)
	}
	logger := log.With().Str("file", path).Logger()

	opts := accessfile.Options{
		Format:      conf.Format(),
		ReadOnly:    conf.File.ReadOnly,
		LockTimeout: conf.LockTimeout(),
	}
	var (
		f   *accessfile.File
		err error
	)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) && conf.File.Create && !conf.File.ReadOnly {
		f, err = accessfile.Create(path, opts)
	} else {
		f, err = accessfile.Open(path, opts)
	}
	if err != nil {
		return nil, convert(err)
	}

	c, err := connect(ctx, path, conf, f, logger)
	if err != nil {
		f.Close()
		return nil, convert(err)
	}
	telemetry.OpenConnections.Inc()
	logger.Info().Str("format", f.Format().String()).Bool("read_only", f.ReadOnly()).
		Int("tables", len(c.coord.Mirror().Tables())).Msg("Connection opened")
	return c, nil
}

func connect(ctx context.Context, path string, conf *cfg.Configuration, f *accessfile.File, logger zerolog.Logger) (*Conn, error) {
	eng, err := engine.Open(ctx, engine.Options{
		Memory:      conf.Mirror.Memory,
		TempDir:     conf.Mirror.TempDir,
		BusyTimeout: conf.BusyTimeout(),
		Logger:      &logger,
	})
	if err != nil {
		return nil, err
	}
	tr, err := translate.New(translate.Options{CacheSize: conf.Translator.CacheSize, Logger: &logger})
	if err != nil {
		eng.Close()
		return nil, err
	}
	m, err := mirror.Import(ctx, f, eng, mirror.Options{
		SkipIndexes: conf.Mirror.SkipIndexes,
		Expression:  tr.Expression,
		Logger:      &logger,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	coord, err := coordinator.New(coordinator.Options{
		File:        f,
		Engine:      eng,
		Mirror:      m,
		Translator:  tr,
		SkipIndexes: conf.Mirror.SkipIndexes,
		Logger:      &logger,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	return &Conn{path: path, conf: conf, file: f, eng: eng, tr: tr, coord: coord, log: logger}, nil
}

func (c *Conn) check() error {
	if c.closed.Load() {
		return newError(CodeTransactionState, SQLStateConnection, accessfile.ErrClosed)
	}
	return nil
}

// Path is the file the connection was opened on.
func (c *Conn) Path() string {
	return c.path
}

// Format is the format of the file.
func (c *Conn) Format() accessfile.Format {
	return c.file.Format()
}

// ReadOnly reports whether the connection rejects changes.
func (c *Conn) ReadOnly() bool {
	return c.file.ReadOnly()
}

// Mirror is the connection's view of the file schema.
func (c *Conn) Mirror() *mirror.Mirror {
	return c.coord.Mirror()
}

// Exec runs a statement that returns no rows. In auto-commit mode changes
// are in the file when Exec returns.
func (c *Conn) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	if err := c.check(); err != nil {
		return Result{}, err
	}
	res, err := c.coord.Exec(ctx, query, args...)
	if err != nil {
		return Result{}, convert(err)
	}
	return Result{RowsAffected: res.RowsAffected, LastInsertID: res.LastInsertID}, nil
}

// Query runs a statement that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	rows, st, err := c.coord.Query(ctx, query, args...)
	if err != nil {
		return nil, convert(err)
	}
	return newRows(rows, st, nil), nil
}

// QueryRow runs a query expected to return at most one row and scans it
// into dest. It returns sql.ErrNoRows, wrapped in *Error, for no rows.
func (c *Conn) QueryRow(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return newError(CodeUnknown, SQLStateNoData, sql.ErrNoRows)
	}
	return rows.Scan(dest...)
}

// ExecBatch runs entries in order and stops at the first failure. The
// returned *Error then wraps a *coordinator.BatchError naming the failed
// entry and the entries not executed.
func (c *Conn) ExecBatch(ctx context.Context, entries []BatchEntry) ([]Result, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	results, err := c.coord.ExecBatch(ctx, entries)
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{RowsAffected: r.RowsAffected, LastInsertID: r.LastInsertID}
	}
	if err != nil {
		return out, convert(err)
	}
	return out, nil
}

// Prepare translates query once for repeated execution.
func (c *Conn) Prepare(ctx context.Context, query string) (*Stmt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	p, err := c.coord.Prepare(ctx, query)
	if err != nil {
		return nil, convert(err)
	}
	return &Stmt{p: p}, nil
}

// Begin opens an explicit transaction.
func (c *Conn) Begin(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return toError(c.coord.Begin(ctx))
}

// Commit commits the open transaction and writes it back to the file.
func (c *Conn) Commit(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return toError(c.coord.Commit(ctx))
}

// Rollback discards the open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return toError(c.coord.Rollback(ctx))
}

// SetAutoCommit switches auto-commit mode; switching it on commits an open
// transaction.
func (c *Conn) SetAutoCommit(ctx context.Context, on bool) error {
	if err := c.check(); err != nil {
		return err
	}
	return toError(c.coord.SetAutoCommit(ctx, on))
}

// AutoCommit reports whether each statement commits on its own.
func (c *Conn) AutoCommit() bool {
	return c.coord.AutoCommit()
}

// InTransaction reports whether a transaction is open.
func (c *Conn) InTransaction() bool {
	return c.coord.InTransaction()
}

// Close rolls back an open transaction and releases the engine and file.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	telemetry.OpenConnections.Dec()
	c.tr.Purge()
	err := errors.Join(c.coord.Close(), c.eng.Close(), c.file.Close())
	c.log.Info().Msg("Connection closed")
	return toError(err)
}

// toError keeps nil a nil error interface.
func toError(err error) error {
	if err == nil {
		return nil
	}
	return convert(err)
}
