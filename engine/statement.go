package engine

import (
	"context"
	"database/sql"
	"errors"
)

// ErrStatementClosed is returned by a closed Statement.
var ErrStatementClosed = errors.New("statement is closed")

// Statement is a reusable engine statement. Plain statements run their SQL
// afresh on every call; prepared ones compile it once.
type Statement interface {
	SQL() string
	ExecContext(ctx context.Context, args ...interface{}) (Result, error)
	QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error)
	Close() error

	// SupportsCloseOnCompletion reports whether CloseOnCompletion has an effect.
	SupportsCloseOnCompletion() bool
	// CloseOnCompletion closes the statement once the rows of its last query
	// are closed.
	CloseOnCompletion()
	IsCloseOnCompletion() bool
}

type plainStatement struct {
	e      *Engine
	query  string
	closed bool
}

// NewStatement returns an unprepared statement.
func (e *Engine) NewStatement(query string) Statement {
	return &plainStatement{e: e, query: query}
}

func (s *plainStatement) SQL() string { return s.query }

func (s *plainStatement) ExecContext(ctx context.Context, args ...interface{}) (Result, error) {
	if s.closed {
		return Result{}, ErrStatementClosed
	}
	return s.e.Exec(ctx, s.query, args...)
}

func (s *plainStatement) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	if s.closed {
		return nil, ErrStatementClosed
	}
	return s.e.Query(ctx, s.query, args...)
}

func (s *plainStatement) Close() error {
	s.closed = true
	return nil
}

func (s *plainStatement) SupportsCloseOnCompletion() bool { return false }
func (s *plainStatement) CloseOnCompletion()              {}
func (s *plainStatement) IsCloseOnCompletion() bool       { return false }

type preparedStatement struct {
	e               *Engine
	query           string
	stmt            *sql.Stmt
	closed          bool
	closeOnComplete bool
}

// Prepare compiles query for repeated execution. The statement outlives
// transactions; inside one it runs through the transaction.
func (e *Engine) Prepare(ctx context.Context, query string) (Statement, error) {
	stmt, err := e.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &preparedStatement{e: e, query: query, stmt: stmt}, nil
}

func (s *preparedStatement) SQL() string { return s.query }

func (s *preparedStatement) ExecContext(ctx context.Context, args ...interface{}) (Result, error) {
	if s.closed {
		return Result{}, ErrStatementClosed
	}
	s.e.resetChanges()
	res, err := s.stmtFor().ExecContext(ctx, args...)
	changes := s.e.takeChanges()
	if err != nil {
		return Result{}, err
	}
	return resultOf(res, changes), nil
}

// QueryContext runs the query. With CloseOnCompletion set the statement is
// closed once the returned rows are, which callers do through CloseRows.
func (s *preparedStatement) QueryContext(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	if s.closed {
		return nil, ErrStatementClosed
	}
	return s.stmtFor().QueryContext(ctx, args...)
}

// stmtFor binds the prepared statement to the active transaction if any.
func (s *preparedStatement) stmtFor() *sql.Stmt {
	if s.e.tx != nil {
		return s.e.tx.Stmt(s.stmt)
	}
	return s.stmt
}

func (s *preparedStatement) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stmt.Close()
}

func (s *preparedStatement) SupportsCloseOnCompletion() bool { return true }
func (s *preparedStatement) CloseOnCompletion()              { s.closeOnComplete = true }
func (s *preparedStatement) IsCloseOnCompletion() bool       { return s.closeOnComplete }

// CloseRows closes rows produced by stmt and, if the statement asked for it,
// the statement as well.
func CloseRows(stmt Statement, rows *sql.Rows) error {
	err := rows.Close()
	if stmt != nil && stmt.IsCloseOnCompletion() {
		if cerr := stmt.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
