package ucanaccess

import (
	"context"

	"github.com/notzippy/ucanaccess-code/coordinator"
)

// Stmt is a prepared statement. It is translated again only when the
// schema changes.
type Stmt struct {
	p *coordinator.Prepared
}

// SQL is the statement text as given to Prepare.
func (s *Stmt) SQL() string {
	return s.p.Statement().Source
}

// Exec runs the statement with args.
func (s *Stmt) Exec(ctx context.Context, args ...interface{}) (Result, error) {
	res, err := s.p.Exec(ctx, args...)
	if err != nil {
		return Result{}, convert(err)
	}
	return Result{RowsAffected: res.RowsAffected, LastInsertID: res.LastInsertID}, nil
}

// Query runs the statement with args.
func (s *Stmt) Query(ctx context.Context, args ...interface{}) (*Rows, error) {
	rows, err := s.p.Query(ctx, args...)
	if err != nil {
		return nil, convert(err)
	}
	return newRows(rows, s.p.Statement(), s.p), nil
}

// CloseOnCompletion closes the statement when the rows of its next query
// are closed.
func (s *Stmt) CloseOnCompletion() {
	s.p.CloseOnCompletion()
}

// IsCloseOnCompletion reports whether CloseOnCompletion was requested.
func (s *Stmt) IsCloseOnCompletion() bool {
	return s.p.IsCloseOnCompletion()
}

// Close releases the statement.
func (s *Stmt) Close() error {
	return toError(s.p.Close())
}
