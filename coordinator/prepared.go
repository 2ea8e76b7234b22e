package coordinator

import (
	"context"
	"database/sql"

	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/translate"
)

// Prepared is a statement translated once and executed many times. The
// engine statement is prepared once too; both are redone if the mirror has
// changed since.
type Prepared struct {
	c       *Coordinator
	source  string
	st      *translate.Statement
	es      engine.Statement
	version uint64
	closed  bool
}

// Prepare translates query and prepares its engine form. DDL statements are
// translated only; they run through the mirror on every execution.
func (c *Coordinator) Prepare(ctx context.Context, query string) (*Prepared, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Prepared{c: c, source: query}
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prepared) prepare(ctx context.Context) error {
	st, err := p.c.translate(p.source)
	if err != nil {
		return err
	}
	var es engine.Statement
	if !st.Kind.DDL() {
		if es, err = p.c.eng.Prepare(ctx, st.Target); err != nil {
			return &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: err}
		}
	}
	if p.es != nil {
		if p.es.IsCloseOnCompletion() && es != nil {
			es.CloseOnCompletion()
		}
		_ = p.es.Close()
	}
	p.st, p.es, p.version = st, es, p.c.m.Version()
	return nil
}

func (p *Prepared) refresh(ctx context.Context) error {
	if p.closed {
		return engine.ErrStatementClosed
	}
	if p.version == p.c.m.Version() {
		return nil
	}
	return p.prepare(ctx)
}

// Statement is the current translation.
func (p *Prepared) Statement() *translate.Statement {
	return p.st
}

// Exec runs the statement with args.
func (p *Prepared) Exec(ctx context.Context, args ...interface{}) (Result, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if err := p.refresh(ctx); err != nil {
		return Result{State: StateFailed}, err
	}
	p.c.state = StateTranslated
	return p.c.execute(ctx, p.st, p.es, args)
}

// Query runs the statement with args and returns its rows. Close them with
// CloseRows so CloseOnCompletion takes effect.
func (p *Prepared) Query(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.c.state = StateTranslated
	return p.c.query(ctx, p.st, p.es, args)
}

// CloseRows closes rows returned by Query, and the statement too when
// CloseOnCompletion was requested.
func (p *Prepared) CloseRows(rows *sql.Rows) error {
	err := engine.CloseRows(p.es, rows)
	if p.es != nil && p.es.IsCloseOnCompletion() {
		p.closed = true
	}
	return err
}

// SupportsCloseOnCompletion reports whether CloseOnCompletion has an effect.
func (p *Prepared) SupportsCloseOnCompletion() bool {
	return p.es != nil && p.es.SupportsCloseOnCompletion()
}

// CloseOnCompletion closes the statement once the rows of its next query are
// closed.
func (p *Prepared) CloseOnCompletion() {
	if p.es != nil {
		p.es.CloseOnCompletion()
	}
}

// IsCloseOnCompletion reports whether CloseOnCompletion was requested.
func (p *Prepared) IsCloseOnCompletion() bool {
	return p.es != nil && p.es.IsCloseOnCompletion()
}

// Close releases the engine statement.
func (p *Prepared) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.es != nil {
		return p.es.Close()
	}
	return nil
}
