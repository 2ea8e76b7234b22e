package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/telemetry"
	"github.com/notzippy/ucanaccess-code/translate"
	"github.com/notzippy/ucanaccess-code/typemap"
	"github.com/notzippy/ucanaccess-code/writeback"
)

// Result reports one executed statement.
type Result struct {
	Statement    *translate.Statement
	State        StatementState
	RowsAffected int64
	LastInsertID int64
	// Operations is the number of row changes recorded for write-back.
	Operations int
}

// BatchEntry is one statement of a batch.
type BatchEntry struct {
	SQL  string
	Args []interface{}
}

// Exec translates and runs one statement. Mutations and DDL join the open
// transaction; in auto-commit mode they run in their own transaction, which
// is committed (and written back) before Exec returns.
func (c *Coordinator) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.translate(query)
	if err != nil {
		return Result{State: StateFailed}, err
	}
	return c.execute(ctx, st, nil, args)
}

// Query translates and runs a statement returning rows. The statement is
// returned with the rows so result columns can be mapped back to file names.
func (c *Coordinator) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, *translate.Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.translate(query)
	if err != nil {
		return nil, nil, err
	}
	rows, err := c.query(ctx, st, nil, args)
	return rows, st, err
}

// ExecBatch runs entries in order. The first failure stops the batch; the
// entries after it are reported NOT_EXECUTED in the returned *BatchError.
func (c *Coordinator) ExecBatch(ctx context.Context, entries []BatchEntry) ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := make([]Result, 0, len(entries))
	for i, e := range entries {
		st, err := c.translate(e.SQL)
		var res Result
		if err == nil {
			res, err = c.execute(ctx, st, nil, e.Args)
		}
		if err != nil {
			statuses := make([]BatchStatus, len(entries))
			for j := range statuses {
				switch {
				case j < i:
					statuses[j] = BatchSucceeded
				case j == i:
					statuses[j] = BatchFailed
				default:
					statuses[j] = BatchNotExecuted
				}
			}
			c.state = StateReceived
			return results, &BatchError{Index: i, Statuses: statuses, Err: err}
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Coordinator) translate(query string) (*translate.Statement, error) {
	c.state = StateReceived
	st, err := c.tr.Translate(c.m, query)
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.state = StateTranslated
	return st, nil
}

// execute runs a translated statement. es is the prepared engine statement,
// or nil to run st.Target directly.
func (c *Coordinator) execute(ctx context.Context, st *translate.Statement, es engine.Statement, args []interface{}) (Result, error) {
	res := Result{Statement: st}
	if st.Kind == translate.Query {
		rows, err := c.query(ctx, st, es, args)
		if err != nil {
			res.State = StateFailed
			return res, err
		}
		res.State = StateSucceeded
		return res, rows.Close()
	}
	if c.file.ReadOnly() {
		c.state = StateFailed
		res.State = StateFailed
		return res, ErrReadOnly
	}

	txn := c.txn
	implicit := false
	if txn == nil {
		var err error
		if txn, err = c.begin(ctx, !c.autoCommit); err != nil {
			c.state = StateFailed
			res.State = StateFailed
			return res, err
		}
		implicit = c.autoCommit
	}

	c.state = StateExecuting
	start := time.Now()
	kind := strings.ToLower(st.Kind.String())
	var err error
	if st.Kind.DDL() {
		err = c.executeDDL(ctx, txn, st)
	} else {
		err = c.executeMutation(ctx, txn, st, es, args, &res)
	}
	telemetry.StatementDurationSeconds.With(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		c.state = StateFailed
		res.State = StateFailed
		telemetry.StatementsExecuted.With(kind, "failure").Inc()
		if implicit {
			if rerr := c.rollback(); rerr != nil {
				c.log.Debug().Err(rerr).Msg("Rollback of auto-commit transaction failed")
			}
		}
		return res, err
	}
	telemetry.StatementsExecuted.With(kind, "success").Inc()
	c.log.Debug().Uint64("txn_id", txn.ID).Str("source_sql", st.Source).Str("target_sql", st.Target).
		Int64("rows", res.RowsAffected).Int("operations", res.Operations).Msg("Statement executed")

	if implicit {
		if err := c.commit(ctx); err != nil {
			c.state = StateFailed
			res.State = StateFailed
			return res, err
		}
	}
	c.state = StateSucceeded
	res.State = StateSucceeded
	return res, nil
}

func (c *Coordinator) executeMutation(ctx context.Context, txn *Transaction, st *translate.Statement, es engine.Statement, args []interface{}, res *Result) error {
	if es == nil {
		es = c.eng.NewStatement(st.Target)
	}
	out, err := es.ExecContext(ctx, bind(st, args)...)
	if err != nil {
		return &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: err}
	}
	ops, err := writeback.Capture(ctx, c.eng, c.m, out.Changes)
	if err != nil {
		return &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: err}
	}
	txn.Pending.Add(ops...)
	res.RowsAffected = out.RowsAffected
	res.LastInsertID = out.LastInsertID
	res.Operations = len(ops)
	return nil
}

// executeDDL applies a schema change to the engine and the mirror. The
// mirror is snapshotted before the transaction's first change so a rollback
// can restore it.
func (c *Coordinator) executeDDL(ctx context.Context, txn *Transaction, st *translate.Statement) error {
	if st.DDL == nil {
		return &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: errors.New("no schema change recorded")}
	}
	if txn.snapshot == nil {
		txn.snapshot = c.m.Clone()
	}
	if err := c.m.Apply(ctx, c.eng, st.DDL, c.tr.Expression); err != nil {
		return &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: err}
	}
	txn.Pending.Add(writeback.SchemaOperation(st.DDL))
	return nil
}

func (c *Coordinator) query(ctx context.Context, st *translate.Statement, es engine.Statement, args []interface{}) (*sql.Rows, error) {
	if st.Kind != translate.Query {
		return nil, ErrNotQuery
	}
	c.state = StateExecuting
	start := time.Now()
	var (
		rows *sql.Rows
		err  error
	)
	if es != nil {
		rows, err = es.QueryContext(ctx, bind(st, args)...)
	} else {
		rows, err = c.eng.Query(ctx, st.Target, bind(st, args)...)
	}
	telemetry.StatementDurationSeconds.With("query").Observe(time.Since(start).Seconds())
	if err != nil {
		c.state = StateFailed
		telemetry.StatementsExecuted.With("query", "failure").Inc()
		return nil, &ExecutionError{SourceSQL: st.Source, TargetSQL: st.Target, Err: err}
	}
	c.state = StateSucceeded
	telemetry.StatementsExecuted.With("query", "success").Inc()
	return rows, nil
}

// bind converts client arguments for the engine: LIKE operands become glob
// patterns and values bound to a known column take its engine form.
func bind(st *translate.Statement, args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		if i >= len(st.Params) {
			out[i] = typemap.BindValue(a)
			continue
		}
		p := st.Params[i]
		switch {
		case p.Like:
			if s, ok := a.(string); ok {
				out[i] = translate.LikePattern(s)
			} else {
				out[i] = typemap.BindValue(a)
			}
		case p.Column != nil:
			out[i] = typemap.BindColumn(*p.Column, a)
		default:
			out[i] = typemap.BindValue(a)
		}
	}
	return out
}
