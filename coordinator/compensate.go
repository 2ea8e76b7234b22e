package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/telemetry"
	"github.com/notzippy/ucanaccess-code/writeback"
)

// compensate undoes a committed engine transaction whose write-back failed.
// Row changes are reversed with inverse DML, newest first; tables touched by
// DDL are reloaded from the file, which still holds their old state.
func (c *Coordinator) compensate(ctx context.Context, txn *Transaction, ops []writeback.SyncOperation) error {
	var rebuild []string
	rebuilt := make(map[string]bool)
	mark := func(table string) {
		k := strings.ToLower(table)
		if table != "" && !rebuilt[k] {
			rebuilt[k] = true
			rebuild = append(rebuild, table)
		}
	}
	for _, op := range ops {
		if op.Op == writeback.OpSchema {
			mark(op.Change.Table)
			mark(op.Change.ResyncTable())
			if op.Change.Kind == mirror.DropRelationship || op.Change.Kind == mirror.AddRelationship {
				mark(op.Change.Relationship.FromTable)
			}
		}
	}

	err := c.inverse(ctx, ops, rebuilt)
	if err == nil {
		for _, table := range rebuild {
			if err = mirror.SyncTable(ctx, c.file, c.eng, c.m, table, mirror.Options{
				Expression:  c.tr.Expression,
				SkipIndexes: c.skipIndexes,
				Logger:      &c.log,
			}); err != nil {
				err = fmt.Errorf("reload %s: %w", table, err)
				break
			}
		}
	}
	if err != nil {
		telemetry.Compensations.With("failed").Inc()
		return err
	}
	telemetry.Compensations.With("success").Inc()
	c.log.Warn().Uint64("txn_id", txn.ID).Int("operations", len(ops)).Strs("reloaded", rebuild).Msg("Transaction compensated")
	return nil
}

func (c *Coordinator) inverse(ctx context.Context, ops []writeback.SyncOperation, skip map[string]bool) error {
	if err := c.eng.Begin(ctx); err != nil {
		return err
	}
	err := c.eng.WithoutCapture(func() error {
		for i := len(ops) - 1; i >= 0; i-- {
			op := ops[i]
			if op.Op == writeback.OpSchema || skip[strings.ToLower(op.Table)] {
				continue
			}
			query, args, err := inverseSQL(op)
			if err != nil {
				return err
			}
			if _, err := c.eng.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("undo %s on %s: %w", op.Op, op.Table, err)
			}
		}
		return nil
	})
	if err != nil {
		if rerr := c.eng.Rollback(); rerr != nil {
			c.log.Debug().Err(rerr).Msg("Rollback after failed compensation")
		}
		return err
	}
	return c.eng.Commit()
}

// inverseSQL renders the statement reversing one row operation.
func inverseSQL(op writeback.SyncOperation) (string, []interface{}, error) {
	t := op.Schema
	if t == nil {
		return "", nil, fmt.Errorf("no schema recorded for %s operation on %s", op.Op, op.Table)
	}
	byRowID := goqu.L("rowid").Eq(op.RowID)
	switch op.Op {
	case writeback.OpInsert:
		return engine.Dialect.Delete(goqu.T(t.Name)).Where(byRowID).Prepared(true).ToSQL()
	case writeback.OpUpdate:
		return engine.Dialect.Update(goqu.T(t.Name)).Set(preImage(t, op.Old)).Where(byRowID).Prepared(true).ToSQL()
	case writeback.OpDelete:
		rec := preImage(t, op.Old)
		if !t.RowIDAlias {
			rec["rowid"] = op.RowID
		}
		return engine.Dialect.Insert(goqu.T(t.Name)).Rows(rec).Prepared(true).ToSQL()
	}
	return "", nil, fmt.Errorf("cannot invert %s", op.Op)
}

func preImage(t *mirror.Table, old []interface{}) goqu.Record {
	rec := goqu.Record{}
	for i, c := range t.StoredColumns() {
		if i < len(old) {
			rec[c.Name] = old[i]
		}
	}
	return rec
}
