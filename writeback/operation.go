// Package writeback propagates committed engine changes into the persistent
// file. A transaction's row changes are recorded as SyncOperations while its
// statements run; Flush applies them to the file under its exclusive lock and
// reconciles the engine with the values the file assigned.
package writeback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// Op is the kind of a SyncOperation.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
	// OpSchema carries a DDL statement.
	OpSchema
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSchema:
		return "schema"
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// SyncOperation is one pending change to the file.
type SyncOperation struct {
	Op Op
	// Table is the file name of the changed table.
	Table string
	// Schema is the mirror entry of the table when the change was made.
	Schema *mirror.Table
	// RowID is the engine rowid of the row after the change; for deletes,
	// the rowid it had.
	RowID    int64
	OldRowID int64
	// Values are the engine values of the row after the change, one per
	// stored column. Nil for deletes.
	Values []interface{}
	// Old is the engine pre-image of updated and deleted rows.
	Old []interface{}
	// Change is the DDL of OpSchema operations.
	Change *mirror.SchemaChange
}

// Columns are the stored columns Values and Old refer to.
func (op *SyncOperation) Columns() []*mirror.Column {
	if op.Schema == nil {
		return nil
	}
	return op.Schema.StoredColumns()
}

// Value returns the post-change engine value of a column by file name.
func (op *SyncOperation) Value(source string) (interface{}, bool) {
	return columnValue(op.Columns(), op.Values, source)
}

// OldValue returns the pre-image engine value of a column by file name.
func (op *SyncOperation) OldValue(source string) (interface{}, bool) {
	return columnValue(op.Columns(), op.Old, source)
}

func columnValue(cols []*mirror.Column, vals []interface{}, source string) (interface{}, bool) {
	if vals == nil {
		return nil, false
	}
	name := typemap.FoldName(source)
	for i, c := range cols {
		if i < len(vals) && typemap.FoldName(c.Meta.Name) == name {
			return vals[i], true
		}
	}
	return nil, false
}

// SchemaOperation wraps a DDL statement so it is written back in order with
// the row changes around it.
func SchemaOperation(c *mirror.SchemaChange) SyncOperation {
	return SyncOperation{Op: OpSchema, Table: c.Table, Change: c}
}

// Capture turns the changes one statement made into SyncOperations, reading
// the current values of inserted and updated rows from the engine.
func Capture(ctx context.Context, eng *engine.Engine, m *mirror.Mirror, changes []engine.Change) ([]SyncOperation, error) {
	ops := make([]SyncOperation, 0, len(changes))
	for _, c := range changes {
		t, ok := m.EngineTable(c.Table)
		if !ok {
			return nil, fmt.Errorf("captured change on unmirrored table %s", c.Table)
		}
		op := SyncOperation{
			Table:    t.SourceName(),
			Schema:   t,
			OldRowID: c.OldRowID,
			RowID:    c.NewRowID,
			Old:      c.Old,
		}
		switch c.Kind {
		case engine.ChangeInsert:
			op.Op = OpInsert
			op.Old = nil
		case engine.ChangeUpdate:
			op.Op = OpUpdate
		case engine.ChangeDelete:
			op.Op = OpDelete
			op.RowID = c.OldRowID
			ops = append(ops, op)
			continue
		default:
			return nil, fmt.Errorf("captured change of unknown kind %v on %s", c.Kind, c.Table)
		}

		vals, err := eng.ReadRow(ctx, t.Name, mirror.ColumnNames(t.StoredColumns()), op.RowID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Removed later in the same statement; the delete that follows
			// cancels this operation.
		case err != nil:
			return nil, fmt.Errorf("read %s row %d: %w", t.Name, op.RowID, err)
		default:
			op.Values = vals
		}
		ops = append(ops, op)
	}
	return ops, nil
}
