package writeback

import (
	"github.com/notzippy/ucanaccess-code/typemap"
)

type rowKey struct {
	table string
	rowID int64
}

// Pending accumulates the operations of one transaction. Repeated changes to
// a row are folded so each row is written back once: an insert absorbs later
// updates, an insert followed by a delete disappears, and an update followed
// by a delete becomes a delete of the original row.
type Pending struct {
	ops  []*SyncOperation
	live map[rowKey]*SyncOperation
}

// NewPending returns an empty operation list.
func NewPending() *Pending {
	return &Pending{live: make(map[rowKey]*SyncOperation)}
}

func keyOf(table string, rowID int64) rowKey {
	return rowKey{table: typemap.FoldName(table), rowID: rowID}
}

// Add records operations in order.
func (p *Pending) Add(ops ...SyncOperation) {
	for i := range ops {
		p.add(ops[i])
	}
}

func (p *Pending) add(op SyncOperation) {
	switch op.Op {
	case OpSchema:
		p.ops = append(p.ops, &op)
		// Rowids of a dropped or rebuilt table no longer identify the
		// rows recorded before.
		for k := range p.live {
			if k.table == typemap.FoldName(op.Table) {
				delete(p.live, k)
			}
		}
		return

	case OpInsert:
		rec := op
		p.ops = append(p.ops, &rec)
		p.live[keyOf(op.Table, op.RowID)] = &rec
		return

	case OpUpdate:
		from := keyOf(op.Table, op.OldRowID)
		prev, ok := p.live[from]
		if !ok {
			rec := op
			p.ops = append(p.ops, &rec)
			p.live[keyOf(op.Table, op.RowID)] = &rec
			return
		}
		delete(p.live, from)
		prev.Values = op.Values
		prev.RowID = op.RowID
		prev.Schema = op.Schema
		p.live[keyOf(op.Table, op.RowID)] = prev
		return

	case OpDelete:
		k := keyOf(op.Table, op.RowID)
		prev, ok := p.live[k]
		if !ok {
			rec := op
			p.ops = append(p.ops, &rec)
			return
		}
		delete(p.live, k)
		if prev.Op == OpInsert {
			prev.Op = 0
			return
		}
		prev.Op = OpDelete
		prev.Values = nil
		prev.RowID = prev.OldRowID
	}
}

// Ops returns the folded operations in recording order.
func (p *Pending) Ops() []SyncOperation {
	out := make([]SyncOperation, 0, len(p.ops))
	for _, op := range p.ops {
		if op.Op != 0 {
			out = append(out, *op)
		}
	}
	return out
}

// Len is the number of folded operations.
func (p *Pending) Len() int {
	n := 0
	for _, op := range p.ops {
		if op.Op != 0 {
			n++
		}
	}
	return n
}

// Reset discards every operation.
func (p *Pending) Reset() {
	p.ops = nil
	p.live = make(map[rowKey]*SyncOperation)
}
