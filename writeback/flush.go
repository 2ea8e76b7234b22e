package writeback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/telemetry"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// renumberBase offsets the temporary keys used while renumbering so they
// cannot collide with allocated values.
const renumberBase = -(int64(1) << 52)

// Options configures Flush.
type Options struct {
	TxnID       uint64
	Expression  mirror.ExpressionFunc
	SkipIndexes bool
	Logger      *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	l := log.Logger
	if o.Logger != nil {
		l = *o.Logger
	}
	return l.With().Str("component", "writeback").Uint64("txn_id", o.TxnID).Logger()
}

// Renumber records an autonumber value the file assigned in place of the
// engine's provisional one.
type Renumber struct {
	Table  string
	Column string
	From   int64
	To     int64
}

// Result reports a successful flush.
type Result struct {
	Applied    int
	Renumbered []Renumber
	// Resynced lists tables reloaded from the file after a schema change.
	Resynced []string
}

type colKey struct {
	table, column string
}

func colKeyOf(table, column string) colKey {
	return colKey{typemap.FoldName(table), typemap.FoldName(column)}
}

type fixup struct {
	table  string
	rowID  int64
	values goqu.Record
}

type flusher struct {
	sess *accessfile.Session
	m    *mirror.Mirror
	log  zerolog.Logger

	remap     map[colKey]map[int64]int64
	renumbers []Renumber
	fixups    []fixup
	resync    []string
}

// Flush writes ops to the file as one atomic session under the file's
// exclusive lock. Autonumbers are allocated by the file; engine rows whose
// provisional values differ, and rows referencing them, are renumbered after
// the file commits. Values the file filled in (defaults) are copied back to
// the engine. Schema changes that the engine cannot mirror in place are
// followed by reloading the table from the file.
//
// The engine must not be in a transaction. On failure before the file
// commits the file is unchanged.
func Flush(ctx context.Context, f *accessfile.File, eng *engine.Engine, m *mirror.Mirror, ops []SyncOperation, opts Options) (Result, error) {
	logger := opts.logger()
	if len(ops) == 0 {
		return Result{}, nil
	}
	if eng.InTransaction() {
		return Result{}, mirror.ErrInTransaction
	}

	start := time.Now()
	defer func() {
		telemetry.FlushDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	sess, err := f.AcquireExclusiveLock(ctx)
	telemetry.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, failed(logger, classify("", 0, err))
	}
	defer sess.Release()

	fl := &flusher{
		sess:  sess,
		m:     m,
		log:   logger,
		remap: make(map[colKey]map[int64]int64),
	}
	for i := range ops {
		op := &ops[i]
		if err := fl.apply(op); err != nil {
			return Result{}, failed(logger, classify(op.Table, op.Op, err))
		}
		logger.Debug().Str("table", op.Table).Stringer("op", op.Op).Int64("rowid", op.RowID).Msg("Operation written")
	}
	if err := sess.Commit(); err != nil {
		return Result{}, failed(logger, classify("", 0, err))
	}
	for i := range ops {
		telemetry.SyncOperationsFlushed.With(ops[i].Op.String()).Inc()
	}

	res := Result{Applied: len(ops), Renumbered: fl.renumbers}
	if err := fl.reconcile(ctx, eng); err != nil {
		logger.Error().Err(err).Msg("Engine reconcile failed; reloading tables from file")
		for _, table := range fl.reconciledTables() {
			fl.needsResync(table)
		}
	}
	telemetry.AutonumberRenumbers.Add(float64(len(fl.renumbers)))

	for _, table := range fl.resync {
		if err := mirror.SyncTable(ctx, f, eng, m, table, mirror.Options{Expression: opts.Expression, SkipIndexes: opts.SkipIndexes, Logger: opts.Logger}); err != nil {
			return res, failed(logger, &SyncError{Reason: ReasonReconcile, Table: table, Committed: true, Err: err})
		}
		res.Resynced = append(res.Resynced, table)
	}

	logger.Debug().Int("operations", res.Applied).Int("renumbered", len(res.Renumbered)).
		Dur("duration", time.Since(start)).Msg("Flushed")
	return res, nil
}

func failed(logger zerolog.Logger, se *SyncError) *SyncError {
	telemetry.FlushFailures.With(string(se.Reason)).Inc()
	logger.Debug().Err(se.Err).Str("table", se.Table).Str("reason", string(se.Reason)).Msg("Write-back failed")
	return se
}

func (fl *flusher) apply(op *SyncOperation) error {
	if op.Op == OpSchema {
		return fl.schema(op.Change)
	}
	if op.Schema == nil {
		t, ok := fl.m.Table(op.Table)
		if !ok {
			return &accessfile.RowError{Table: op.Table, Op: op.Op.String(), Err: accessfile.ErrNoSuchTable}
		}
		op.Schema = t
	}
	switch op.Op {
	case OpInsert:
		return fl.insert(op)
	case OpUpdate:
		return fl.update(op)
	case OpDelete:
		return fl.delete(op)
	}
	return fmt.Errorf("unknown operation %v", op.Op)
}

func (fl *flusher) insert(op *SyncOperation) error {
	t := op.Schema
	if op.Values == nil {
		return fmt.Errorf("no values captured for row %d of %s", op.RowID, t.SourceName())
	}
	cols := t.StoredColumns()
	row := make(accessfile.Row, len(cols))
	provisional := make(map[string]int64)
	for i, c := range cols {
		v, err := fl.fileValue(t, c, op.Values[i])
		if err != nil {
			return err
		}
		if v == nil && c.Meta.Default != "" && !c.Meta.AutoNumber {
			continue
		}
		if c.Meta.AutoNumber && c.Meta.Type.Integral() && v != nil {
			n, _ := asInt64(v)
			next, err := fl.sess.PeekAutonumber(t.SourceName(), c.Meta.Name)
			if err != nil {
				return err
			}
			// Values below the allocator were issued by a stale engine
			// counter; the file allocates afresh.
			if n < next {
				provisional[c.Meta.Name] = n
				v = nil
			}
		}
		row[c.Meta.Name] = v
	}

	stored, err := fl.sess.AddRow(t.SourceName(), row)
	if err != nil {
		return err
	}
	for _, c := range cols {
		from, ok := provisional[c.Meta.Name]
		if !ok {
			continue
		}
		to, _ := asInt64(stored[c.Meta.Name])
		if to != from {
			fl.renumber(t, c, from, to)
		}
	}
	return fl.compare(t, op.RowID, cols, row, stored, provisional, true)
}

func (fl *flusher) update(op *SyncOperation) error {
	t := op.Schema
	if op.Values == nil {
		return fmt.Errorf("no values captured for row %d of %s", op.RowID, t.SourceName())
	}
	id, err := fl.identity(t, op.Old)
	if err != nil {
		return err
	}
	cols := t.StoredColumns()
	values := make(accessfile.Row, len(cols))
	for i, c := range cols {
		v, err := fl.fileValue(t, c, op.Values[i])
		if err != nil {
			return err
		}
		if op.Old != nil {
			old, err := fl.fileValue(t, c, op.Old[i])
			if err == nil && accessfile.SameValue(old, v) {
				continue
			}
		}
		values[c.Meta.Name] = v
	}
	stored, err := fl.sess.UpdateRow(t.SourceName(), id, values)
	if err != nil {
		return err
	}
	return fl.compare(t, op.RowID, cols, values, stored, nil, false)
}

func (fl *flusher) delete(op *SyncOperation) error {
	id, err := fl.identity(op.Schema, op.Old)
	if err != nil {
		return err
	}
	_, err = fl.sess.DeleteRow(op.Schema.SourceName(), id)
	return err
}

// identity locates the file row of a pre-image: its primary key values, or
// every scalar value when the table has no primary key.
func (fl *flusher) identity(t *mirror.Table, old []interface{}) (accessfile.RowIdentity, error) {
	if old == nil {
		return accessfile.RowIdentity{}, fmt.Errorf("no pre-image captured for %s", t.SourceName())
	}
	pk, hasPK := t.Meta.PrimaryKey()
	key := make(map[string]interface{})
	for i, c := range t.StoredColumns() {
		if hasPK && !containsFold(pk.Columns, c.Meta.Name) {
			continue
		}
		if !hasPK && (c.Meta.Type == accessfile.TypeMultiValue || c.Meta.Type == accessfile.TypeAttachment) {
			continue
		}
		v, err := fl.fileValue(t, c, old[i])
		if err != nil {
			return accessfile.RowIdentity{}, err
		}
		key[c.Meta.Name] = v
	}
	return accessfile.RowIdentity{Key: key}, nil
}

// fileValue converts an engine value to the file type of c, substituting
// renumbered keys for foreign key columns.
func (fl *flusher) fileValue(t *mirror.Table, c *mirror.Column, v interface{}) (interface{}, error) {
	fv, err := typemap.FromEngine(c.Meta, v)
	if err != nil {
		return nil, &accessfile.RowError{Table: t.SourceName(), Op: "convert", Err: err}
	}
	if len(fl.remap) == 0 || fv == nil {
		return fv, nil
	}
	n, ok := asInt64(fv)
	if !ok {
		return fv, nil
	}
	for _, rel := range fl.m.RelationshipsOf(t.SourceName()) {
		for i, fc := range rel.FromColumns {
			if !strings.EqualFold(fc, c.Meta.Name) {
				continue
			}
			if to, ok := fl.remap[colKeyOf(rel.ToTable, rel.ToColumns[i])][n]; ok {
				return accessfile.Normalize(c.Meta, to)
			}
		}
	}
	return fv, nil
}

// compare queues an engine update for every column the file stored
// differently from what was written. With fillAbsent, columns left out of
// the write (filled-in defaults) are compared too.
func (fl *flusher) compare(t *mirror.Table, rowID int64, cols []*mirror.Column, written, stored accessfile.Row, skip map[string]int64, fillAbsent bool) error {
	rec := goqu.Record{}
	for _, c := range cols {
		if _, ok := skip[c.Meta.Name]; ok {
			continue
		}
		want, ok := stored.Get(c.Meta.Name)
		if !ok {
			continue
		}
		have, present := written[c.Meta.Name]
		if present && accessfile.SameValue(have, want) {
			continue
		}
		if !present && (!fillAbsent || want == nil) {
			continue
		}
		ev, err := typemap.ToEngine(c.Meta, want)
		if err != nil {
			return &accessfile.RowError{Table: t.SourceName(), Op: "convert", Err: err}
		}
		rec[c.Name] = ev
	}
	if len(rec) > 0 {
		fl.fixups = append(fl.fixups, fixup{table: t.SourceName(), rowID: rowID, values: rec})
	}
	return nil
}

func (fl *flusher) renumber(t *mirror.Table, c *mirror.Column, from, to int64) {
	k := colKeyOf(t.SourceName(), c.Meta.Name)
	if fl.remap[k] == nil {
		fl.remap[k] = make(map[int64]int64)
	}
	fl.remap[k][from] = to
	fl.renumbers = append(fl.renumbers, Renumber{Table: t.SourceName(), Column: c.Meta.Name, From: from, To: to})
	fl.log.Debug().Str("table", t.SourceName()).Str("column", c.Meta.Name).
		Int64("provisional", from).Int64("assigned", to).Msg("Autonumber reassigned")
}

func (fl *flusher) needsResync(table string) {
	for _, t := range fl.resync {
		if strings.EqualFold(t, table) {
			return
		}
	}
	fl.resync = append(fl.resync, table)
}

func containsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
