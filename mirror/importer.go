package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/telemetry"
	"github.com/notzippy/ucanaccess-code/typemap"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxBindVars keeps one load batch under the engine's bound-variable limit.
const maxBindVars = 900

// ErrInTransaction is returned by operations that must toggle foreign key
// enforcement, which the engine ignores inside a transaction.
var ErrInTransaction = errors.New("operation not allowed inside an engine transaction")

// Options configures Import.
type Options struct {
	// SkipIndexes skips non-unique indexes. Primary and unique indexes are
	// always built since constraints depend on them.
	SkipIndexes bool
	Expression  ExpressionFunc
	Logger      *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}

// Import mirrors the schema and data of f into a fresh engine. Tables are
// created in declaration order, then loaded, then indexed; foreign keys are
// enforced once everything is in place.
func Import(ctx context.Context, f *accessfile.File, eng *engine.Engine, opts Options) (*Mirror, error) {
	logger := opts.logger()
	start := time.Now()

	metas, err := f.ListTables()
	if err != nil {
		return nil, &SchemaImportError{Table: "*", Reason: "cannot read table metadata", Err: err}
	}
	rels, err := f.Relationships()
	if err != nil {
		return nil, &SchemaImportError{Table: "*", Reason: "cannot read relationships", Err: err}
	}

	m := New()
	for _, meta := range metas {
		t, err := m.PlanTable(meta)
		if err != nil {
			return nil, err
		}
		m.AddTable(t)
	}
	for _, rel := range rels {
		if err := m.AddRelationship(rel); err != nil {
			return nil, err
		}
	}

	if err := setForeignKeys(ctx, eng, false); err != nil {
		return nil, err
	}
	for _, t := range m.tables {
		stmts, err := TableStatements(m, t, opts.Expression)
		if err != nil {
			return nil, err
		}
		if err := execAll(ctx, eng, stmts); err != nil {
			return nil, &SchemaImportError{Table: t.Meta.Name, Reason: "engine rejected table", Err: err}
		}
	}

	rows := 0
	for _, t := range m.tables {
		n, err := loadTable(ctx, f, eng, t)
		if err != nil {
			return nil, err
		}
		rows += n
		telemetry.RowsImported.Add(float64(n))
		logger.Debug().Str("table", t.Meta.Name).Int("rows", n).Msg("Loaded table")
	}

	for _, t := range m.tables {
		if err := createIndexes(ctx, eng, t, opts.SkipIndexes); err != nil {
			return nil, err
		}
	}
	if err := setForeignKeys(ctx, eng, true); err != nil {
		return nil, err
	}

	telemetry.TablesImported.Add(float64(len(m.tables)))
	logger.Info().
		Str("path", f.Path()).
		Int("tables", len(m.tables)).
		Int("relationships", len(m.relationships)).
		Int("rows", rows).
		Dur("duration", time.Since(start)).
		Msg("Imported file into engine")
	return m, nil
}

func setForeignKeys(ctx context.Context, eng *engine.Engine, on bool) error {
	if eng.InTransaction() {
		return ErrInTransaction
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	_, err := eng.Exec(ctx, "PRAGMA foreign_keys = "+state)
	return err
}

func execAll(ctx context.Context, eng *engine.Engine, stmts []string) error {
	for _, s := range stmts {
		if _, err := eng.Exec(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", firstLine(s), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func createIndexes(ctx context.Context, eng *engine.Engine, t *Table, skipPlain bool) error {
	for _, idx := range t.Meta.Indexes {
		if idx.Primary || (skipPlain && !idx.Unique) {
			continue
		}
		stmt, err := IndexSQL(t, idx)
		if err != nil {
			return &SchemaImportError{Table: t.Meta.Name, Reason: "bad index " + idx.Name, Err: err}
		}
		if _, err := eng.Exec(ctx, stmt); err != nil {
			return &SchemaImportError{Table: t.Meta.Name, Reason: "engine rejected index " + idx.Name, Err: err}
		}
	}
	return nil
}

// loadTable copies every file row of t into the engine inside one engine
// transaction, without change capture, then seeds the autonumber counters.
func loadTable(ctx context.Context, f *accessfile.File, eng *engine.Engine, t *Table) (int, error) {
	cols := t.StoredColumns()
	if len(cols) == 0 {
		return 0, nil
	}
	names := make([]interface{}, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	batchRows := maxBindVars / len(cols)
	if batchRows < 1 {
		batchRows = 1
	}

	if err := eng.Begin(ctx); err != nil {
		return 0, err
	}
	count := 0
	err := eng.WithoutCapture(func() error {
		batch := make([][]interface{}, 0, batchRows)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			query, args, err := engine.Dialect.Insert(goqu.T(t.Name)).Cols(names...).Vals(batch...).Prepared(true).ToSQL()
			if err != nil {
				return err
			}
			if _, err := eng.Exec(ctx, query, args...); err != nil {
				return err
			}
			batch = batch[:0]
			return nil
		}

		err := f.ScanRows(t.Meta.Name, func(row accessfile.Row) error {
			vals := make([]interface{}, len(cols))
			for i, c := range cols {
				raw, _ := row.Get(c.Meta.Name)
				v, err := typemap.ToEngine(c.Meta, raw)
				if err != nil {
					return &SchemaImportError{Table: t.Meta.Name, Column: c.Meta.Name, Reason: "unconvertible value", Err: err}
				}
				vals[i] = v
			}
			batch = append(batch, vals)
			count++
			if len(batch) == batchRows {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
		return seedSequences(ctx, f, eng, t)
	})
	if err != nil {
		eng.Rollback()
		var sie *SchemaImportError
		if errors.As(err, &sie) {
			return 0, err
		}
		return 0, &SchemaImportError{Table: t.Meta.Name, Reason: "data load failed", Err: err}
	}
	return count, eng.Commit()
}

// seedSequences aligns the engine's autonumber counters with the file's
// allocator so provisional values start where the file will.
func seedSequences(ctx context.Context, f *accessfile.File, eng *engine.Engine, t *Table) error {
	for _, c := range t.AutoNumbers() {
		if c.Meta.Type == accessfile.TypeGUID {
			continue
		}
		next, err := f.PeekAutonumber(t.Meta.Name, c.Meta.Name)
		if err != nil {
			return err
		}
		if err := SetSequence(ctx, eng, t, c, next-1); err != nil {
			return err
		}
	}
	return nil
}

// SetSequence raises the engine counter of autonumber column c to at least
// last, so the next provisional value is last+1 or more.
func SetSequence(ctx context.Context, eng *engine.Engine, t *Table, c *Column, last int64) error {
	if t.RowIDAlias && strings.EqualFold(t.PK[0], c.Name) {
		var current int64
		err := eng.QueryRow(ctx, "SELECT COALESCE(MAX(seq), 0) FROM sqlite_sequence WHERE name = ?", t.Name).Scan(&current)
		if err != nil {
			return err
		}
		if current >= last {
			return nil
		}
		if _, err := eng.Exec(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", t.Name); err != nil {
			return err
		}
		_, err = eng.Exec(ctx, "INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)", t.Name, last)
		return err
	}
	_, err := eng.Exec(ctx, "UPDATE "+SequenceTable+" SET seq = MAX(seq, ?) WHERE name = ?", last, SequenceKey(t, c))
	return err
}

// SyncTable makes the engine copy and mirror entry of one table match the
// file again: the engine table is dropped and, if the file still has the
// table, recreated and reloaded. Relationships are refreshed from the file.
func SyncTable(ctx context.Context, f *accessfile.File, eng *engine.Engine, m *Mirror, source string, opts Options) error {
	if eng.InTransaction() {
		return ErrInTransaction
	}
	if err := setForeignKeys(ctx, eng, false); err != nil {
		return err
	}
	defer setForeignKeys(ctx, eng, true)

	if old, ok := m.Table(source); ok {
		if _, err := eng.Exec(ctx, "DROP TABLE IF EXISTS "+typemap.QuoteIdent(old.Name)); err != nil {
			return err
		}
		m.RemoveTable(source)
	}

	meta, err := f.Table(source)
	if errors.Is(err, accessfile.ErrNoSuchTable) {
		return refreshRelationships(f, m)
	}
	if err != nil {
		return err
	}
	t, err := m.PlanTable(*meta)
	if err != nil {
		return err
	}
	m.AddTable(t)
	if err := refreshRelationships(f, m); err != nil {
		return err
	}
	stmts, err := TableStatements(m, t, opts.Expression)
	if err != nil {
		return err
	}
	if err := execAll(ctx, eng, stmts); err != nil {
		return err
	}
	if _, err := loadTable(ctx, f, eng, t); err != nil {
		return err
	}
	return createIndexes(ctx, eng, t, opts.SkipIndexes)
}

func refreshRelationships(f *accessfile.File, m *Mirror) error {
	rels, err := f.Relationships()
	if err != nil {
		return err
	}
	m.relationships = nil
	for _, rel := range rels {
		_, from := m.Table(rel.FromTable)
		_, to := m.Table(rel.ToTable)
		if from && to {
			if err := m.AddRelationship(rel); err != nil {
				return err
			}
		}
	}
	m.version++
	return nil
}
