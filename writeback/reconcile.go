package writeback

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
)

// schema applies one DDL change to the file session.
func (fl *flusher) schema(c *mirror.SchemaChange) error {
	if c == nil {
		return fmt.Errorf("schema operation without a change")
	}
	var err error
	switch c.Kind {
	case mirror.CreateTable:
		if _, err = fl.sess.CreateTable(c.Meta); err != nil {
			return err
		}
		for _, rel := range c.Relationships {
			if err = fl.sess.AddRelationship(rel); err != nil {
				return err
			}
		}
	case mirror.DropTable:
		err = fl.sess.DropTable(c.Table)
	case mirror.AddColumn:
		err = fl.sess.AddColumn(c.Table, c.Column)
	case mirror.DropColumn:
		err = fl.sess.DropColumn(c.Table, c.Name)
	case mirror.CreateIndex:
		err = fl.sess.CreateIndex(c.Table, c.Index)
	case mirror.DropIndex:
		err = fl.sess.DropIndex(c.Table, c.Name)
	case mirror.AddRelationship:
		err = fl.sess.AddRelationship(c.Relationship)
	case mirror.DropRelationship:
		err = fl.sess.DropRelationship(c.Name)
	default:
		return fmt.Errorf("unknown schema change %v", c.Kind)
	}
	if err != nil {
		return err
	}
	if c.NeedsResync() {
		fl.needsResync(c.ResyncTable())
	}
	return nil
}

// reconcile brings the engine in line with what the file stored: filled-in
// values first, by rowid, then autonumber renumbering. Keys move in two
// phases through temporary negative values so a chain of reassignments
// never collides.
func (fl *flusher) reconcile(ctx context.Context, eng *engine.Engine) error {
	if len(fl.fixups) == 0 && len(fl.renumbers) == 0 {
		return nil
	}
	if err := eng.Begin(ctx); err != nil {
		return err
	}
	err := eng.WithoutCapture(func() error {
		for _, fx := range fl.fixups {
			t, ok := fl.m.Table(fx.table)
			if !ok {
				continue
			}
			if err := exec(ctx, eng, engine.Dialect.Update(goqu.T(t.Name)).Set(fx.values).
				Where(goqu.L("rowid").Eq(fx.rowID))); err != nil {
				return fmt.Errorf("copy stored values to %s: %w", t.Name, err)
			}
		}
		for _, r := range fl.renumbers {
			if err := fl.move(ctx, eng, r, r.From, renumberBase-r.To); err != nil {
				return err
			}
		}
		for _, r := range fl.renumbers {
			if err := fl.move(ctx, eng, r, renumberBase-r.To, r.To); err != nil {
				return err
			}
		}
		return fl.raiseSequences(ctx, eng)
	})
	if err != nil {
		if rerr := eng.Rollback(); rerr != nil {
			fl.log.Debug().Err(rerr).Msg("Rollback after failed reconcile")
		}
		return err
	}
	return eng.Commit()
}

// move rewrites one autonumber value and every engine reference to it.
func (fl *flusher) move(ctx context.Context, eng *engine.Engine, r Renumber, from, to int64) error {
	t, ok := fl.m.Table(r.Table)
	if !ok {
		return nil
	}
	c, ok := t.Column(r.Column)
	if !ok {
		return nil
	}
	if err := exec(ctx, eng, engine.Dialect.Update(goqu.T(t.Name)).
		Set(goqu.Record{c.Name: to}).Where(goqu.C(c.Name).Eq(from))); err != nil {
		return fmt.Errorf("renumber %s.%s: %w", t.Name, c.Name, err)
	}
	for _, rel := range fl.m.ReferencesTo(r.Table) {
		child, ok := fl.m.Table(rel.FromTable)
		if !ok {
			continue
		}
		for i, tc := range rel.ToColumns {
			if !strings.EqualFold(tc, r.Column) {
				continue
			}
			fc, ok := child.Column(rel.FromColumns[i])
			if !ok {
				continue
			}
			if err := exec(ctx, eng, engine.Dialect.Update(goqu.T(child.Name)).
				Set(goqu.Record{fc.Name: to}).Where(goqu.C(fc.Name).Eq(from))); err != nil {
				return fmt.Errorf("renumber %s.%s: %w", child.Name, fc.Name, err)
			}
		}
	}
	return nil
}

func (fl *flusher) raiseSequences(ctx context.Context, eng *engine.Engine) error {
	high := make(map[colKey]Renumber)
	for _, r := range fl.renumbers {
		k := colKeyOf(r.Table, r.Column)
		if cur, ok := high[k]; !ok || r.To > cur.To {
			high[k] = r
		}
	}
	for _, r := range high {
		t, ok := fl.m.Table(r.Table)
		if !ok {
			continue
		}
		c, ok := t.Column(r.Column)
		if !ok {
			continue
		}
		if err := mirror.SetSequence(ctx, eng, t, c, r.To); err != nil {
			return fmt.Errorf("raise sequence of %s.%s: %w", t.Name, c.Name, err)
		}
	}
	return nil
}

// reconciledTables lists the tables reconcile writes to.
func (fl *flusher) reconciledTables() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		k := strings.ToLower(name)
		if !seen[k] {
			seen[k] = true
			out = append(out, name)
		}
	}
	for _, fx := range fl.fixups {
		add(fx.table)
	}
	for _, r := range fl.renumbers {
		add(r.Table)
		for _, rel := range fl.m.ReferencesTo(r.Table) {
			add(rel.FromTable)
		}
	}
	return out
}

func exec(ctx context.Context, eng *engine.Engine, ds *goqu.UpdateDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	_, err = eng.Exec(ctx, query, args...)
	return err
}
