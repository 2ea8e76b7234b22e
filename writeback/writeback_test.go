package writeback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
)

type fixture struct {
	path string
	file *accessfile.File
	eng  *engine.Engine
	m    *mirror.Mirror
}

func inSession(t *testing.T, f *accessfile.File, fn func(s *accessfile.Session)) {
	t.Helper()
	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	fn(s)
	require.NoError(t, s.Commit())
}

// newFixture creates a file holding Customers and Orders, two customers,
// and mirrors it into a fresh engine.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.accdb")
	f, err := accessfile.Create(path, accessfile.Options{Format: accessfile.V2016, LockTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	inSession(t, f, func(s *accessfile.Session) {
		_, err := s.CreateTable(accessfile.TableMeta{
			Name: "Customers",
			Columns: []accessfile.ColumnMeta{
				{Name: "ID", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "Company", Type: accessfile.TypeText, Length: 50, Required: true},
				{Name: "Active", Type: accessfile.TypeBoolean},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"ID"}, Primary: true},
				{Name: "ByCompany", Columns: []string{"Company"}, Unique: true},
			},
		})
		require.NoError(t, err)
		_, err = s.CreateTable(accessfile.TableMeta{
			Name: "Orders",
			Columns: []accessfile.ColumnMeta{
				{Name: "OrderNo", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "CustomerID", Type: accessfile.TypeLong},
				{Name: "Qty", Type: accessfile.TypeInt},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"OrderNo"}, Primary: true},
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.AddRelationship(accessfile.Relationship{
			Name: "CustomersOrders", FromTable: "Orders", FromColumns: []string{"CustomerID"},
			ToTable: "Customers", ToColumns: []string{"ID"}, Enforce: true,
		}))
		_, err = s.AddRow("Customers", accessfile.Row{"Company": "Acme", "Active": true})
		require.NoError(t, err)
		_, err = s.AddRow("Customers", accessfile.Row{"Company": "Globex", "Active": false})
		require.NoError(t, err)
	})

	eng, err := engine.Open(context.Background(), engine.Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	m, err := mirror.Import(context.Background(), f, eng, mirror.Options{})
	require.NoError(t, err)
	return &fixture{path: path, file: f, eng: eng, m: m}
}

// exec runs a statement and records its captured operations.
func (fx *fixture) exec(t *testing.T, p *Pending, query string, args ...interface{}) {
	t.Helper()
	ctx := context.Background()
	res, err := fx.eng.Exec(ctx, query, args...)
	require.NoError(t, err)
	ops, err := Capture(ctx, fx.eng, fx.m, res.Changes)
	require.NoError(t, err)
	p.Add(ops...)
}

func (fx *fixture) flush(t *testing.T, p *Pending) (Result, error) {
	t.Helper()
	return Flush(context.Background(), fx.file, fx.eng, fx.m, p.Ops(), Options{TxnID: 1})
}

func (fx *fixture) fileRow(t *testing.T, table, col string, want interface{}) accessfile.Row {
	t.Helper()
	rows, err := fx.file.Rows(table)
	require.NoError(t, err)
	for _, r := range rows {
		if v, _ := r.Get(col); accessfile.SameValue(v, want) {
			return r
		}
	}
	return nil
}

func (fx *fixture) count(t *testing.T, table string) int {
	t.Helper()
	rows, err := fx.file.Rows(table)
	require.NoError(t, err)
	return len(rows)
}

func TestFlushInsertUpdateDelete(t *testing.T) {
	fx := newFixture(t)
	p := NewPending()

	fx.exec(t, p, `INSERT INTO "Customers" ("Company", "Active") VALUES ('Initech', 1)`)
	fx.exec(t, p, `UPDATE "Customers" SET "Active" = 1 WHERE "ID" = 2`)
	fx.exec(t, p, `DELETE FROM "Customers" WHERE "ID" = 1`)
	require.Equal(t, 3, p.Len())

	res, err := fx.flush(t, p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Empty(t, res.Renumbered)

	assert.Equal(t, 2, fx.count(t, "Customers"))
	assert.Nil(t, fx.fileRow(t, "Customers", "Company", "Acme"))
	globex := fx.fileRow(t, "Customers", "Company", "Globex")
	require.NotNil(t, globex)
	assert.Equal(t, true, globex["Active"])
	initech := fx.fileRow(t, "Customers", "Company", "Initech")
	require.NotNil(t, initech)
	assert.EqualValues(t, 3, initech["ID"])
}

func TestFlushReassignsStaleAutonumbers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Another connection takes ID 3 after this one imported the file.
	inSession(t, fx.file, func(s *accessfile.Session) {
		_, err := s.AddRow("Customers", accessfile.Row{"Company": "Hooli"})
		require.NoError(t, err)
	})

	p := NewPending()
	require.NoError(t, fx.eng.Begin(ctx))
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Initech')`)
	var provisional int64
	require.NoError(t, fx.eng.QueryRow(ctx, `SELECT "ID" FROM "Customers" WHERE "Company" = 'Initech'`).Scan(&provisional))
	require.EqualValues(t, 3, provisional)
	fx.exec(t, p, `INSERT INTO "Orders" ("CustomerID", "Qty") VALUES (?, 5)`, provisional)
	require.NoError(t, fx.eng.Commit())

	res, err := fx.flush(t, p)
	require.NoError(t, err)
	require.Len(t, res.Renumbered, 1)
	assert.Equal(t, Renumber{Table: "Customers", Column: "ID", From: 3, To: 4}, res.Renumbered[0])

	initech := fx.fileRow(t, "Customers", "Company", "Initech")
	require.NotNil(t, initech)
	assert.EqualValues(t, 4, initech["ID"])
	order := fx.fileRow(t, "Orders", "Qty", int16(5))
	require.NotNil(t, order)
	assert.EqualValues(t, 4, order["CustomerID"])

	var id, ref int64
	require.NoError(t, fx.eng.QueryRow(ctx, `SELECT "ID" FROM "Customers" WHERE "Company" = 'Initech'`).Scan(&id))
	require.NoError(t, fx.eng.QueryRow(ctx, `SELECT "CustomerID" FROM "Orders"`).Scan(&ref))
	assert.EqualValues(t, 4, id)
	assert.EqualValues(t, 4, ref)

	// The engine counter now follows the file allocator.
	p.Reset()
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Umbrella')`)
	res, err = fx.flush(t, p)
	require.NoError(t, err)
	assert.Empty(t, res.Renumbered)
	umbrella := fx.fileRow(t, "Customers", "Company", "Umbrella")
	require.NotNil(t, umbrella)
	assert.EqualValues(t, 5, umbrella["ID"])
}

func TestFlushStaleRowLeavesFileUnchanged(t *testing.T) {
	fx := newFixture(t)
	inSession(t, fx.file, func(s *accessfile.Session) {
		_, err := s.DeleteRow("Customers", accessfile.RowIdentity{Key: map[string]interface{}{"ID": int32(2)}})
		require.NoError(t, err)
	})

	p := NewPending()
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Initech')`)
	fx.exec(t, p, `UPDATE "Customers" SET "Company" = 'Globex Corp' WHERE "ID" = 2`)

	_, err := fx.flush(t, p)
	require.Error(t, err)
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonStaleRow, se.Reason)
	assert.Equal(t, OpUpdate, se.Op)
	assert.Equal(t, "Customers", se.Table)
	assert.False(t, se.Committed)
	assert.True(t, errors.Is(err, accessfile.ErrRowNotFound))

	assert.Equal(t, 1, fx.count(t, "Customers"))
	assert.Nil(t, fx.fileRow(t, "Customers", "Company", "Initech"))
}

func TestFlushConstraintViolation(t *testing.T) {
	fx := newFixture(t)
	inSession(t, fx.file, func(s *accessfile.Session) {
		_, err := s.AddRow("Customers", accessfile.Row{"Company": "Hooli"})
		require.NoError(t, err)
	})

	p := NewPending()
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Hooli')`)
	_, err := fx.flush(t, p)
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonConstraint, se.Reason)
	assert.True(t, errors.Is(err, accessfile.ErrDuplicateKey))
}

func TestFlushLockContention(t *testing.T) {
	fx := newFixture(t)
	other, err := accessfile.Open(fx.path, accessfile.Options{LockTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer other.Close()

	held, err := fx.file.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer held.Release()

	p := NewPending()
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Initech')`)
	_, err = Flush(context.Background(), other, fx.eng, fx.m, p.Ops(), Options{})
	require.Error(t, err)
	assert.True(t, IsLockContention(err))
	assert.True(t, errors.Is(err, accessfile.ErrLocked))
}

func TestFlushRefusesOpenEngineTransaction(t *testing.T) {
	fx := newFixture(t)
	p := NewPending()
	fx.exec(t, p, `INSERT INTO "Customers" ("Company") VALUES ('Initech')`)
	require.NoError(t, fx.eng.Begin(context.Background()))
	defer fx.eng.Rollback()

	_, err := fx.flush(t, p)
	assert.ErrorIs(t, err, mirror.ErrInTransaction)
}

func TestFlushSchemaChanges(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	create := &mirror.SchemaChange{
		Kind:  mirror.CreateTable,
		Table: "Notes",
		Meta: accessfile.TableMeta{
			Name: "Notes",
			Columns: []accessfile.ColumnMeta{
				{Name: "NoteID", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "Body", Type: accessfile.TypeMemo},
			},
			Indexes: []accessfile.IndexMeta{{Name: "PrimaryKey", Columns: []string{"NoteID"}, Primary: true}},
		},
	}
	require.NoError(t, fx.m.Apply(ctx, fx.eng, create, nil))
	addCol := &mirror.SchemaChange{
		Kind:   mirror.AddColumn,
		Table:  "Customers",
		Column: accessfile.ColumnMeta{Name: "Region", Type: accessfile.TypeText, Length: 20},
	}
	require.NoError(t, fx.m.Apply(ctx, fx.eng, addCol, nil))

	p := NewPending()
	p.Add(SchemaOperation(create))
	fx.exec(t, p, `INSERT INTO "Notes" ("Body") VALUES ('first')`)
	p.Add(SchemaOperation(addCol))

	res, err := fx.flush(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Customers"}, res.Resynced)

	meta, err := fx.file.Table("Notes")
	require.NoError(t, err)
	assert.Equal(t, "Notes", meta.Name)
	assert.Equal(t, 1, fx.count(t, "Notes"))

	cust, err := fx.file.Table("Customers")
	require.NoError(t, err)
	_, ok := cust.Column("Region")
	assert.True(t, ok)

	var n int
	require.NoError(t, fx.eng.QueryRow(ctx, `SELECT COUNT(*) FROM "Customers"`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestFlushNothing(t *testing.T) {
	fx := newFixture(t)
	res, err := Flush(context.Background(), fx.file, fx.eng, fx.m, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
}
