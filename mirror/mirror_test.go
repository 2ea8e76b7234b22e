package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) *accessfile.File {
	t.Helper()
	f, err := accessfile.Create(filepath.Join(t.TempDir(), "mirror.accdb"), accessfile.Options{Format: accessfile.V2016, LockTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(context.Background(), engine.Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func inSession(t *testing.T, f *accessfile.File, fn func(s *accessfile.Session)) {
	t.Helper()
	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	fn(s)
	require.NoError(t, s.Commit())
}

func seedShop(t *testing.T, f *accessfile.File) {
	inSession(t, f, func(s *accessfile.Session) {
		_, err := s.CreateTable(accessfile.TableMeta{
			Name: "Customers",
			Columns: []accessfile.ColumnMeta{
				{Name: "ID", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "Full Name", Type: accessfile.TypeText, Length: 80, Required: true},
				{Name: "Select", Type: accessfile.TypeBoolean, Default: "True"},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"ID"}, Primary: true},
				{Name: "ByName", Columns: []string{"Full Name"}},
			},
		})
		require.NoError(t, err)
		_, err = s.CreateTable(accessfile.TableMeta{
			Name: "Orders",
			Columns: []accessfile.ColumnMeta{
				{Name: "OrderNo", Type: accessfile.TypeLong, Required: true},
				{Name: "Seq", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "CustomerID", Type: accessfile.TypeLong},
				{Name: "Price", Type: accessfile.TypeMoney},
				{Name: "Qty", Type: accessfile.TypeInt},
				{Name: "Total", Type: accessfile.TypeCalculated, Expression: "[Price]*[Qty]", ResultType: accessfile.TypeDouble},
				{Name: "Tags", Type: accessfile.TypeMultiValue, ElementType: accessfile.TypeText},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"OrderNo"}, Primary: true},
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.AddRelationship(accessfile.Relationship{
			Name: "CustomerOrders", FromTable: "Orders", FromColumns: []string{"CustomerID"},
			ToTable: "Customers", ToColumns: []string{"ID"}, Enforce: true, CascadeDeletes: true,
		}))

		_, err = s.AddRow("Customers", accessfile.Row{"Full Name": "Ann"})
		require.NoError(t, err)
		_, err = s.AddRow("Customers", accessfile.Row{"Full Name": "Bob", "Select": false})
		require.NoError(t, err)
		_, err = s.AddRow("Orders", accessfile.Row{"OrderNo": int32(10), "CustomerID": int32(1), "Price": "2.5", "Qty": int16(4),
			"Tags": accessfile.MultiValue{"red", "blue"}})
		require.NoError(t, err)
	})
}

func bracketExpression(_ *Table, expr string) (string, error) {
	return strings.NewReplacer("[", `"`, "]", `"`).Replace(expr), nil
}

func TestImportSchema(t *testing.T) {
	f := newTestFile(t)
	seedShop(t, f)
	eng := newTestEngine(t)
	ctx := context.Background()

	m, err := Import(ctx, f, eng, Options{Expression: bracketExpression})
	require.NoError(t, err)

	tables := m.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "Customers", tables[0].SourceName())
	assert.Equal(t, "Orders", tables[1].SourceName())

	cust := tables[0]
	assert.True(t, cust.RowIDAlias)
	require.Len(t, cust.Columns, 3)
	assert.Equal(t, "Full_Name", cust.Columns[1].Name)
	assert.True(t, cust.Columns[1].Renamed())
	assert.Equal(t, "Select_", cust.Columns[2].Name)

	c, ok := cust.Column("full name")
	require.True(t, ok)
	assert.Equal(t, "VARCHAR(80)", c.EngineType)
	_, ok = cust.EngineColumn("FULL_NAME")
	assert.True(t, ok)

	for _, mt := range tables {
		cols, err := eng.TableColumns(ctx, mt.Name)
		require.NoError(t, err)
		require.Len(t, cols, len(mt.Meta.Columns), mt.Name)
		for i, col := range cols {
			assert.Equal(t, mt.Columns[i].Name, col.Name)
		}
	}

	rels := m.RelationshipsOf("orders")
	require.Len(t, rels, 1)
	assert.Equal(t, "Customers", rels[0].ToTable)
	assert.Len(t, m.ReferencesTo("Customers"), 1)
}

func TestImportData(t *testing.T) {
	f := newTestFile(t)
	seedShop(t, f)
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := Import(ctx, f, eng, Options{Expression: bracketExpression})
	require.NoError(t, err)

	var name string
	var sel bool
	require.NoError(t, eng.QueryRow(ctx, `SELECT "Full_Name", "Select_" FROM "Customers" WHERE "ID" = 2`).Scan(&name, &sel))
	assert.Equal(t, "Bob", name)
	assert.False(t, sel)

	var total float64
	var tags string
	require.NoError(t, eng.QueryRow(ctx, `SELECT "Total", "Tags" FROM "Orders" WHERE "OrderNo" = 10`).Scan(&total, &tags))
	assert.Equal(t, 10.0, total)
	assert.JSONEq(t, `["red","blue"]`, tags)

	// Provisional autonumbers continue after the file's.
	res, err := eng.Exec(ctx, `INSERT INTO "Customers" ("Full_Name") VALUES ('Cy')`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.LastInsertID)

	var sel3 bool
	require.NoError(t, eng.QueryRow(ctx, `SELECT "Select_" FROM "Customers" WHERE "ID" = 3`).Scan(&sel3))
	assert.True(t, sel3, "engine default applies")

	res, err = eng.Exec(ctx, `INSERT INTO "Orders" ("OrderNo", "CustomerID") VALUES (11, 3)`)
	require.NoError(t, err)
	var seq int64
	require.NoError(t, eng.QueryRow(ctx, `SELECT "Seq" FROM "Orders" WHERE "OrderNo" = 11`).Scan(&seq))
	assert.Equal(t, int64(2), seq)
	inserted := false
	for _, c := range res.Changes {
		inserted = inserted || (c.Kind == engine.ChangeInsert && c.Table == "Orders")
	}
	assert.True(t, inserted)
}

func TestImportEnforcesForeignKeys(t *testing.T) {
	f := newTestFile(t)
	seedShop(t, f)
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := Import(ctx, f, eng, Options{Expression: bracketExpression})
	require.NoError(t, err)

	_, err = eng.Exec(ctx, `INSERT INTO "Orders" ("OrderNo", "CustomerID") VALUES (12, 99)`)
	assert.Error(t, err)

	res, err := eng.Exec(ctx, `DELETE FROM "Customers" WHERE "ID" = 1`)
	require.NoError(t, err)
	kinds := map[string]engine.ChangeKind{}
	for _, c := range res.Changes {
		kinds[c.Table] = c.Kind
	}
	assert.Equal(t, engine.ChangeDelete, kinds["Customers"])
	assert.Equal(t, engine.ChangeDelete, kinds["Orders"])
}

func TestImportWithoutExpressionTranslator(t *testing.T) {
	f := newTestFile(t)
	seedShop(t, f)
	eng := newTestEngine(t)

	_, err := Import(context.Background(), f, eng, Options{})
	var sie *SchemaImportError
	require.True(t, errors.As(err, &sie), "got %v", err)
	assert.Equal(t, "Total", sie.Column)
	assert.ErrorIs(t, err, accessfile.ErrUnsupported)
}

func TestPlanTableRejections(t *testing.T) {
	m := New()
	first, err := m.PlanTable(accessfile.TableMeta{Name: "a b", Columns: []accessfile.ColumnMeta{{Name: "x", Type: accessfile.TypeLong}}})
	require.NoError(t, err)
	m.AddTable(first)

	_, err = m.PlanTable(accessfile.TableMeta{Name: "a_b", Columns: []accessfile.ColumnMeta{{Name: "x", Type: accessfile.TypeLong}}})
	var sie *SchemaImportError
	require.True(t, errors.As(err, &sie))
	assert.Contains(t, sie.Reason, "collides")

	_, err = m.PlanTable(accessfile.TableMeta{Name: "c", Columns: []accessfile.ColumnMeta{
		{Name: "my-col", Type: accessfile.TypeLong},
		{Name: "my col", Type: accessfile.TypeLong},
	}})
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "my col", sie.Column)

	_, err = m.PlanTable(accessfile.TableMeta{Name: "h", Columns: []accessfile.ColumnMeta{{Name: "v", Type: accessfile.TypeVersionHistory}}})
	assert.ErrorIs(t, err, accessfile.ErrUnsupported)
}

func TestCloneAndRestore(t *testing.T) {
	m := New()
	tbl, err := m.PlanTable(accessfile.TableMeta{Name: "T", Columns: []accessfile.ColumnMeta{{Name: "x", Type: accessfile.TypeLong}}})
	require.NoError(t, err)
	m.AddTable(tbl)
	snapshot := m.Clone()
	v := m.Version()

	m.RemoveTable("T")
	_, ok := m.Table("T")
	assert.False(t, ok)

	m.Restore(snapshot)
	_, ok = m.Table("t")
	assert.True(t, ok)
	assert.Greater(t, m.Version(), v)
}

func TestSyncTableFollowsFile(t *testing.T) {
	f := newTestFile(t)
	seedShop(t, f)
	eng := newTestEngine(t)
	ctx := context.Background()
	opts := Options{Expression: bracketExpression}

	m, err := Import(ctx, f, eng, opts)
	require.NoError(t, err)

	inSession(t, f, func(s *accessfile.Session) {
		require.NoError(t, s.AddColumn("Customers", accessfile.ColumnMeta{Name: "Code", Type: accessfile.TypeLong, AutoNumber: true}))
	})
	require.NoError(t, SyncTable(ctx, f, eng, m, "Customers", opts))

	cust, ok := m.Table("Customers")
	require.True(t, ok)
	require.Len(t, cust.Columns, 4)
	var codes int
	require.NoError(t, eng.QueryRow(ctx, `SELECT COUNT(DISTINCT "Code") FROM "Customers"`).Scan(&codes))
	assert.Equal(t, 2, codes)
	assert.Len(t, m.RelationshipsOf("Orders"), 1)

	inSession(t, f, func(s *accessfile.Session) {
		require.NoError(t, s.DropRelationship("CustomerOrders"))
		require.NoError(t, s.DropTable("Orders"))
	})
	require.NoError(t, SyncTable(ctx, f, eng, m, "Orders", opts))
	_, ok = m.Table("Orders")
	assert.False(t, ok)
	assert.Empty(t, m.Relationships())
}
