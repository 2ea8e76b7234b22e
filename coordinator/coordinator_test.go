package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/translate"
	"github.com/notzippy/ucanaccess-code/writeback"
)

var customersMeta = accessfile.TableMeta{
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
}

// createShop creates a file holding Customers with Acme and Globex.
func createShop(t *testing.T) (string, *accessfile.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.accdb")
	f, err := accessfile.Create(path, accessfile.Options{Format: accessfile.V2016, LockTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	_, err = s.CreateTable(customersMeta)
	require.NoError(t, err)
	_, err = s.AddRow("Customers", accessfile.Row{"Company": "Acme", "Active": true})
	require.NoError(t, err)
	_, err = s.AddRow("Customers", accessfile.Row{"Company": "Globex", "Active": false})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	return path, f
}

// connect builds a coordinator over its own engine and mirror of f.
func connect(t *testing.T, f *accessfile.File) *Coordinator {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.Open(ctx, engine.Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	m, err := mirror.Import(ctx, f, eng, mirror.Options{})
	require.NoError(t, err)
	tr, err := translate.New(translate.Options{})
	require.NoError(t, err)
	c, err := New(Options{File: f, Engine: eng, Mirror: m, Translator: tr})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func toInt64(t *testing.T, v interface{}) int64 {
	t.Helper()
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	t.Fatalf("not an integer: %T %v", v, v)
	return 0
}

// fileCompanies maps each company in the file to its ID.
func fileCompanies(t *testing.T, f *accessfile.File) map[string]int64 {
	t.Helper()
	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		id, _ := r.Get("ID")
		name, _ := r.Get("Company")
		out[name.(string)] = toInt64(t, id)
	}
	return out
}

// engineCompanies maps each company the connection sees to its ID.
func engineCompanies(t *testing.T, c *Coordinator) map[string]int64 {
	t.Helper()
	rows, _, err := c.Query(context.Background(), "SELECT ID, Company FROM Customers")
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		require.NoError(t, rows.Scan(&id, &name))
		out[name] = id
	}
	require.NoError(t, rows.Err())
	return out
}

func TestAutoCommitInsertsGetDistinctAutonumbers(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	res, err := c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Initech')")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, int64(1), res.RowsAffected)
	_, err = c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Hooli')")
	require.NoError(t, err)

	assert.Equal(t, TxnCommitted, c.TxnState())
	assert.False(t, c.InTransaction())

	file := fileCompanies(t, f)
	require.Len(t, file, 4)
	assert.Equal(t, int64(3), file["Initech"])
	assert.Equal(t, int64(4), file["Hooli"])
	assert.Equal(t, file, engineCompanies(t, c))

	rows, st, err := c.Query(ctx, "SELECT TOP 1 Company FROM Customers ORDER BY ID DESC")
	require.NoError(t, err)
	defer rows.Close()
	assert.Equal(t, "Company", st.SourceColumn("Company"))
	require.True(t, rows.Next())
	var name string
	require.NoError(t, rows.Scan(&name))
	assert.Equal(t, "Hooli", name)
	assert.False(t, rows.Next())
}

func TestExplicitTransactionCommit(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	assert.ErrorIs(t, c.Begin(ctx), ErrTransactionActive)
	assert.Equal(t, TxnActive, c.TxnState())

	_, err := c.Exec(ctx, "INSERT INTO Customers (Company, Active) VALUES (?, ?)", "Initech", true)
	require.NoError(t, err)
	res, err := c.Exec(ctx, "UPDATE Customers SET Active = True WHERE Company = 'Globex'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	_, err = c.Exec(ctx, "DELETE FROM Customers WHERE Company = 'Acme'")
	require.NoError(t, err)

	// Nothing reaches the file before commit.
	assert.Len(t, fileCompanies(t, f), 2)

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, TxnCommitted, c.TxnState())

	file := fileCompanies(t, f)
	assert.Equal(t, map[string]int64{"Globex": 2, "Initech": 3}, file)
	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	for _, r := range rows {
		active, _ := r.Get("Active")
		assert.Equal(t, true, active)
	}
	assert.ErrorIs(t, c.Commit(ctx), ErrNoTransaction)
}

func TestRollbackLeavesFileUntouched(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	_, err := c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Initech')")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "DELETE FROM Customers WHERE ID = 1")
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))

	assert.Equal(t, TxnRolledBack, c.TxnState())
	want := map[string]int64{"Acme": 1, "Globex": 2}
	assert.Equal(t, want, fileCompanies(t, f))
	assert.Equal(t, want, engineCompanies(t, c))
	assert.ErrorIs(t, c.Rollback(ctx), ErrNoTransaction)
}

func TestManualModeBeginsImplicitly(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	require.NoError(t, c.SetAutoCommit(ctx, false))
	assert.False(t, c.AutoCommit())

	rows, _, err := c.Query(ctx, "SELECT * FROM Customers")
	require.NoError(t, err)
	rows.Close()
	assert.False(t, c.InTransaction(), "queries do not open a transaction")

	_, err = c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Initech')")
	require.NoError(t, err)
	assert.True(t, c.InTransaction())
	assert.Len(t, fileCompanies(t, f), 2)

	// Switching auto-commit back on commits the open transaction.
	require.NoError(t, c.SetAutoCommit(ctx, true))
	assert.False(t, c.InTransaction())
	assert.Equal(t, int64(3), fileCompanies(t, f)["Initech"])
}

func TestFailedWriteBackIsCompensated(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	// Another writer removes Globex behind the connection's back.
	s, err := f.AcquireExclusiveLock(ctx)
	require.NoError(t, err)
	_, err = s.DeleteRow("Customers", accessfile.RowIdentity{Key: map[string]interface{}{"ID": int32(2)}})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	s.Release()

	require.NoError(t, c.Begin(ctx))
	_, err = c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Initech')")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "UPDATE Customers SET Active = True WHERE ID = 2")
	require.NoError(t, err)

	err = c.Commit(ctx)
	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Compensated())
	var se *writeback.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, writeback.ReasonStaleRow, se.Reason)
	assert.Equal(t, TxnRolledBack, c.TxnState())

	assert.Equal(t, map[string]int64{"Acme": 1}, fileCompanies(t, f))
	assert.Equal(t, map[string]int64{"Acme": 1, "Globex": 2}, engineCompanies(t, c))

	var active bool
	rows, _, err := c.Query(ctx, "SELECT Active FROM Customers WHERE ID = 2")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&active))
	assert.False(t, active)
}

func TestTranslationAndExecutionErrors(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	_, err := c.Exec(ctx, "SELECT Nope FROM Customers")
	var ue *translate.UnknownIdentifierError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, StateFailed, c.StatementState())

	_, err = c.Exec(ctx, "INSERT INTO Customers (ID, Company) VALUES (1, 'Duplicate')")
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.SourceSQL, "'Duplicate'")
	assert.Contains(t, ee.TargetSQL, `"Customers"`)
	assert.False(t, c.InTransaction(), "a failed auto-commit statement rolls back")

	// The connection stays usable.
	_, err = c.Exec(ctx, "INSERT INTO Customers (Company) VALUES ('Initech')")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, c.StatementState())
	assert.Len(t, fileCompanies(t, f), 3)

	_, _, err = c.Query(ctx, "DELETE FROM Customers")
	assert.ErrorIs(t, err, ErrNotQuery)
}

func TestExecBatchStopsAtFirstFailure(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	results, err := c.ExecBatch(ctx, []BatchEntry{
		{SQL: "INSERT INTO Customers (Company) VALUES ('Initech')"},
		{SQL: "INSERT INTO Missing (X) VALUES (1)"},
		{SQL: "INSERT INTO Customers (Company) VALUES ('Hooli')"},
	})
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
	assert.Equal(t, []BatchStatus{BatchSucceeded, BatchFailed, BatchNotExecuted}, be.Statuses)
	assert.Contains(t, be.Error(), "1 not executed")
	require.Len(t, results, 1)
	assert.Equal(t, StateReceived, c.StatementState())

	file := fileCompanies(t, f)
	assert.Contains(t, file, "Initech")
	assert.NotContains(t, file, "Hooli")

	results, err = c.ExecBatch(ctx, []BatchEntry{
		{SQL: "UPDATE Customers SET Active = ? WHERE Company = ?", Args: []interface{}{true, "Initech"}},
		{SQL: "DELETE FROM Customers WHERE Company = ?", Args: []interface{}{"Globex"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[1].RowsAffected)
	assert.NotContains(t, fileCompanies(t, f), "Globex")
}

func TestDDLCommitAndRollback(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	require.NoError(t, c.Begin(ctx))
	_, err := c.Exec(ctx, "CREATE TABLE Scratch (Note TEXT(20))")
	require.NoError(t, err)
	_, ok := c.Mirror().Table("Scratch")
	assert.True(t, ok)
	require.NoError(t, c.Rollback(ctx))
	_, ok = c.Mirror().Table("Scratch")
	assert.False(t, ok, "rollback restores the mirror")
	_, err = f.Table("Scratch")
	assert.Error(t, err)

	_, err = c.Exec(ctx, "CREATE TABLE Notes (NoteID COUNTER PRIMARY KEY, Body MEMO)")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "INSERT INTO Notes (Body) VALUES ('first')")
	require.NoError(t, err)

	meta, err := f.Table("Notes")
	require.NoError(t, err)
	assert.Len(t, meta.Columns, 2)
	rows, err := f.Rows("Notes")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	body, _ := rows[0].Get("Body")
	assert.Equal(t, "first", body)

	_, err = c.Exec(ctx, "ALTER TABLE Customers ADD COLUMN Region TEXT(20)")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "UPDATE Customers SET Region = 'North' WHERE ID = 1")
	require.NoError(t, err)
	acme, err := f.Rows("Customers")
	require.NoError(t, err)
	found := false
	for _, r := range acme {
		if name, _ := r.Get("Company"); name == "Acme" {
			region, _ := r.Get("Region")
			assert.Equal(t, "North", region)
			found = true
		}
	}
	assert.True(t, found)
}

func TestPreparedStatementFollowsSchema(t *testing.T) {
	_, f := createShop(t)
	c := connect(t, f)
	ctx := context.Background()

	ins, err := c.Prepare(ctx, "INSERT INTO Customers (Company, Active) VALUES (?, ?)")
	require.NoError(t, err)
	defer ins.Close()
	for i := 0; i < 3; i++ {
		_, err := ins.Exec(ctx, fmt.Sprintf("Company %d", i), i%2 == 0)
		require.NoError(t, err)
	}
	assert.Len(t, fileCompanies(t, f), 5)

	before := ins.Statement()
	_, err = c.Exec(ctx, "ALTER TABLE Customers ADD COLUMN Region TEXT(20)")
	require.NoError(t, err)
	_, err = ins.Exec(ctx, "After", false)
	require.NoError(t, err)
	assert.NotSame(t, before, ins.Statement(), "schema changes force a new translation")
	assert.Contains(t, fileCompanies(t, f), "After")

	q, err := c.Prepare(ctx, "SELECT Company FROM Customers WHERE Company LIKE ? ORDER BY Company")
	require.NoError(t, err)
	if q.SupportsCloseOnCompletion() {
		q.CloseOnCompletion()
		assert.True(t, q.IsCloseOnCompletion())
	}
	rows, err := q.Query(ctx, "Company%")
	require.NoError(t, err)
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, q.CloseRows(rows))
	assert.Equal(t, []string{"Company 0", "Company 1", "Company 2"}, names)
	if q.IsCloseOnCompletion() {
		_, err = q.Query(ctx, "A%")
		assert.ErrorIs(t, err, engine.ErrStatementClosed)
	}
	require.NoError(t, q.Close())
}

func TestConcurrentConnectionsShareAutonumbers(t *testing.T) {
	path, f := createShop(t)
	const perConn = 5

	conns := make([]*Coordinator, 3)
	for i := range conns {
		other, err := accessfile.Open(path, accessfile.Options{LockTimeout: 10 * time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { other.Close() })
		conns[i] = connect(t, other)
	}

	var g errgroup.Group
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			for n := 0; n < perConn; n++ {
				if _, err := c.Exec(context.Background(), "INSERT INTO Customers (Company) VALUES (?)", fmt.Sprintf("conn%d-%d", i, n)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	file := fileCompanies(t, f)
	require.Len(t, file, 2+len(conns)*perConn)
	ids := make([]int64, 0, len(file))
	for _, id := range file {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		assert.NotEqual(t, ids[i-1], ids[i])
	}

	// Each connection's engine agrees with the file on its own rows.
	for i, c := range conns {
		seen := engineCompanies(t, c)
		for n := 0; n < perConn; n++ {
			name := fmt.Sprintf("conn%d-%d", i, n)
			assert.Equal(t, file[name], seen[name], name)
		}
	}
}

func TestReadOnlyConnectionRejectsMutations(t *testing.T) {
	path, _ := createShop(t)
	ro, err := accessfile.Open(path, accessfile.Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	c := connect(t, ro)

	_, err = c.Exec(context.Background(), "DELETE FROM Customers")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Len(t, engineCompanies(t, c), 2)
}

func TestEngineFailureReportsBothStatements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.accdb")
	f, err := accessfile.Create(path, accessfile.Options{Format: accessfile.V2016})
	require.NoError(t, err)
	defer f.Close()

	m := mirror.New()
	tb, err := m.PlanTable(customersMeta)
	require.NoError(t, err)
	m.AddTable(tb)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)

	tr, err := translate.New(translate.Options{})
	require.NoError(t, err)
	c, err := New(Options{File: f, Engine: engine.Wrap(db, conn), Mirror: m, Translator: tr})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "Customers" SET "Active" = 1`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = c.Exec(context.Background(), "UPDATE Customers SET Active = True WHERE ID = 1")
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "UPDATE Customers SET Active = True WHERE ID = 1", ee.SourceSQL)
	assert.Equal(t, `UPDATE "Customers" SET "Active" = 1 WHERE "ID" = 1`, ee.TargetSQL)
	assert.EqualError(t, errors.Unwrap(err), "disk I/O error")
	assert.Equal(t, TxnRolledBack, c.TxnState())
	assert.Equal(t, StateFailed, c.StatementState())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
