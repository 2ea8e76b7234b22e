package accessfile

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestFile(t *testing.T, format Format) *File {
	t.Helper()
	f, err := Create(filepath.Join(t.TempDir(), "test.accdb"), Options{Format: format, LockTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func customersTable() TableMeta {
	return TableMeta{
		Name: "Customers",
		Columns: []ColumnMeta{
			{Name: "ID", Type: TypeLong, AutoNumber: true},
			{Name: "Name", Type: TypeText, Length: 50, Required: true},
			{Name: "Balance", Type: TypeMoney, Default: "0"},
			{Name: "Joined", Type: TypeDateTime},
		},
		Indexes: []IndexMeta{
			{Name: "PrimaryKey", Columns: []string{"ID"}, Primary: true},
			{Name: "NameIdx", Columns: []string{"Name"}, Unique: true},
		},
	}
}

func withSession(t *testing.T, f *File, fn func(s *Session)) {
	t.Helper()
	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	fn(s)
	require.NoError(t, s.Commit())
}

func TestCreateAndListTables(t *testing.T) {
	f := createTestFile(t, V2010)

	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)
		_, err = s.CreateTable(TableMeta{Name: "Orders", Columns: []ColumnMeta{{Name: "OrderID", Type: TypeLong}}})
		require.NoError(t, err)
	})

	tables, err := f.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "Customers", tables[0].Name)
	assert.Equal(t, "Orders", tables[1].Name)
	assert.Less(t, tables[0].Ordinal, tables[1].Ordinal)

	meta, err := f.Table("customers")
	require.NoError(t, err)
	assert.Len(t, meta.Columns, 4)
	pk, ok := meta.PrimaryKey()
	require.True(t, ok)
	assert.True(t, pk.Unique)
}

func TestCreateTableRejectsDuplicateAndUnsupported(t *testing.T) {
	f := createTestFile(t, V2003)

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()

	_, err = s.CreateTable(customersTable())
	require.NoError(t, err)

	_, err = s.CreateTable(TableMeta{Name: "CUSTOMERS", Columns: []ColumnMeta{{Name: "X", Type: TypeLong}}})
	assert.ErrorIs(t, err, ErrTableExists)

	_, err = s.CreateTable(TableMeta{Name: "Docs", Columns: []ColumnMeta{{Name: "Files", Type: TypeAttachment}}})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = s.CreateTable(TableMeta{Name: "Big", Columns: []ColumnMeta{{Name: "N", Type: TypeBigInt}}})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRowLifecycle(t *testing.T) {
	f := createTestFile(t, V2010)
	joined := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)

		row, err := s.AddRow("Customers", Row{"Name": "alice", "Joined": joined})
		require.NoError(t, err)
		assert.Equal(t, int32(1), row["ID"])
		assert.Equal(t, Currency(0), row["Balance"])

		_, err = s.AddRow("Customers", Row{"Name": "bob", "Balance": "12.5"})
		require.NoError(t, err)
	})

	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0]["Name"])
	assert.Equal(t, joined, rows[0]["Joined"])
	assert.Equal(t, Currency(125000), rows[1]["Balance"])

	withSession(t, f, func(s *Session) {
		updated, err := s.UpdateRow("Customers", RowIdentity{Key: map[string]interface{}{"ID": 2}}, Row{"Name": "robert"})
		require.NoError(t, err)
		assert.Equal(t, "robert", updated["Name"])

		_, err = s.DeleteRow("Customers", RowIdentity{Key: map[string]interface{}{"ID": int64(1)}})
		require.NoError(t, err)
	})

	rows, err = f.Rows("Customers")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "robert", rows[0]["Name"])
	assert.Equal(t, int32(2), rows[0]["ID"])
}

func TestRowIdentityWithoutPrimaryKey(t *testing.T) {
	f := createTestFile(t, V2010)

	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(TableMeta{Name: "Log", Columns: []ColumnMeta{
			{Name: "Msg", Type: TypeMemo},
			{Name: "Level", Type: TypeInt},
		}})
		require.NoError(t, err)
		_, err = s.AddRow("Log", Row{"Msg": "a", "Level": 1})
		require.NoError(t, err)
		_, err = s.AddRow("Log", Row{"Msg": "b", "Level": 2})
		require.NoError(t, err)
	})

	withSession(t, f, func(s *Session) {
		_, err := s.DeleteRow("Log", RowIdentity{Key: map[string]interface{}{"Msg": "b", "Level": int64(2)}})
		require.NoError(t, err)

		_, err = s.DeleteRow("Log", RowIdentity{Key: map[string]interface{}{"Msg": "zzz", "Level": 9}})
		assert.ErrorIs(t, err, ErrRowNotFound)
		assert.True(t, IsRowError(err))
	})

	rows, err := f.Rows("Log")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["Msg"])
}

func TestUniqueAndRequiredConstraints(t *testing.T) {
	f := createTestFile(t, V2010)

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()

	_, err = s.CreateTable(customersTable())
	require.NoError(t, err)

	_, err = s.AddRow("Customers", Row{"Name": "alice"})
	require.NoError(t, err)

	_, err = s.AddRow("Customers", Row{"Name": "ALICE"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = s.AddRow("Customers", Row{"Balance": 1})
	assert.ErrorIs(t, err, ErrNullViolation)

	_, err = s.AddRow("Customers", Row{"Name": "x", "Nope": 1})
	assert.ErrorIs(t, err, ErrNoSuchColumn)
}

func TestReleaseDiscardsWrites(t *testing.T) {
	f := createTestFile(t, V2010)
	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)
	})

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	_, err = s.AddRow("Customers", Row{"Name": "ghost"})
	require.NoError(t, err)
	seen, err := s.Rows("Customers")
	require.NoError(t, err)
	assert.Len(t, seen, 1)
	s.Release()

	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	assert.Empty(t, rows)

	next, err := f.PeekAutonumber("Customers", "ID")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestExclusiveLockTimesOut(t *testing.T) {
	f := createTestFile(t, V2010)

	held, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)

	_, err = f.AcquireExclusiveLock(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, IsRowError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.AcquireExclusiveLock(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	held.Release()
	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	s.Release()
}

func TestSharedHandleAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.accdb")
	a, err := Create(path, Options{Format: V2016})
	require.NoError(t, err)
	defer a.Close()

	b, err := Open(path, Options{LockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	s, err := a.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	_, err = b.AcquireExclusiveLock(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
	s.Release()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, V2016, a.Format())

	_, err = Create(path, Options{Format: V2016})
	assert.ErrorIs(t, err, ErrFileExists)
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.accdb")
	f, err := Create(path, Options{Format: V2010})
	require.NoError(t, err)
	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)
		_, err = s.AddRow("Customers", Row{"Name": "alice"})
		require.NoError(t, err)
	})
	require.NoError(t, f.Close())

	f, err = Open(path, Options{})
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	next, err := f.PeekAutonumber("Customers", "ID")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.accdb"), Options{})
	require.Error(t, err)
	var fe *FileError
	assert.True(t, errors.As(err, &fe))
}

func TestReadOnlyRefusesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.accdb")
	f, err := Create(path, Options{Format: V2010})
	require.NoError(t, err)
	defer f.Close()

	ro, err := Open(path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.AcquireExclusiveLock(context.Background())
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestConcurrentAutonumbersAreDistinct(t *testing.T) {
	f := createTestFile(t, V2010)
	f.lockTimeout = 10 * time.Second
	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(TableMeta{Name: "T", Columns: []ColumnMeta{
			{Name: "id", Type: TypeLong, AutoNumber: true},
			{Name: "name", Type: TypeText, Length: 20},
		}, Indexes: []IndexMeta{{Name: "pk", Columns: []string{"id"}, Primary: true}}})
		require.NoError(t, err)
	})

	const workers = 8
	var (
		mu  sync.Mutex
		ids []int
		wg  sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.AcquireExclusiveLock(context.Background())
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer s.Release()
			row, err := s.AddRow("T", Row{"name": "a"})
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			if err := s.Commit(); err != nil {
				t.Errorf("commit: %v", err)
				return
			}
			mu.Lock()
			ids = append(ids, int(row["id"].(int32)))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(ids)
	require.Len(t, ids, workers)
	for i, id := range ids {
		assert.Equal(t, i+1, id)
	}
}

func TestReferentialIntegrityDeferredToCommit(t *testing.T) {
	f := createTestFile(t, V2010)
	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)
		_, err = s.CreateTable(TableMeta{Name: "Orders", Columns: []ColumnMeta{
			{Name: "OrderID", Type: TypeLong, AutoNumber: true},
			{Name: "CustomerID", Type: TypeLong},
		}, Indexes: []IndexMeta{{Name: "pk", Columns: []string{"OrderID"}, Primary: true}}})
		require.NoError(t, err)
		require.NoError(t, s.AddRelationship(Relationship{
			Name: "CustomerOrders", FromTable: "Orders", FromColumns: []string{"CustomerID"},
			ToTable: "Customers", ToColumns: []string{"ID"}, Enforce: true,
		}))
	})

	// Child before parent within one session is fine.
	withSession(t, f, func(s *Session) {
		_, err := s.AddRow("Orders", Row{"CustomerID": 1})
		require.NoError(t, err)
		_, err = s.AddRow("Customers", Row{"Name": "alice"})
		require.NoError(t, err)
	})

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	_, err = s.AddRow("Orders", Row{"CustomerID": 42})
	require.NoError(t, err)
	err = s.Commit()
	assert.ErrorIs(t, err, ErrReferentialIntegrity)
	s.Release()

	rows, err := f.Rows("Orders")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	s, err = f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	assert.ErrorIs(t, s.DropTable("Customers"), ErrReferentialIntegrity)
}

func TestComplexColumnsRoundTrip(t *testing.T) {
	f := createTestFile(t, V2010)
	modified := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	guid := uuid.New()

	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(TableMeta{Name: "Docs", Columns: []ColumnMeta{
			{Name: "ID", Type: TypeGUID, AutoNumber: true},
			{Name: "Ref", Type: TypeGUID},
			{Name: "Files", Type: TypeAttachment},
			{Name: "Tags", Type: TypeMultiValue, ElementType: TypeText, Length: 20},
			{Name: "Price", Type: TypeNumeric, Precision: 10, Scale: 2},
		}})
		require.NoError(t, err)
		row, err := s.AddRow("Docs", Row{
			"Ref":   "{" + guid.String() + "}",
			"Files": []Attachment{{Name: "a.txt", FileType: "txt", Modified: modified, Data: []byte("hello hello hello")}},
			"Tags":  []string{"red", "blue"},
			"Price": "3.14159",
		})
		require.NoError(t, err)
		assert.IsType(t, uuid.UUID{}, row["ID"])
	})

	rows, err := f.Rows("Docs")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, guid, rows[0]["Ref"])
	assert.Equal(t, MultiValue{"red", "blue"}, rows[0]["Tags"])
	assert.Equal(t, Decimal("3.14"), rows[0]["Price"])
	files := rows[0]["Files"].([]Attachment)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("hello hello hello"), files[0].Data)
	assert.Equal(t, modified, files[0].Modified)
}

func TestSchemaChanges(t *testing.T) {
	f := createTestFile(t, V2010)
	withSession(t, f, func(s *Session) {
		_, err := s.CreateTable(customersTable())
		require.NoError(t, err)
		_, err = s.AddRow("Customers", Row{"Name": "alice"})
		require.NoError(t, err)
	})

	withSession(t, f, func(s *Session) {
		require.NoError(t, s.AddColumn("Customers", ColumnMeta{Name: "Active", Type: TypeBoolean, Default: "True"}))
		require.NoError(t, s.AddColumn("Customers", ColumnMeta{Name: "Notes", Type: TypeMemo}))
		require.NoError(t, s.DropColumn("Customers", "Notes"))
		require.NoError(t, s.DropIndex("Customers", "NameIdx"))
		require.NoError(t, s.CreateIndex("Customers", IndexMeta{Name: "JoinedIdx", Columns: []string{"Joined"}}))
	})

	meta, err := f.Table("Customers")
	require.NoError(t, err)
	_, hasNotes := meta.Column("Notes")
	assert.False(t, hasNotes)
	_, hasNameIdx := meta.Index("NameIdx")
	assert.False(t, hasNameIdx)

	rows, err := f.Rows("Customers")
	require.NoError(t, err)
	assert.Equal(t, true, rows[0]["Active"])

	withSession(t, f, func(s *Session) {
		_, err := s.AddRow("Customers", Row{"Name": "alice"})
		require.NoError(t, err, "unique index was dropped")
	})

	s, err := f.AcquireExclusiveLock(context.Background())
	require.NoError(t, err)
	defer s.Release()
	err = s.CreateIndex("Customers", IndexMeta{Name: "NameIdx", Columns: []string{"Name"}, Unique: true})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Error(t, s.DropColumn("Customers", "ID"))
}
