package translate

import (
	"testing"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/stretchr/testify/require"
)

func shopMirror(t *testing.T) *mirror.Mirror {
	t.Helper()
	m := mirror.New()
	for _, meta := range []accessfile.TableMeta{
		{
			Name: "Customers",
			Columns: []accessfile.ColumnMeta{
				{Name: "ID", Type: accessfile.TypeLong, AutoNumber: true},
				{Name: "Full Name", Type: accessfile.TypeText, Length: 80},
				{Name: "City", Type: accessfile.TypeText, Length: 40},
				{Name: "Active", Type: accessfile.TypeBoolean},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"ID"}, Primary: true, Unique: true},
				{Name: "ByName", Columns: []string{"Full Name"}},
			},
		},
		{
			Name: "Orders",
			Columns: []accessfile.ColumnMeta{
				{Name: "OrderNo", Type: accessfile.TypeLong, Required: true},
				{Name: "CustomerID", Type: accessfile.TypeLong},
				{Name: "Total", Type: accessfile.TypeMoney},
				{Name: "Placed", Type: accessfile.TypeDateTime},
			},
			Indexes: []accessfile.IndexMeta{
				{Name: "PrimaryKey", Columns: []string{"OrderNo"}, Primary: true, Unique: true},
			},
		},
		{
			Name: "Notes",
			Columns: []accessfile.ColumnMeta{
				{Name: "Body", Type: accessfile.TypeMemo},
				{Name: "Stamp", Type: accessfile.TypeDateTime},
			},
		},
	} {
		tb, err := m.PlanTable(meta)
		require.NoError(t, err)
		m.AddTable(tb)
	}
	return m
}

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := New(Options{CacheSize: 16})
	require.NoError(t, err)
	return tr
}

func mustTranslate(t *testing.T, m *mirror.Mirror, sql string) *Statement {
	t.Helper()
	st, err := newTestTranslator(t).Translate(m, sql)
	require.NoError(t, err, sql)
	return st
}
