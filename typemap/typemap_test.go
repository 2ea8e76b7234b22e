package typemap

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineType(t *testing.T) {
	tests := []struct {
		col  accessfile.ColumnMeta
		want string
	}{
		{accessfile.ColumnMeta{Type: accessfile.TypeBoolean}, "BOOLEAN"},
		{accessfile.ColumnMeta{Type: accessfile.TypeLong}, "INTEGER"},
		{accessfile.ColumnMeta{Type: accessfile.TypeMoney}, "NUMERIC(19,4)"},
		{accessfile.ColumnMeta{Type: accessfile.TypeNumeric, Precision: 10, Scale: 3}, "NUMERIC(10,3)"},
		{accessfile.ColumnMeta{Type: accessfile.TypeText}, "VARCHAR(255)"},
		{accessfile.ColumnMeta{Type: accessfile.TypeText, Length: 20}, "VARCHAR(20)"},
		{accessfile.ColumnMeta{Type: accessfile.TypeGUID}, "CHAR(38)"},
		{accessfile.ColumnMeta{Type: accessfile.TypeMultiValue, ElementType: accessfile.TypeLong}, "TEXT"},
		{accessfile.ColumnMeta{Type: accessfile.TypeCalculated, ResultType: accessfile.TypeDouble, Expression: "[a]"}, "DOUBLE"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			got, err := EngineType(tc.col)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := EngineType(accessfile.ColumnMeta{Type: accessfile.TypeVersionHistory})
	assert.ErrorIs(t, err, accessfile.ErrUnsupported)
}

func TestParseSourceType(t *testing.T) {
	st, err := ParseSourceType("counter", []int{1, 1})
	require.NoError(t, err)
	assert.True(t, st.AutoNumber)
	assert.Equal(t, accessfile.TypeLong, st.Type)

	st, err = ParseSourceType("TEXT", []int{40})
	require.NoError(t, err)
	assert.Equal(t, 40, st.Length)

	st, err = ParseSourceType("DECIMAL", []int{12, 2})
	require.NoError(t, err)
	assert.Equal(t, 12, st.Precision)
	assert.Equal(t, 2, st.Scale)

	_, err = ParseSourceType("TEXT", []int{300})
	assert.Error(t, err)
	_, err = ParseSourceType("LONG", []int{3})
	assert.Error(t, err)
	_, err = ParseSourceType("WIDGET", nil)
	assert.Error(t, err)
}

func TestEngineRoundTrip(t *testing.T) {
	guid := uuid.New()
	when := time.Date(1999, 12, 31, 23, 59, 58, 0, time.UTC)
	tests := []struct {
		name string
		col  accessfile.ColumnMeta
		in   interface{}
	}{
		{"bool", accessfile.ColumnMeta{Type: accessfile.TypeBoolean}, true},
		{"money", accessfile.ColumnMeta{Type: accessfile.TypeMoney}, accessfile.Currency(123456)},
		{"numeric", accessfile.ColumnMeta{Type: accessfile.TypeNumeric, Precision: 10, Scale: 2}, accessfile.Decimal("12.30")},
		{"datetime", accessfile.ColumnMeta{Type: accessfile.TypeDateTime}, when},
		{"guid", accessfile.ColumnMeta{Type: accessfile.TypeGUID}, guid},
		{"multi", accessfile.ColumnMeta{Type: accessfile.TypeMultiValue, ElementType: accessfile.TypeLong}, accessfile.MultiValue{int32(1), int32(3)}},
		{"attachments", accessfile.ColumnMeta{Type: accessfile.TypeAttachment}, []accessfile.Attachment{{Name: "x.bin", FileType: "bin", Modified: when, Data: []byte{0, 1, 2}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stored, err := ToEngine(tc.col, tc.in)
			require.NoError(t, err)
			back, err := FromEngine(tc.col, stored)
			require.NoError(t, err)
			assert.True(t, accessfile.SameValue(tc.in, back), "got %#v", back)
		})
	}
}

func TestFromEngineAcceptsDriverTypes(t *testing.T) {
	when := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	v, err := FromEngine(accessfile.ColumnMeta{Type: accessfile.TypeDateTime}, when)
	require.NoError(t, err)
	assert.Equal(t, when, v)

	v, err = FromEngine(accessfile.ColumnMeta{Type: accessfile.TypeBoolean}, int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = FromEngine(accessfile.ColumnMeta{Type: accessfile.TypeLong}, int64(7))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestBindValue(t *testing.T) {
	assert.Equal(t, int64(1), BindValue(true))
	assert.Equal(t, "2020-01-02 03:04:05", BindValue(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "abc", BindValue("abc"))
	assert.Nil(t, BindValue(nil))
}

func TestSafeIdentifier(t *testing.T) {
	tests := map[string]string{
		"Customers":     "Customers",
		"Order Details": "Order_Details",
		"1stQuarter":    "_1stQuarter",
		"Select":        "Select_",
		"Größe":         "Größe",
		"a-b/c":         "a_b_c",
		"__ucan_x":      "x__ucan_x",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeIdentifier(in), in)
	}
}

func TestLookupFunction(t *testing.T) {
	f, ok := LookupFunction("ucase")
	require.True(t, ok)
	assert.Equal(t, FuncRename, f.Kind)
	assert.Equal(t, "upper", f.Target)

	f, ok = LookupFunction("DateAdd")
	require.True(t, ok)
	assert.Equal(t, "acc_dateadd", f.Target)
	assert.True(t, f.AcceptsArgs(3))
	assert.False(t, f.AcceptsArgs(2))

	f, ok = LookupFunction("switch")
	require.True(t, ok)
	assert.True(t, f.AcceptsArgs(6))

	_, ok = LookupFunction("nosuch")
	assert.False(t, ok)
}
