package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateFunctions(t *testing.T) {
	v, err := accDateAdd("m", int64(1), "2020-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2020-02-29 00:00:00", v)

	v, err = accDateAdd("yyyy", int64(-1), "2020-02-29 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, "2019-02-28 10:30:00", v)

	v, err = accDateDiff("d", "2020-01-01", "2020-01-31")
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)

	v, err = accDateDiff("yyyy", "2019-12-31", "2020-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = accDateDiff("h", "2020-01-01 10:59:00", "2020-01-01 11:00:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = accDateDiff("xx", "2020-01-01", "2020-01-02")
	assert.Error(t, err)

	v, err = accYear("2021-07-04 12:00:00")
	require.NoError(t, err)
	assert.Equal(t, int64(2021), v)

	v, err = accDateAdd("d", int64(1), nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	tm, null, err := parseDate(int64(2))
	require.NoError(t, err)
	assert.False(t, null)
	assert.Equal(t, "1900-01-01 00:00:00", formatDate(tm))

	tm, _, err = parseDate("3:15 PM")
	require.NoError(t, err)
	assert.Equal(t, "1899-12-30 15:15:00", formatDate(tm))

	assert.True(t, accIsDate("2020-02-29"))
	assert.False(t, accIsDate("2021-02-29"))
	assert.False(t, accIsDate("soon"))
}

func TestStringFunctions(t *testing.T) {
	v, err := accLeft("hello", int64(2))
	require.NoError(t, err)
	assert.Equal(t, "he", v)

	v, err = accRight("héllo", int64(4))
	require.NoError(t, err)
	assert.Equal(t, "éllo", v)

	v, err = accInStr("Hello World", "world")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = accInStr(int64(3), "abcabc", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = accInStr("Hello", "world")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = accStrReverse("abc")
	require.NoError(t, err)
	assert.Equal(t, "cba", v)

	v, err = accString(int64(3), "xyz")
	require.NoError(t, err)
	assert.Equal(t, "xxx", v)
}

func TestConversionFunctions(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{"  12 34 abc", 1234},
		{"&HFF", 255},
		{"&O17", 15},
		{"1.5e2x", 150},
		{"abc", 0},
		{int64(7), 7},
	}
	for _, c := range cases {
		v, err := accVal(c.in)
		require.NoError(t, err, "%v", c.in)
		assert.Equal(t, c.want, v, "%v", c.in)
	}

	_, err := accCByte(int64(256))
	assert.Error(t, err)
	v, err := accCInt(2.5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	v, err = accCInt(3.5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	assert.Equal(t, "", accNz(nil))
	assert.Equal(t, int64(5), accNz(nil, int64(5)))
	assert.Equal(t, "x", accNz("x", int64(5)))
	assert.True(t, accIsNumeric("1.25"))
	assert.False(t, accIsNumeric("1.2.5"))
	assert.True(t, accIsEmpty(nil))
}

func TestMathFunctions(t *testing.T) {
	v, err := accRound(2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = accRound(2.675, int64(2))
	require.NoError(t, err)
	assert.InDelta(t, 2.68, v, 1e-9)

	v, err = accIntDiv(int64(7), int64(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = accIntDiv(int64(1), int64(0))
	assert.Error(t, err)

	v, err = accPow(int64(2), int64(10))
	require.NoError(t, err)
	assert.Equal(t, 1024.0, v)

	v, err = accHex(int64(255))
	require.NoError(t, err)
	assert.Equal(t, "FF", v)

	assert.Regexp(t, `^\{[0-9A-F-]{36}\}$`, accNewGUID())
}

func TestFormat(t *testing.T) {
	cases := []struct {
		value   interface{}
		pattern interface{}
		want    string
	}{
		{1234.5, "Standard", "1,234.50"},
		{1234.5, "Fixed", "1234.50"},
		{-3.0, "Currency", "-$3.00"},
		{0.256, "Percent", "25.60%"},
		{int64(1), "Yes/No", "Yes"},
		{int64(0), "On/Off", "Off"},
		{1234.567, "#,##0.00", "1,234.57"},
		{int64(7), "000", "007"},
		{"2021-03-04 00:00:00", "Short Date", "3/4/2021"},
		{"2021-03-04 00:00:00", "yyyy-mm-dd", "2021-03-04"},
	}
	for _, c := range cases {
		v, err := accFormat(c.value, c.pattern)
		require.NoError(t, err, "%v %v", c.value, c.pattern)
		assert.Equal(t, c.want, v, "%v %v", c.value, c.pattern)
	}
}

func TestLikeMatch(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"h*", "Hello", true},
		{"h?llo", "HALLO", true},
		{"h?llo", "hllo", false},
		{"[a-c]*", "banana", true},
		{"[!a-c]*", "banana", false},
		{`100\*`, "100*", true},
		{`100\*`, "1000", false},
	}
	for _, c := range cases {
		v, err := likeMatch(c.pattern, c.value)
		require.NoError(t, err, c.pattern)
		assert.Equal(t, c.want, v, "%s LIKE %s", c.value, c.pattern)
	}

	v, err := likeMatchEscape("50!*", "50*", "!")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = likeMatch(nil, "x")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFunctionsThroughSQL(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	var s string
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_left('engine', 3) || acc_strreverse('ab')").Scan(&s))
	assert.Equal(t, "engba", s)

	var matched bool
	require.NoError(t, e.QueryRow(ctx, "SELECT 'Access' LIKE 'a*s'").Scan(&matched))
	assert.True(t, matched)

	_, err := e.Exec(ctx, "CREATE TABLE nums (n INTEGER)")
	require.NoError(t, err)
	_, err = e.Exec(ctx, "INSERT INTO nums VALUES (2), (4), (NULL), (4), (4), (5), (5), (7), (9)")
	require.NoError(t, err)

	var first, last interface{}
	var varp, stdev float64
	require.NoError(t, e.QueryRow(ctx,
		"SELECT acc_first(n), acc_last(n), acc_varp(n), acc_stdevp(n) FROM (SELECT n FROM nums ORDER BY rowid)").
		Scan(&first, &last, &varp, &stdev))
	assert.Equal(t, int64(2), first)
	assert.Equal(t, int64(9), last)
	assert.InDelta(t, 4.0, varp, 1e-9)
	assert.InDelta(t, 2.0, stdev, 1e-9)

	var single interface{}
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_var(n) FROM nums WHERE n = 9").Scan(&single))
	assert.Nil(t, single)

	var sample float64
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_var(n) FROM nums WHERE n IS NULL OR n IN (4, 6)").Scan(&sample))
	assert.InDelta(t, 0.0, sample, 1e-9)
}

func TestNullArgumentsThroughSQL(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, err := e.Exec(ctx, "CREATE TABLE n (v INTEGER)")
	require.NoError(t, err)
	_, err = e.Exec(ctx, "INSERT INTO n VALUES (NULL), (4), (6)")
	require.NoError(t, err)

	var nz int64
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_nz(v, 0) FROM n WHERE v IS NULL").Scan(&nz))
	assert.Equal(t, int64(0), nz)

	var empty, zero bool
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_isempty(v), acc_isempty(0) FROM n WHERE v IS NULL").Scan(&empty, &zero))
	assert.True(t, empty)
	assert.False(t, zero)

	var variance, stdev float64
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_var(v), acc_stdevp(v) FROM n").Scan(&variance, &stdev))
	assert.InDelta(t, 2.0, variance, 1e-9)
	assert.InDelta(t, 1.0, stdev, 1e-9)

	var left, year interface{}
	require.NoError(t, e.QueryRow(ctx, "SELECT acc_left(NULL, 2), acc_year(NULL)").Scan(&left, &year))
	assert.Nil(t, left)
	assert.Nil(t, year)
}

func TestIsNull(t *testing.T) {
	assert.True(t, isNull(nil))
	assert.True(t, isNull([]byte(nil)))
	assert.False(t, isNull([]byte{}))
	assert.False(t, isNull(int64(0)))
	assert.False(t, isNull(""))
}
