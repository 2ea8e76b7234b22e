package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ucanaccess "github.com/notzippy/ucanaccess-code"
	"github.com/notzippy/ucanaccess-code/cfg"
)

func TestScannerSplitsStatements(t *testing.T) {
	tests := []struct {
		lines []string
		want  []string
		rest  string
	}{
		{[]string{"SELECT 1;"}, []string{"SELECT 1"}, ""},
		{[]string{"SELECT 1; SELECT 2;"}, []string{"SELECT 1", "SELECT 2"}, ""},
		{[]string{"SELECT 'a;b' FROM T;"}, []string{"SELECT 'a;b' FROM T"}, ""},
		{[]string{"SELECT [x;y] FROM T", "WHERE d = #1/2/2003#;"}, []string{"SELECT [x;y] FROM T\nWHERE d = #1/2/2003#"}, ""},
		{[]string{"INSERT INTO T", "VALUES (1)"}, nil, "INSERT INTO T\nVALUES (1)"},
		{[]string{";;"}, nil, ""},
	}
	for _, tt := range tests {
		var sc scanner
		var got []string
		for _, l := range tt.lines {
			got = append(got, sc.feed(l)...)
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("%q: got %q, want %q", tt.lines, got, tt.want)
		}
		if rest := sc.flush(); rest != tt.rest {
			t.Errorf("%q: rest %q, want %q", tt.lines, rest, tt.rest)
		}
	}
}

func TestCommand(t *testing.T) {
	name, args, ok := command("  AutoCommit off;")
	require.True(t, ok)
	assert.Equal(t, "autocommit", name)
	assert.Equal(t, []string{"off"}, args)

	name, _, ok = command("BEGIN TRANSACTION")
	require.True(t, ok)
	assert.Equal(t, "begin", name)

	_, _, ok = command("SELECT * FROM T;")
	assert.False(t, ok)
	_, _, ok = command("   ")
	assert.False(t, ok)
}

func TestRunScript(t *testing.T) {
	conf := cfg.Default()
	conf.File.Create = true
	conn, err := ucanaccess.Open(context.Background(), filepath.Join(t.TempDir(), "console.accdb"), conf)
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	c := &console{conn: conn, out: &out}
	script := `CREATE TABLE Pets (ID COUNTER PRIMARY KEY, Name TEXT(20));
INSERT INTO Pets (Name) VALUES ('Rex');
begin
INSERT INTO Pets (Name) VALUES ('Tom');
rollback
SELECT ID, Name
  FROM Pets;
tables
`
	ok := c.runScript(context.Background(), strings.NewReader(script), false)
	require.True(t, ok, out.String())
	text := out.String()
	assert.Contains(t, text, "1 row(s) affected")
	assert.Contains(t, text, "Rex")
	assert.NotContains(t, text, "Tom")
	assert.Contains(t, text, "1 row(s) (")
	assert.Contains(t, text, "(autonumber)")

	out.Reset()
	ok = c.runScript(context.Background(), strings.NewReader("SELECT * FROM Missing;\nquit\nSELECT 1;"), false)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "Error:")
}
