package translate

import (
	"testing"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTable(t *testing.T) {
	m := shopMirror(t)
	st := mustTranslate(t, m, `CREATE TABLE Widgets (
		ID COUNTER(1, 1) PRIMARY KEY,
		[Part No] TEXT(20) NOT NULL,
		Price CURRENCY DEFAULT 0,
		CustomerID LONG REFERENCES Customers ON DELETE CASCADE,
		CONSTRAINT UQ_Part UNIQUE ([Part No])
	)`)
	assert.Equal(t, Create, st.Kind)
	assert.Equal(t, "Widgets", st.Table)
	require.NotNil(t, st.DDL)
	assert.Equal(t, mirror.CreateTable, st.DDL.Kind)

	meta := st.DDL.Meta
	require.Len(t, meta.Columns, 4)
	assert.True(t, meta.Columns[0].AutoNumber)
	assert.Equal(t, 20, meta.Columns[1].Length)
	assert.True(t, meta.Columns[1].Required)
	assert.Equal(t, accessfile.TypeMoney, meta.Columns[2].Type)
	assert.Equal(t, "0", meta.Columns[2].Default)

	pk, ok := meta.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "PrimaryKey", pk.Name)
	assert.Equal(t, []string{"ID"}, pk.Columns)
	uq, ok := meta.Index("UQ_Part")
	require.True(t, ok)
	assert.True(t, uq.Unique)

	require.Len(t, st.DDL.Relationships, 1)
	rel := st.DDL.Relationships[0]
	assert.Equal(t, "CustomersWidgets", rel.Name)
	assert.Equal(t, "Customers", rel.ToTable)
	assert.Equal(t, []string{"ID"}, rel.ToColumns)
	assert.Equal(t, []string{"CustomerID"}, rel.FromColumns)
	assert.True(t, rel.CascadeDeletes)
	assert.True(t, rel.Enforce)

	assert.Contains(t, st.Target, `CREATE TABLE "Widgets"`)
	_, mirrored := m.Table("Widgets")
	assert.False(t, mirrored, "translation must not change the mirror")
}

func TestCreateTableErrors(t *testing.T) {
	m := shopMirror(t)
	tr := newTestTranslator(t)

	_, err := tr.Translate(m, "CREATE TABLE Customers (A LONG)")
	var te *TranslationError
	require.ErrorAs(t, err, &te)

	_, err = tr.Translate(m, "CREATE TABLE W (A WIDGET)")
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "WIDGET")

	_, err = tr.Translate(m, "CREATE TABLE W (A LONG REFERENCES Nowhere)")
	var ue *UnknownIdentifierError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Nowhere", ue.Identifier)

	_, err = tr.Translate(m, "CREATE TABLE W (A LONG, PRIMARY KEY (B))")
	require.ErrorAs(t, err, &ue)
}

func TestAlterTable(t *testing.T) {
	m := shopMirror(t)

	st := mustTranslate(t, m, "ALTER TABLE Customers ADD COLUMN Phone TEXT(30)")
	assert.Equal(t, Alter, st.Kind)
	assert.Equal(t, mirror.AddColumn, st.DDL.Kind)
	assert.Equal(t, "Phone", st.DDL.Column.Name)
	assert.Equal(t, 30, st.DDL.Column.Length)
	assert.Contains(t, st.Target, `ALTER TABLE "Customers" ADD COLUMN`)
	assert.True(t, st.DDL.NeedsResync())

	st = mustTranslate(t, m, "ALTER TABLE Orders ADD CONSTRAINT FK_Cust FOREIGN KEY (CustomerID) REFERENCES Customers (ID)")
	assert.Equal(t, mirror.AddRelationship, st.DDL.Kind)
	assert.Equal(t, "FK_Cust", st.DDL.Relationship.Name)
	assert.Equal(t, "Orders", st.DDL.Relationship.FromTable)

	st = mustTranslate(t, m, "ALTER TABLE Customers DROP CONSTRAINT ByName")
	assert.Equal(t, mirror.DropIndex, st.DDL.Kind)
	assert.Equal(t, "ByName", st.DDL.Name)

	st = mustTranslate(t, m, "ALTER TABLE Customers DROP COLUMN city")
	assert.Equal(t, mirror.DropColumn, st.DDL.Kind)
	assert.Equal(t, "City", st.DDL.Name)

	tr := newTestTranslator(t)
	var te *TranslationError
	_, err := tr.Translate(m, "ALTER TABLE Customers ALTER COLUMN City TEXT(10)")
	require.ErrorAs(t, err, &te)

	var ue *UnknownIdentifierError
	_, err = tr.Translate(m, "ALTER TABLE Customers DROP CONSTRAINT Nothing")
	require.ErrorAs(t, err, &ue)
}

func TestIndexStatements(t *testing.T) {
	m := shopMirror(t)

	st := mustTranslate(t, m, "CREATE INDEX ByCity ON Customers (City DESC) WITH IGNORE NULL")
	assert.Equal(t, mirror.CreateIndex, st.DDL.Kind)
	assert.Equal(t, "Customers", st.DDL.Table)
	assert.Equal(t, []string{"City"}, st.DDL.Index.Columns)
	assert.True(t, st.DDL.Index.IgnoreNulls)
	assert.False(t, st.DDL.Index.Unique)

	st = mustTranslate(t, m, "CREATE UNIQUE INDEX ByPlaced ON Orders (Placed)")
	assert.True(t, st.DDL.Index.Unique)

	st = mustTranslate(t, m, "DROP INDEX ByName ON Customers")
	assert.Equal(t, mirror.DropIndex, st.DDL.Kind)

	st = mustTranslate(t, m, "DROP TABLE notes")
	assert.Equal(t, mirror.DropTable, st.DDL.Kind)
	assert.Equal(t, "Notes", st.DDL.Table)
	assert.Equal(t, `DROP TABLE "Notes"`, st.Target)

	_, err := newTestTranslator(t).Translate(m, "CREATE INDEX PrimaryKey ON Customers (City)")
	var te *TranslationError
	require.ErrorAs(t, err, &te)
}
