package accessfile

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies the file-format generation a database file was created with.
type Format uint8

const (
	V2000 Format = iota + 1
	V2003
	V2007
	V2010
	V2016
)

var formatNames = map[Format]string{
	V2000: "V2000",
	V2003: "V2003",
	V2007: "V2007",
	V2010: "V2010",
	V2016: "V2016",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", f)
}

// ParseFormat accepts the names produced by Format.String, case-insensitively.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown file format %q", s)
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

// DataType is a file-native column type.
type DataType uint8

const (
	TypeBoolean DataType = iota + 1
	TypeByte
	TypeInt
	TypeLong
	TypeBigInt
	TypeMoney
	TypeFloat
	TypeDouble
	TypeNumeric
	TypeDateTime
	TypeText
	TypeMemo
	TypeBinary
	TypeOLE
	TypeGUID
	TypeAttachment
	TypeMultiValue
	TypeVersionHistory
	TypeCalculated
)

var dataTypeNames = map[DataType]string{
	TypeBoolean:        "BOOLEAN",
	TypeByte:           "BYTE",
	TypeInt:            "INT",
	TypeLong:           "LONG",
	TypeBigInt:         "BIGINT",
	TypeMoney:          "MONEY",
	TypeFloat:          "FLOAT",
	TypeDouble:         "DOUBLE",
	TypeNumeric:        "NUMERIC",
	TypeDateTime:       "DATETIME",
	TypeText:           "TEXT",
	TypeMemo:           "MEMO",
	TypeBinary:         "BINARY",
	TypeOLE:            "OLE",
	TypeGUID:           "GUID",
	TypeAttachment:     "ATTACHMENT",
	TypeMultiValue:     "MULTIVALUE",
	TypeVersionHistory: "VERSION_HISTORY",
	TypeCalculated:     "CALCULATED",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", t)
}

// Complex reports whether values of t have no scalar representation.
func (t DataType) Complex() bool {
	switch t {
	case TypeAttachment, TypeMultiValue, TypeVersionHistory, TypeCalculated:
		return true
	}
	return false
}

// Integral reports whether t holds whole numbers.
func (t DataType) Integral() bool {
	switch t {
	case TypeByte, TypeInt, TypeLong, TypeBigInt:
		return true
	}
	return false
}

// MinFormat is the oldest file format able to store columns of type t.
func (t DataType) MinFormat() Format {
	switch t {
	case TypeAttachment, TypeMultiValue, TypeVersionHistory:
		return V2007
	case TypeCalculated:
		return V2010
	case TypeBigInt:
		return V2016
	}
	return V2000
}

// ColumnMeta describes one column in declaration order.
type ColumnMeta struct {
	Name      string   `msgpack:"name"`
	Type      DataType `msgpack:"type"`
	Length    int      `msgpack:"length,omitempty"`
	Precision int      `msgpack:"precision,omitempty"`
	Scale     int      `msgpack:"scale,omitempty"`
	Required  bool     `msgpack:"required,omitempty"`
	// Default is a source-dialect literal, applied when an insert omits the column.
	Default    string `msgpack:"default,omitempty"`
	AutoNumber bool   `msgpack:"autonumber,omitempty"`
	// ElementType is the element type of a multi-value column.
	ElementType DataType `msgpack:"element_type,omitempty"`
	// Expression and ResultType describe a calculated column.
	Expression string   `msgpack:"expression,omitempty"`
	ResultType DataType `msgpack:"result_type,omitempty"`
}

// Complex reports whether the column is a multi-value, attachment or calculated column.
func (c ColumnMeta) Complex() bool {
	return c.Type.Complex()
}

// ValueType is the type of values read from the column: the result type for
// calculated columns and the declared type otherwise.
func (c ColumnMeta) ValueType() DataType {
	if c.Type == TypeCalculated {
		return c.ResultType
	}
	return c.Type
}

// IndexMeta describes an index. Primary implies Unique.
type IndexMeta struct {
	Name        string   `msgpack:"name"`
	Columns     []string `msgpack:"columns"`
	Unique      bool     `msgpack:"unique,omitempty"`
	Primary     bool     `msgpack:"primary,omitempty"`
	IgnoreNulls bool     `msgpack:"ignore_nulls,omitempty"`
}

// TableMeta describes a table. Tables are listed in declaration order (Ordinal).
type TableMeta struct {
	ID      uint32       `msgpack:"id"`
	Name    string       `msgpack:"name"`
	Ordinal int          `msgpack:"ordinal"`
	Columns []ColumnMeta `msgpack:"columns"`
	Indexes []IndexMeta  `msgpack:"indexes,omitempty"`
}

// Column returns the column with the given name, compared case-insensitively.
func (t *TableMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// PrimaryKey returns the primary index, if any.
func (t *TableMeta) PrimaryKey() (IndexMeta, bool) {
	for _, idx := range t.Indexes {
		if idx.Primary {
			return idx, true
		}
	}
	return IndexMeta{}, false
}

// Index returns the index with the given name.
func (t *TableMeta) Index(name string) (IndexMeta, bool) {
	for _, idx := range t.Indexes {
		if strings.EqualFold(idx.Name, name) {
			return idx, true
		}
	}
	return IndexMeta{}, false
}

// Relationship is a foreign key from FromTable (the referencing side) to
// ToTable (the referenced side).
type Relationship struct {
	Name           string   `msgpack:"name"`
	FromTable      string   `msgpack:"from_table"`
	FromColumns    []string `msgpack:"from_columns"`
	ToTable        string   `msgpack:"to_table"`
	ToColumns      []string `msgpack:"to_columns"`
	Enforce        bool     `msgpack:"enforce,omitempty"`
	CascadeUpdates bool     `msgpack:"cascade_updates,omitempty"`
	CascadeDeletes bool     `msgpack:"cascade_deletes,omitempty"`
}

// Row maps column names to values in their file-native Go representation.
type Row map[string]interface{}

// Get looks up a column case-insensitively.
func (r Row) Get(column string) (interface{}, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// RowIdentity locates a row: primary key values when the table has a primary
// key, otherwise the full pre-image of the row.
type RowIdentity struct {
	Key map[string]interface{}
}

// Currency is a MONEY value in ten-thousandths.
type Currency int64

// CurrencyScale is the number of Currency units in one whole unit.
const CurrencyScale = 10000

// Float returns the value in whole units.
func (c Currency) Float() float64 {
	return float64(c) / CurrencyScale
}

func (c Currency) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%04d", sign, v/CurrencyScale, v%CurrencyScale)
}

// Decimal is a NUMERIC value held as its canonical decimal text.
type Decimal string

// MultiValue is the set of values held by a multi-value column.
type MultiValue []interface{}

// Attachment is one file stored in an attachment column.
type Attachment struct {
	Name     string    `msgpack:"name" json:"name"`
	FileType string    `msgpack:"file_type" json:"file_type"`
	Modified time.Time `msgpack:"modified" json:"modified"`
	Data     []byte    `msgpack:"data" json:"data"`
}
