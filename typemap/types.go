// Package typemap holds the static mapping between the file's column types
// and the embedded engine's: DDL type names in both directions, value
// conversion, the function table and identifier safing.
package typemap

import (
	"fmt"
	"strings"

	"github.com/notzippy/ucanaccess-code/accessfile"
)

// DefaultTextLength is the length of a TEXT column declared without one.
const DefaultTextLength = 255

// EngineType returns the engine column type for a file column. Calculated
// columns map to the type of their result.
func EngineType(col accessfile.ColumnMeta) (string, error) {
	switch col.Type {
	case accessfile.TypeAttachment, accessfile.TypeMultiValue:
		return "TEXT", nil
	case accessfile.TypeVersionHistory:
		return "", fmt.Errorf("%w: version history column %s", accessfile.ErrUnsupported, col.Name)
	case accessfile.TypeCalculated:
		if col.ResultType == 0 || col.ResultType.Complex() {
			return "", fmt.Errorf("calculated column %s has no scalar result type", col.Name)
		}
		return EngineType(accessfile.ColumnMeta{Name: col.Name, Type: col.ResultType, Length: col.Length, Precision: col.Precision, Scale: col.Scale})
	}

	switch col.Type {
	case accessfile.TypeBoolean:
		return "BOOLEAN", nil
	case accessfile.TypeByte:
		return "TINYINT", nil
	case accessfile.TypeInt:
		return "SMALLINT", nil
	case accessfile.TypeLong:
		return "INTEGER", nil
	case accessfile.TypeBigInt:
		return "BIGINT", nil
	case accessfile.TypeMoney:
		return "NUMERIC(19,4)", nil
	case accessfile.TypeFloat:
		return "REAL", nil
	case accessfile.TypeDouble:
		return "DOUBLE", nil
	case accessfile.TypeNumeric:
		p, s := col.Precision, col.Scale
		if p <= 0 {
			p = 18
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", p, s), nil
	case accessfile.TypeDateTime:
		return "DATETIME", nil
	case accessfile.TypeText:
		n := col.Length
		if n <= 0 {
			n = DefaultTextLength
		}
		return fmt.Sprintf("VARCHAR(%d)", n), nil
	case accessfile.TypeMemo:
		return "TEXT", nil
	case accessfile.TypeBinary, accessfile.TypeOLE:
		return "BLOB", nil
	case accessfile.TypeGUID:
		return "CHAR(38)", nil
	}
	return "", fmt.Errorf("column %s: no engine type for %s", col.Name, col.Type)
}

// SourceType is a column type parsed from a DDL type name.
type SourceType struct {
	Type       accessfile.DataType
	AutoNumber bool
	Length     int
	Precision  int
	Scale      int
}

var sourceTypeNames = map[string]SourceType{
	"COUNTER":          {Type: accessfile.TypeLong, AutoNumber: true},
	"AUTOINCREMENT":    {Type: accessfile.TypeLong, AutoNumber: true},
	"AUTONUMBER":       {Type: accessfile.TypeLong, AutoNumber: true},
	"YESNO":            {Type: accessfile.TypeBoolean},
	"BIT":              {Type: accessfile.TypeBoolean},
	"BOOLEAN":          {Type: accessfile.TypeBoolean},
	"LOGICAL":          {Type: accessfile.TypeBoolean},
	"LOGICAL1":         {Type: accessfile.TypeBoolean},
	"BYTE":             {Type: accessfile.TypeByte},
	"TINYINT":          {Type: accessfile.TypeByte},
	"INTEGER1":         {Type: accessfile.TypeByte},
	"SHORT":            {Type: accessfile.TypeInt},
	"SMALLINT":         {Type: accessfile.TypeInt},
	"INTEGER2":         {Type: accessfile.TypeInt},
	"LONG":             {Type: accessfile.TypeLong},
	"INT":              {Type: accessfile.TypeLong},
	"INTEGER":          {Type: accessfile.TypeLong},
	"INTEGER4":         {Type: accessfile.TypeLong},
	"BIGINT":           {Type: accessfile.TypeBigInt},
	"CURRENCY":         {Type: accessfile.TypeMoney},
	"MONEY":            {Type: accessfile.TypeMoney},
	"SINGLE":           {Type: accessfile.TypeFloat},
	"REAL":             {Type: accessfile.TypeFloat},
	"FLOAT4":           {Type: accessfile.TypeFloat},
	"IEEESINGLE":       {Type: accessfile.TypeFloat},
	"DOUBLE":           {Type: accessfile.TypeDouble},
	"FLOAT":            {Type: accessfile.TypeDouble},
	"FLOAT8":           {Type: accessfile.TypeDouble},
	"IEEEDOUBLE":       {Type: accessfile.TypeDouble},
	"NUMBER":           {Type: accessfile.TypeDouble},
	"DECIMAL":          {Type: accessfile.TypeNumeric, Precision: 18},
	"NUMERIC":          {Type: accessfile.TypeNumeric, Precision: 18},
	"DEC":              {Type: accessfile.TypeNumeric, Precision: 18},
	"DATETIME":         {Type: accessfile.TypeDateTime},
	"DATE":             {Type: accessfile.TypeDateTime},
	"TIME":             {Type: accessfile.TypeDateTime},
	"TIMESTAMP":        {Type: accessfile.TypeDateTime},
	"TEXT":             {Type: accessfile.TypeText, Length: DefaultTextLength},
	"VARCHAR":          {Type: accessfile.TypeText, Length: DefaultTextLength},
	"CHAR":             {Type: accessfile.TypeText, Length: DefaultTextLength},
	"CHARACTER":        {Type: accessfile.TypeText, Length: DefaultTextLength},
	"STRING":           {Type: accessfile.TypeText, Length: DefaultTextLength},
	"ALPHANUMERIC":     {Type: accessfile.TypeText, Length: DefaultTextLength},
	"NVARCHAR":         {Type: accessfile.TypeText, Length: DefaultTextLength},
	"NCHAR":            {Type: accessfile.TypeText, Length: DefaultTextLength},
	"MEMO":             {Type: accessfile.TypeMemo},
	"LONGTEXT":         {Type: accessfile.TypeMemo},
	"LONGCHAR":         {Type: accessfile.TypeMemo},
	"NOTE":             {Type: accessfile.TypeMemo},
	"NTEXT":            {Type: accessfile.TypeMemo},
	"HYPERLINK":        {Type: accessfile.TypeMemo},
	"BINARY":           {Type: accessfile.TypeBinary, Length: 510},
	"VARBINARY":        {Type: accessfile.TypeBinary, Length: 510},
	"OLEOBJECT":        {Type: accessfile.TypeOLE},
	"LONGBINARY":       {Type: accessfile.TypeOLE},
	"GENERAL":          {Type: accessfile.TypeOLE},
	"IMAGE":            {Type: accessfile.TypeOLE},
	"GUID":             {Type: accessfile.TypeGUID},
	"UNIQUEIDENTIFIER": {Type: accessfile.TypeGUID},
	"REPLICATIONID":    {Type: accessfile.TypeGUID},
	"ATTACHMENT":       {Type: accessfile.TypeAttachment},
}

// ParseSourceType resolves a DDL type name and its parenthesized arguments.
// Autonumber types ignore their (seed, increment) arguments.
func ParseSourceType(name string, args []int) (SourceType, error) {
	st, ok := sourceTypeNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return SourceType{}, fmt.Errorf("unknown column type %s", name)
	}
	if st.AutoNumber {
		return st, nil
	}
	switch st.Type {
	case accessfile.TypeText, accessfile.TypeBinary:
		if len(args) > 0 {
			if args[0] <= 0 || (st.Type == accessfile.TypeText && args[0] > DefaultTextLength) {
				return SourceType{}, fmt.Errorf("invalid length %d for %s", args[0], name)
			}
			st.Length = args[0]
		}
	case accessfile.TypeNumeric:
		if len(args) > 0 {
			st.Precision = args[0]
		}
		if len(args) > 1 {
			st.Scale = args[1]
		}
		if st.Precision <= 0 || st.Precision > 28 || st.Scale < 0 || st.Scale > st.Precision {
			return SourceType{}, fmt.Errorf("invalid precision (%d,%d) for %s", st.Precision, st.Scale, name)
		}
	default:
		if len(args) > 0 {
			return SourceType{}, fmt.Errorf("type %s takes no arguments", name)
		}
	}
	return st, nil
}

// Column builds column metadata from a parsed type.
func (st SourceType) Column(name string) accessfile.ColumnMeta {
	return accessfile.ColumnMeta{
		Name:       name,
		Type:       st.Type,
		AutoNumber: st.AutoNumber,
		Length:     st.Length,
		Precision:  st.Precision,
		Scale:      st.Scale,
	}
}
