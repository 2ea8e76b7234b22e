package accessfile

import (
	"fmt"
	"strings"

	"github.com/notzippy/ucanaccess-code/encoding"
	"golang.org/x/text/cases"
)

// Key layout, sorted so related records iterate together.
const (
	keyHeader      = "/meta/header"
	prefixTable    = "/meta/table/" // /meta/table/{tableID:08x}
	prefixRel      = "/meta/rel/"   // /meta/rel/{folded name}
	keyTableSeq    = "/seq/table"
	prefixRow      = "/row/"      // /row/{tableID:08x}/{rowID:016x}
	prefixIndex    = "/idx/"      // /idx/{tableID:08x}/{hex folded index}/{key}
	prefixRowSeq   = "/seq/row/"  // /seq/row/{tableID:08x}
	prefixAutoSeq  = "/seq/auto/" // /seq/auto/{tableID:08x}/{folded column}
	headerChecksum = "ucanaccess-file"
)

var folder = cases.Fold()

// Fold returns the case-folded form used for identifier and text comparison.
func Fold(s string) string {
	return folder.String(s)
}

func tableKey(id uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", prefixTable, id))
}

func relKey(name string) []byte {
	return []byte(prefixRel + Fold(name))
}

func rowPrefix(tableID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x/", prefixRow, tableID))
}

func rowKey(tableID uint32, rowID uint64) []byte {
	return []byte(fmt.Sprintf("%s%08x/%016x", prefixRow, tableID, rowID))
}

func indexPrefix(tableID uint32, index string) []byte {
	return []byte(fmt.Sprintf("%s%08x/%x/", prefixIndex, tableID, Fold(index)))
}

func tableIndexPrefix(tableID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x/", prefixIndex, tableID))
}

func rowSeqKey(tableID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", prefixRowSeq, tableID))
}

func autoSeqKey(tableID uint32, column string) []byte {
	return []byte(fmt.Sprintf("%s%08x/%s", prefixAutoSeq, tableID, Fold(column)))
}

func autoSeqPrefix(tableID uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x/", prefixAutoSeq, tableID))
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

// indexTuple encodes the values of columns from row for uniqueness checks.
// Text is folded since unique indexes compare case-insensitively. hasNull is
// set when any key column is null; such rows never conflict.
func indexTuple(table *TableMeta, columns []string, row Row) (key []byte, hasNull bool, err error) {
	parts := make([]interface{}, len(columns))
	for i, name := range columns {
		col, ok := table.Column(name)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, table.Name, name)
		}
		v, _ := row.Get(col.Name)
		if v == nil {
			hasNull = true
			continue
		}
		stored, err := toStored(col, v)
		if err != nil {
			return nil, false, err
		}
		if s, ok := stored.(string); ok {
			stored = Fold(strings.TrimRight(s, " "))
		}
		parts[i] = stored
	}
	key, err = encoding.Marshal(parts)
	return key, hasNull, err
}
