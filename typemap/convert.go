package typemap

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/notzippy/ucanaccess-code/accessfile"
)

// DateTimeLayout is how DATETIME values are stored in the engine.
const DateTimeLayout = accessfile.DateTimeLayout

// FormatDateTime renders t as stored in the engine.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

type jsonAttachment struct {
	Name     string `json:"name"`
	FileType string `json:"file_type"`
	Modified string `json:"modified"`
	Data     []byte `json:"data"`
}

// ToEngine converts a file value of col into the value stored in the engine.
func ToEngine(col accessfile.ColumnMeta, v interface{}) (interface{}, error) {
	n, err := accessfile.Normalize(col, v)
	if err != nil || n == nil {
		return nil, err
	}
	switch x := n.(type) {
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case uint8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case accessfile.Currency:
		return x.Float(), nil
	case float32:
		return float64(x), nil
	case accessfile.Decimal:
		return string(x), nil
	case time.Time:
		return FormatDateTime(x), nil
	case uuid.UUID:
		return accessfile.FormatGUID(x), nil
	case accessfile.MultiValue:
		b, err := json.Marshal(bindSlice(x))
		return string(b), err
	case []accessfile.Attachment:
		out := make([]jsonAttachment, len(x))
		for i, a := range x {
			out[i] = jsonAttachment{Name: a.Name, FileType: a.FileType, Modified: FormatDateTime(a.Modified), Data: a.Data}
		}
		b, err := json.Marshal(out)
		return string(b), err
	}
	return n, nil
}

func bindSlice(vals []interface{}) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = BindValue(v)
	}
	return out
}

// FromEngine converts a value read from the engine back into the file
// representation of col.
func FromEngine(col accessfile.ColumnMeta, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case accessfile.TypeMultiValue:
		s, ok := textOf(v)
		if !ok {
			return nil, fmt.Errorf("column %s: multi-value held as %T", col.Name, v)
		}
		var vals []interface{}
		if err := json.Unmarshal([]byte(s), &vals); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return accessfile.Normalize(col, vals)
	case accessfile.TypeAttachment:
		s, ok := textOf(v)
		if !ok {
			return nil, fmt.Errorf("column %s: attachments held as %T", col.Name, v)
		}
		var list []jsonAttachment
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		out := make([]accessfile.Attachment, len(list))
		for i, a := range list {
			out[i] = accessfile.Attachment{Name: a.Name, FileType: a.FileType, Data: a.Data}
			if a.Modified != "" {
				t, err := time.Parse(DateTimeLayout, a.Modified)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", col.Name, err)
				}
				out[i].Modified = t
			}
		}
		return out, nil
	}
	return accessfile.Normalize(col, v)
}

func textOf(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// BindValue converts an arbitrary client value into a form the engine stores
// consistently with ToEngine when the target column is unknown.
func BindValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return FormatDateTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return FormatDateTime(*x)
	case uuid.UUID:
		return accessfile.FormatGUID(x)
	case accessfile.Currency:
		return x.Float()
	case accessfile.Decimal:
		return string(x)
	case float32:
		return float64(x)
	case accessfile.MultiValue:
		b, _ := json.Marshal(bindSlice(x))
		return string(b)
	case []accessfile.Attachment:
		v, _ := ToEngine(accessfile.ColumnMeta{Type: accessfile.TypeAttachment}, x)
		return v
	}
	return v
}

// BindColumn converts a client value bound to col, falling back to
// BindValue when the value does not convert.
func BindColumn(col accessfile.ColumnMeta, v interface{}) interface{} {
	if col.Type == accessfile.TypeCalculated {
		return BindValue(v)
	}
	if out, err := ToEngine(col, v); err == nil {
		return out
	}
	return BindValue(v)
}
