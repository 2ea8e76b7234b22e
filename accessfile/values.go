package accessfile

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DateTimeLayout is the canonical text form of DATETIME values.
const DateTimeLayout = "2006-01-02 15:04:05"

var dateTimeLayouts = []string{
	DateTimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
	"2006-01-02",
	"15:04:05",
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Normalize converts v into the canonical Go representation for a column of
// type t. Nil stays nil.
func Normalize(col ColumnMeta, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}

	switch col.Type {
	case TypeAttachment:
		return normalizeAttachments(v)
	case TypeMultiValue:
		return normalizeMultiValue(col, v)
	case TypeVersionHistory:
		return nil, fmt.Errorf("%w: version history column %s", ErrUnsupported, col.Name)
	}

	switch col.ValueType() {
	case TypeBoolean:
		return toBool(v)
	case TypeByte:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("value %d out of range for BYTE", n)
		}
		return uint8(n), nil
	case TypeInt:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("value %d out of range for INT", n)
		}
		return int16(n), nil
	case TypeLong:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of range for LONG", n)
		}
		return int32(n), nil
	case TypeBigInt:
		return toInt(v)
	case TypeMoney:
		return toCurrency(v)
	case TypeFloat:
		f, err := toFloat(v)
		return float32(f), err
	case TypeDouble:
		return toFloat(v)
	case TypeNumeric:
		return toDecimal(v, col.Scale)
	case TypeDateTime:
		return toTime(v)
	case TypeText, TypeMemo:
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		if col.Type == TypeText && col.Length > 0 && len([]rune(s)) > col.Length {
			return nil, fmt.Errorf("value of length %d exceeds TEXT(%d)", len([]rune(s)), col.Length)
		}
		return s, nil
	case TypeBinary, TypeOLE:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("cannot convert %T to %s", v, col.Type)
	case TypeGUID:
		return toGUID(v)
	}
	return nil, fmt.Errorf("column %s: unknown type %s", col.Name, col.Type)
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1", "-1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return false, fmt.Errorf("cannot convert %q to BOOLEAN", b)
	}
	n, err := toInt(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int64(n), nil
	case float32:
		return roundHalfEven(float64(n))
	case float64:
		return roundHalfEven(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case Currency:
		return roundHalfEven(n.Float())
	case Decimal:
		return toInt(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", n)
		}
		return roundHalfEven(f)
	case []byte:
		return toInt(string(n))
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func roundHalfEven(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v out of range", f)
	}
	return int64(math.RoundToEven(f)), nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case Currency:
		return n.Float(), nil
	case Decimal:
		return strconv.ParseFloat(string(n), 64)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", n)
		}
		return f, nil
	case []byte:
		return toFloat(string(n))
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	i, err := toInt(v)
	return float64(i), err
}

func toCurrency(v interface{}) (Currency, error) {
	switch n := v.(type) {
	case Currency:
		return n, nil
	case float32, float64:
		f, _ := toFloat(n)
		i, err := roundHalfEven(f * CurrencyScale)
		return Currency(i), err
	case string, Decimal, []byte:
		s, _ := toString(n)
		r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
		if !ok {
			return 0, fmt.Errorf("cannot convert %q to MONEY", s)
		}
		r.Mul(r, big.NewRat(CurrencyScale, 1))
		f, _ := r.Float64()
		i, err := roundHalfEven(f)
		return Currency(i), err
	}
	i, err := toInt(v)
	if err != nil {
		return 0, err
	}
	return Currency(i * CurrencyScale), nil
}

func toDecimal(v interface{}, scale int) (Decimal, error) {
	var r *big.Rat
	switch n := v.(type) {
	case Decimal:
		r, _ = new(big.Rat).SetString(string(n))
	case string:
		r, _ = new(big.Rat).SetString(strings.TrimSpace(n))
	case []byte:
		r, _ = new(big.Rat).SetString(strings.TrimSpace(string(n)))
	case Currency:
		r = big.NewRat(int64(n), CurrencyScale)
	case float32, float64:
		f, _ := toFloat(n)
		r = new(big.Rat)
		if r.SetFloat64(f) == nil {
			return "", fmt.Errorf("cannot convert %v to NUMERIC", f)
		}
	default:
		i, err := toInt(v)
		if err != nil {
			return "", err
		}
		r = big.NewRat(i, 1)
	}
	if r == nil {
		return "", fmt.Errorf("cannot convert %v to NUMERIC", v)
	}
	return Decimal(r.FloatString(scale)), nil
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return wallClock(t), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				if layout == "15:04:05" {
					parsed = time.Date(1899, 12, 30, parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC)
				}
				return wallClock(parsed), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot convert %q to DATETIME", t)
	case []byte:
		return toTime(string(t))
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to DATETIME", v)
}

// wallClock drops the location and sub-second part; file dates carry neither.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func toString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case Decimal:
		return string(s), nil
	case Currency:
		return s.String(), nil
	case time.Time:
		return s.Format(DateTimeLayout), nil
	case bool:
		if s {
			return "True", nil
		}
		return "False", nil
	case float32:
		return strconv.FormatFloat(float64(s), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	case uuid.UUID:
		return FormatGUID(s), nil
	}
	if n, err := toInt(v); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("cannot convert %T to text", v)
}

func toGUID(v interface{}) (uuid.UUID, error) {
	switch g := v.(type) {
	case uuid.UUID:
		return g, nil
	case [16]byte:
		return uuid.UUID(g), nil
	case []byte:
		if len(g) == 16 {
			return uuid.FromBytes(g)
		}
		return toGUID(string(g))
	case string:
		u, err := uuid.Parse(strings.Trim(strings.TrimSpace(g), "{}"))
		if err != nil {
			return uuid.Nil, fmt.Errorf("cannot convert %q to GUID: %w", g, err)
		}
		return u, nil
	}
	return uuid.Nil, fmt.Errorf("cannot convert %T to GUID", v)
}

// FormatGUID renders a GUID the way the file's tools display it.
func FormatGUID(u uuid.UUID) string {
	return "{" + strings.ToUpper(u.String()) + "}"
}

func normalizeMultiValue(col ColumnMeta, v interface{}) (MultiValue, error) {
	elem := ColumnMeta{Name: col.Name, Type: col.ElementType, Length: col.Length, Scale: col.Scale}
	if elem.Type == 0 {
		elem.Type = TypeText
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("cannot convert %T to multi-value", v)
	}
	out := make(MultiValue, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		n, err := Normalize(elem, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func normalizeAttachments(v interface{}) ([]Attachment, error) {
	switch a := v.(type) {
	case []Attachment:
		out := make([]Attachment, len(a))
		for i := range a {
			out[i] = a[i]
			out[i].Modified = wallClock(a[i].Modified)
		}
		return out, nil
	case Attachment:
		return normalizeAttachments([]Attachment{a})
	}
	return nil, fmt.Errorf("cannot convert %T to attachments", v)
}

// storedAttachment is the at-rest form: the payload is zstd compressed.
type storedAttachment struct {
	Name     string `msgpack:"name"`
	FileType string `msgpack:"file_type"`
	Modified string `msgpack:"modified"`
	Data     []byte `msgpack:"data"`
}

// toStored converts a normalized value into the form written to disk.
func toStored(col ColumnMeta, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case uint8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case Currency:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case Decimal:
		return string(x), nil
	case uuid.UUID:
		return x.String(), nil
	case time.Time:
		return x.Format(DateTimeLayout), nil
	case MultiValue:
		elem := ColumnMeta{Type: col.ElementType}
		out := make([]interface{}, len(x))
		for i, e := range x {
			s, err := toStored(elem, e)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case []Attachment:
		enc, _, err := codecs()
		if err != nil {
			return nil, err
		}
		out := make([]storedAttachment, len(x))
		for i, a := range x {
			out[i] = storedAttachment{
				Name:     a.Name,
				FileType: a.FileType,
				Modified: a.Modified.Format(DateTimeLayout),
				Data:     enc.EncodeAll(a.Data, nil),
			}
		}
		return out, nil
	}
	return v, nil
}

// fromStored converts a decoded on-disk value back to its normalized form.
func fromStored(col ColumnMeta, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if col.Type == TypeAttachment {
		list, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: attachment column %s holds %T", ErrCorrupt, col.Name, v)
		}
		_, dec, err := codecs()
		if err != nil {
			return nil, err
		}
		out := make([]Attachment, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: attachment entry holds %T", ErrCorrupt, item)
			}
			var a Attachment
			a.Name, _ = m["name"].(string)
			a.FileType, _ = m["file_type"].(string)
			if ts, ok := m["modified"].(string); ok {
				if a.Modified, err = toTime(ts); err != nil {
					return nil, fmt.Errorf("%w: attachment %s: %v", ErrCorrupt, a.Name, err)
				}
			}
			// Loose decoding returns msgpack bin as string.
			var raw []byte
			switch d := m["data"].(type) {
			case nil:
			case string:
				raw = []byte(d)
			case []byte:
				raw = d
			default:
				return nil, fmt.Errorf("%w: attachment %s data holds %T", ErrCorrupt, a.Name, d)
			}
			if len(raw) > 0 {
				if a.Data, err = dec.DecodeAll(raw, nil); err != nil {
					return nil, fmt.Errorf("%w: attachment %s: %v", ErrCorrupt, a.Name, err)
				}
			}
			out = append(out, a)
		}
		return out, nil
	}
	if col.ValueType() == TypeMoney {
		n, err := toInt(v)
		return Currency(n), err
	}
	return Normalize(col, v)
}

// SameValue compares two normalized values of one column.
func SameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case MultiValue, []Attachment:
		return reflect.DeepEqual(a, b)
	}
	return a == b
}
