package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/mattn/go-sqlite3"
)

func registerConversionFuncs(conn *sqlite3.SQLiteConn) error {
	return registerFuncs(conn, []funcDef{
		{"acc_val", accVal, true},
		{"acc_str", accStr, true},
		{"acc_cstr", accCStr, true},
		{"acc_clng", accCLng, true},
		{"acc_cint", accCInt, true},
		{"acc_cbyte", accCByte, true},
		{"acc_cdbl", accCDbl, true},
		{"acc_csng", accCSng, true},
		{"acc_cdec", accCDec, true},
		{"acc_ccur", accCCur, true},
		{"acc_cbool", accCBool, true},
		{"acc_cvar", accCVar, true},
		{"acc_nz", accNz, true},
		{"acc_isnumeric", accIsNumeric, true},
		{"acc_isempty", accIsEmpty, true},
	})
}

// isNull reports whether a callback argument is SQL NULL. The driver passes
// NULL as a nil []byte, not as a nil interface.
func isNull(v interface{}) bool {
	if v == nil {
		return true
	}
	b, ok := v.([]byte)
	return ok && b == nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return toFloat(string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("type mismatch: '%s' is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("type mismatch: %T is not a number", v)
}

// toInt rounds half to even, as the source dialect's integer conversions do.
func toInt(v interface{}) (int64, error) {
	if n, ok := v.(int64); ok {
		return n, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("overflow converting %v", v)
	}
	return int64(math.RoundToEven(f)), nil
}

func toText(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		if s {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on":
			return true
		}
	}
	f, err := toFloat(v)
	return err == nil && f != 0
}

// accVal reads the leading number of a string, skipping blanks, and
// returns 0 when there is none.
func accVal(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	if n, ok := v.(int64); ok {
		return float64(n), nil
	}
	if f, ok := v.(float64); ok {
		return f, nil
	}
	var b strings.Builder
	for _, r := range toText(v) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()

	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "&H") || strings.HasPrefix(upper, "&O") {
		base := 16
		if upper[1] == 'O' {
			base = 8
		}
		digits := "0123456789ABCDEF"[:base]
		end := 2
		for end < len(s) && strings.ContainsRune(digits, unicode.ToUpper(rune(s[end]))) {
			end++
		}
		n, err := strconv.ParseInt(s[2:end], base, 64)
		if err != nil {
			return float64(0), nil
		}
		return float64(n), nil
	}

	end := 0
	seenDot, seenExp, seenDigit := false, false, false
scan:
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case (c == '+' || c == '-') && (end == 0 || s[end-1] == 'e' || s[end-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			break scan
		}
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return f, nil
		}
		end--
	}
	return float64(0), nil
}

// accStr formats a number with a leading space for non-negative values.
func accStr(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if f >= 0 {
		s = " " + s
	}
	return s, nil
}

func accCStr(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	return toText(v), nil
}

func rangedInt(v interface{}, lo, hi int64) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	if b, ok := v.(string); ok && (strings.EqualFold(b, "true") || strings.EqualFold(b, "false")) {
		v = truthy(b)
	}
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	if n < lo || n > hi {
		return nil, fmt.Errorf("overflow: %d", n)
	}
	return n, nil
}

func accCLng(v interface{}) (interface{}, error) {
	return rangedInt(v, math.MinInt32, math.MaxInt32)
}

func accCInt(v interface{}) (interface{}, error) {
	return rangedInt(v, math.MinInt16, math.MaxInt16)
}

func accCByte(v interface{}) (interface{}, error) {
	return rangedInt(v, 0, math.MaxUint8)
}

func accCDbl(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	return toFloat(v)
}

func accCSng(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return float64(float32(f)), nil
}

func accCDec(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func accCCur(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return math.RoundToEven(f*10000) / 10000, nil
}

func accCBool(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "on":
			return int64(1), nil
		case "false", "no", "off":
			return int64(0), nil
		}
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if f != 0 {
		return int64(1), nil
	}
	return int64(0), nil
}

func accCVar(v interface{}) interface{} {
	return v
}

// accNz substitutes alt, or a zero-length string, for null.
func accNz(args ...interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	if !isNull(args[0]) {
		return args[0]
	}
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

func accIsNumeric(v interface{}) bool {
	switch x := v.(type) {
	case int64, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil
	}
	return false
}

func accIsEmpty(v interface{}) bool {
	return isNull(v)
}
