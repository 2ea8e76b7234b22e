package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

var textFolder = cases.Fold()

func registerStringFuncs(conn *sqlite3.SQLiteConn) error {
	return registerFuncs(conn, []funcDef{
		{"acc_instr", accInStr, true},
		{"acc_instrrev", accInStrRev, true},
		{"acc_left", accLeft, true},
		{"acc_right", accRight, true},
		{"acc_space", accSpace, true},
		{"acc_string", accString, true},
		{"acc_strreverse", accStrReverse, true},
		{"acc_strcomp", accStrComp, true},
		{"acc_replace", accReplace, true},
		{"acc_asc", accAsc, true},
		{"acc_chr", accChr, true},
	})
}

// compareText reports whether comparison mode v is textual (case-insensitive).
// The default is textual, matching database comparison rules.
func compareText(v interface{}) bool {
	if isNull(v) {
		return true
	}
	n, err := toInt(v)
	return err != nil || n != 0
}

func foldIf(s string, text bool) string {
	if text {
		return textFolder.String(s)
	}
	return s
}

// runeIndex converts a byte offset in s to a 1-based character position.
func runeIndex(s string, byteOff int) int64 {
	return int64(utf8.RuneCountInString(s[:byteOff]) + 1)
}

// accInStr accepts InStr([start,] s1, s2 [, compare]).
func accInStr(args ...interface{}) (interface{}, error) {
	start := int64(1)
	if len(args) >= 3 {
		if _, isText := args[0].(string); !isText {
			if isNull(args[0]) {
				return nil, nil
			}
			n, err := toInt(args[0])
			if err != nil {
				return nil, err
			}
			start = n
			args = args[1:]
		}
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("InStr needs 2 strings")
	}
	if isNull(args[0]) || isNull(args[1]) {
		return nil, nil
	}
	if start < 1 {
		return nil, fmt.Errorf("invalid start %d", start)
	}
	text := len(args) < 3 || compareText(args[2])

	hay := []rune(foldIf(toText(args[0]), text))
	needle := foldIf(toText(args[1]), text)
	if int(start) > len(hay) {
		if needle == "" && int(start) == len(hay)+1 {
			return start, nil
		}
		return int64(0), nil
	}
	rest := string(hay[start-1:])
	idx := strings.Index(rest, needle)
	if idx < 0 {
		return int64(0), nil
	}
	return start - 1 + runeIndex(rest, idx), nil
}

// accInStrRev accepts InStrRev(s1, s2 [, start [, compare]]).
func accInStrRev(args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("InStrRev needs 2 strings")
	}
	if isNull(args[0]) || isNull(args[1]) {
		return nil, nil
	}
	text := len(args) < 4 || compareText(args[3])
	hay := []rune(foldIf(toText(args[0]), text))
	needle := foldIf(toText(args[1]), text)

	end := len(hay)
	if len(args) > 2 && !isNull(args[2]) {
		n, err := toInt(args[2])
		if err != nil {
			return nil, err
		}
		if n > 0 && int(n) < end {
			end = int(n)
		}
	}
	prefix := string(hay[:end])
	idx := strings.LastIndex(prefix, needle)
	if idx < 0 {
		return int64(0), nil
	}
	return runeIndex(prefix, idx), nil
}

func accLeft(s, n interface{}) (interface{}, error) {
	if isNull(s) {
		return nil, nil
	}
	k, err := toInt(n)
	if err != nil || k < 0 {
		return nil, fmt.Errorf("invalid length %v", n)
	}
	r := []rune(toText(s))
	if int(k) < len(r) {
		r = r[:k]
	}
	return string(r), nil
}

func accRight(s, n interface{}) (interface{}, error) {
	if isNull(s) {
		return nil, nil
	}
	k, err := toInt(n)
	if err != nil || k < 0 {
		return nil, fmt.Errorf("invalid length %v", n)
	}
	r := []rune(toText(s))
	if int(k) < len(r) {
		r = r[len(r)-int(k):]
	}
	return string(r), nil
}

func accSpace(n interface{}) (interface{}, error) {
	if isNull(n) {
		return nil, nil
	}
	k, err := toInt(n)
	if err != nil || k < 0 {
		return nil, fmt.Errorf("invalid length %v", n)
	}
	return strings.Repeat(" ", int(k)), nil
}

// accString repeats the first character of ch, or the character with code ch.
func accString(n, ch interface{}) (interface{}, error) {
	if isNull(n) || isNull(ch) {
		return nil, nil
	}
	k, err := toInt(n)
	if err != nil || k < 0 {
		return nil, fmt.Errorf("invalid length %v", n)
	}
	var r rune
	switch c := ch.(type) {
	case int64:
		r = rune(c)
	case float64:
		r = rune(int64(c))
	default:
		s := toText(c)
		if s == "" {
			return nil, fmt.Errorf("String needs a character")
		}
		r, _ = utf8.DecodeRuneInString(s)
	}
	return strings.Repeat(string(r), int(k)), nil
}

func accStrReverse(s interface{}) (interface{}, error) {
	if isNull(s) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	r := []rune(toText(s))
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

func accStrComp(args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("StrComp needs 2 strings")
	}
	if isNull(args[0]) || isNull(args[1]) {
		return nil, nil
	}
	text := len(args) < 3 || compareText(args[2])
	return int64(strings.Compare(foldIf(toText(args[0]), text), foldIf(toText(args[1]), text))), nil
}

// accReplace accepts Replace(expr, find, replacement [, start [, count [, compare]]]).
// As in the source dialect the result starts at start.
func accReplace(args ...interface{}) (interface{}, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("Replace needs 3 arguments")
	}
	if isNull(args[0]) {
		return nil, nil
	}
	expr := []rune(toText(args[0]))
	find, repl := toText(args[1]), toText(args[2])

	start, count := int64(1), int64(-1)
	if len(args) > 3 && !isNull(args[3]) {
		n, err := toInt(args[3])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid start %v", args[3])
		}
		start = n
	}
	if len(args) > 4 && !isNull(args[4]) {
		n, err := toInt(args[4])
		if err != nil {
			return nil, err
		}
		count = n
	}
	text := len(args) < 6 || compareText(args[5])

	if int(start) > len(expr) {
		return "", nil
	}
	src := string(expr[start-1:])
	if find == "" || count == 0 {
		return src, nil
	}

	folded := foldIf(src, text)
	target := foldIf(find, text)
	if len(folded) != len(src) {
		// Folding changed byte lengths; match exactly instead.
		folded, target = src, find
	}

	var b strings.Builder
	pos := 0
	for count != 0 {
		idx := strings.Index(folded[pos:], target)
		if idx < 0 {
			break
		}
		b.WriteString(src[pos : pos+idx])
		b.WriteString(repl)
		pos += idx + len(target)
		count--
	}
	b.WriteString(src[pos:])
	return b.String(), nil
}

func accAsc(s interface{}) (interface{}, error) {
	if isNull(s) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	str := toText(s)
	if str == "" {
		return nil, fmt.Errorf("Asc needs a non-empty string")
	}
	r, _ := utf8.DecodeRuneInString(str)
	return int64(r), nil
}

func accChr(n interface{}) (interface{}, error) {
	if isNull(n) {
		return nil, fmt.Errorf("invalid use of Null")
	}
	k, err := toInt(n)
	if err != nil || k < 0 || k > utf8.MaxRune {
		return nil, fmt.Errorf("invalid character code %v", n)
	}
	return string(rune(k)), nil
}
