package engine

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/notzippy/ucanaccess-code/accessfile"
)

func registerMathFuncs(conn *sqlite3.SQLiteConn) error {
	return registerFuncs(conn, []funcDef{
		{"acc_int", accInt, true},
		{"acc_fix", accFix, true},
		{"acc_sgn", accSgn, true},
		{"acc_sqr", accSqr, true},
		{"acc_exp", mathFunc(math.Exp), true},
		{"acc_log", accLog, true},
		{"acc_atn", mathFunc(math.Atan), true},
		{"acc_sin", mathFunc(math.Sin), true},
		{"acc_cos", mathFunc(math.Cos), true},
		{"acc_tan", mathFunc(math.Tan), true},
		{"acc_round", accRound, true},
		{"acc_rnd", accRnd, false},
		{"acc_hex", accHex, true},
		{"acc_oct", accOct, true},
		{"acc_intdiv", accIntDiv, true},
		{"acc_pow", accPow, true},
		{"acc_newguid", accNewGUID, false},
	})
}

// numericResult keeps integers integral.
func numericResult(v interface{}, f float64) interface{} {
	if _, ok := v.(int64); ok {
		return int64(f)
	}
	return f
}

func accInt(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return numericResult(v, math.Floor(f)), nil
}

func accFix(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return numericResult(v, math.Trunc(f)), nil
}

func accSgn(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	switch {
	case f > 0:
		return int64(1), nil
	case f < 0:
		return int64(-1), nil
	}
	return int64(0), nil
}

func accSqr(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return nil, fmt.Errorf("invalid procedure call: Sqr(%v)", f)
	}
	return math.Sqrt(f), nil
}

func accLog(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if f <= 0 {
		return nil, fmt.Errorf("invalid procedure call: Log(%v)", f)
	}
	return math.Log(f), nil
}

func mathFunc(fn func(float64) float64) func(interface{}) (interface{}, error) {
	return func(v interface{}) (interface{}, error) {
		if isNull(v) {
			return nil, nil
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return fn(f), nil
	}
}

// accRound rounds half to even at the given number of decimals.
func accRound(args ...interface{}) (interface{}, error) {
	if len(args) == 0 || isNull(args[0]) {
		return nil, nil
	}
	f, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	places := int64(0)
	if len(args) > 1 && !isNull(args[1]) {
		if places, err = toInt(args[1]); err != nil {
			return nil, err
		}
		if places < 0 {
			return nil, fmt.Errorf("invalid procedure call: Round places %d", places)
		}
	}
	// Rounding the decimal text avoids binary artifacts such as 2.675 -> 2.67.
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(f*math.Pow(10, float64(places)), 'f', 9, 64), 64)
	if err != nil {
		return nil, err
	}
	out := math.RoundToEven(scaled) / math.Pow(10, float64(places))
	return numericResult(args[0], out), nil
}

func accRnd(args ...interface{}) float64 {
	return rand.Float64()
}

func accHex(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(strconv.FormatInt(n, 16)), nil
}

func accOct(v interface{}) (interface{}, error) {
	if isNull(v) {
		return nil, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(n, 8), nil
}

// accIntDiv rounds both operands to integers before dividing, then truncates.
func accIntDiv(a, b interface{}) (interface{}, error) {
	if isNull(a) || isNull(b) {
		return nil, nil
	}
	x, err := toInt(a)
	if err != nil {
		return nil, err
	}
	y, err := toInt(b)
	if err != nil {
		return nil, err
	}
	if y == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return x / y, nil
}

func accPow(a, b interface{}) (interface{}, error) {
	if isNull(a) || isNull(b) {
		return nil, nil
	}
	x, err := toFloat(a)
	if err != nil {
		return nil, err
	}
	y, err := toFloat(b)
	if err != nil {
		return nil, err
	}
	return math.Pow(x, y), nil
}

func accNewGUID() string {
	return accessfile.FormatGUID(uuid.New())
}
