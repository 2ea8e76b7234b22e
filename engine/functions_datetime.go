package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/notzippy/ucanaccess-code/typemap"
)

// oleEpoch is day zero of the file format's serial dates; time-only values
// are anchored on it.
var oleEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	typemap.DateTimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"15:04:05",
	"3:04:05 PM",
	"3:04 PM",
	"15:04",
}

func registerDateTimeFuncs(conn *sqlite3.SQLiteConn) error {
	return registerFuncs(conn, []funcDef{
		{"acc_now", accNow, false},
		{"acc_date", accDate, false},
		{"acc_time", accTime, false},
		{"acc_dateadd", accDateAdd, true},
		{"acc_datediff", accDateDiff, true},
		{"acc_datepart", accDatePart, true},
		{"acc_dateserial", accDateSerial, true},
		{"acc_timeserial", accTimeSerial, true},
		{"acc_datevalue", accDateValue, true},
		{"acc_timevalue", accTimeValue, true},
		{"acc_year", accYear, true},
		{"acc_month", accMonth, true},
		{"acc_day", accDay, true},
		{"acc_hour", accHour, true},
		{"acc_minute", accMinute, true},
		{"acc_second", accSecond, true},
		{"acc_weekday", accWeekday, true},
		{"acc_monthname", accMonthName, true},
		{"acc_weekdayname", accWeekdayName, true},
		{"acc_format", accFormat, true},
		{"acc_isdate", accIsDate, true},
		{"acc_cdate", accCDate, true},
	})
}

// parseDate reads a date argument. Numbers are serial dates: whole days
// since 1899-12-30 plus the time as a fraction.
func parseDate(v interface{}) (time.Time, bool, error) {
	if isNull(v) {
		return time.Time{}, true, nil
	}
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), false, nil
	case int64:
		return oleEpoch.AddDate(0, 0, int(d)), false, nil
	case float64:
		days := math.Floor(d)
		frac := d - days
		t := oleEpoch.AddDate(0, 0, int(days))
		return t.Add(time.Duration(math.Round(frac*86400)) * time.Second), false, nil
	case []byte:
		return parseDate(string(d))
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, true, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if !strings.Contains(layout, "2006") {
					t = time.Date(1899, 12, 30, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
				}
				return t, false, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unable to parse date '%s'", s)
	}
	return time.Time{}, false, fmt.Errorf("invalid date type: %T", v)
}

func formatDate(t time.Time) string {
	return typemap.FormatDateTime(t)
}

func accNow() string {
	now := time.Now()
	return formatDate(time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.UTC))
}

func accDate() string {
	now := time.Now()
	return formatDate(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
}

func accTime() string {
	now := time.Now()
	return formatDate(time.Date(1899, 12, 30, now.Hour(), now.Minute(), now.Second(), 0, time.UTC))
}

func intervalOf(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("interval must be text, got %T", v)
	}
	iv := strings.ToLower(strings.TrimSpace(s))
	switch iv {
	case "yyyy", "q", "m", "y", "d", "w", "ww", "h", "n", "s":
		return iv, nil
	}
	return "", fmt.Errorf("invalid interval '%s'", s)
}

func accDateAdd(interval, number, date interface{}) (interface{}, error) {
	iv, err := intervalOf(interval)
	if err != nil {
		return nil, err
	}
	t, null, err := parseDate(date)
	if err != nil || null || isNull(number) {
		return nil, err
	}
	nf, err := toFloat(number)
	if err != nil {
		return nil, err
	}
	n := int(nf)

	switch iv {
	case "yyyy":
		t = addMonths(t, 12*n)
	case "q":
		t = addMonths(t, 3*n)
	case "m":
		t = addMonths(t, n)
	case "y", "d", "w":
		t = t.AddDate(0, 0, n)
	case "ww":
		t = t.AddDate(0, 0, 7*n)
	case "h":
		t = t.Add(time.Duration(n) * time.Hour)
	case "n":
		t = t.Add(time.Duration(n) * time.Minute)
	case "s":
		t = t.Add(time.Duration(n) * time.Second)
	}
	return formatDate(t), nil
}

// addMonths clamps the day to the end of the target month, so Jan 31 plus
// one month is the last day of February.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func dayNumber(t time.Time) int64 {
	return int64(math.Floor(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Sub(oleEpoch).Hours() / 24))
}

func firstDayOfWeek(v []interface{}, idx int) (time.Weekday, error) {
	if len(v) <= idx || isNull(v[idx]) {
		return time.Sunday, nil
	}
	n, err := toInt(v[idx])
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 7 {
		return time.Sunday, nil
	}
	return time.Weekday(n - 1), nil
}

func accDateDiff(args ...interface{}) (interface{}, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("DateDiff needs 3 arguments")
	}
	iv, err := intervalOf(args[0])
	if err != nil {
		return nil, err
	}
	a, null1, err := parseDate(args[1])
	if err != nil {
		return nil, err
	}
	b, null2, err := parseDate(args[2])
	if err != nil || null1 || null2 {
		return nil, err
	}

	switch iv {
	case "yyyy":
		return int64(b.Year() - a.Year()), nil
	case "q":
		return int64((b.Year()*4 + (int(b.Month())-1)/3) - (a.Year()*4 + (int(a.Month())-1)/3)), nil
	case "m":
		return int64((b.Year()*12 + int(b.Month())) - (a.Year()*12 + int(a.Month()))), nil
	case "y", "d":
		return dayNumber(b) - dayNumber(a), nil
	case "w":
		return (dayNumber(b) - dayNumber(a)) / 7, nil
	case "ww":
		fdow, err := firstDayOfWeek(args, 3)
		if err != nil {
			return nil, err
		}
		return weekStart(b, fdow) - weekStart(a, fdow), nil
	case "h":
		return boundaries(a, b, time.Hour), nil
	case "n":
		return boundaries(a, b, time.Minute), nil
	default:
		return int64(b.Sub(a) / time.Second), nil
	}
}

// boundaries counts unit boundaries crossed going from a to b.
func boundaries(a, b time.Time, unit time.Duration) int64 {
	return int64(b.Truncate(unit).Sub(a.Truncate(unit)) / unit)
}

func weekStart(t time.Time, fdow time.Weekday) int64 {
	offset := (int(t.Weekday()) - int(fdow) + 7) % 7
	return (dayNumber(t) - int64(offset)) / 7
}

func accDatePart(args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("DatePart needs 2 arguments")
	}
	iv, err := intervalOf(args[0])
	if err != nil {
		return nil, err
	}
	t, null, err := parseDate(args[1])
	if err != nil || null {
		return nil, err
	}
	fdow, err := firstDayOfWeek(args, 2)
	if err != nil {
		return nil, err
	}

	switch iv {
	case "yyyy":
		return int64(t.Year()), nil
	case "q":
		return int64((int(t.Month())-1)/3 + 1), nil
	case "m":
		return int64(t.Month()), nil
	case "y":
		return int64(t.YearDay()), nil
	case "d":
		return int64(t.Day()), nil
	case "w":
		return int64((int(t.Weekday())-int(fdow)+7)%7 + 1), nil
	case "ww":
		jan1 := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return weekStart(t, fdow) - weekStart(jan1, fdow) + 1, nil
	case "h":
		return int64(t.Hour()), nil
	case "n":
		return int64(t.Minute()), nil
	default:
		return int64(t.Second()), nil
	}
}

func accDateSerial(y, m, d interface{}) (interface{}, error) {
	if isNull(y) || isNull(m) || isNull(d) {
		return nil, nil
	}
	yi, err := toInt(y)
	if err != nil {
		return nil, err
	}
	mi, err := toInt(m)
	if err != nil {
		return nil, err
	}
	di, err := toInt(d)
	if err != nil {
		return nil, err
	}
	switch {
	case yi >= 0 && yi < 30:
		yi += 2000
	case yi >= 30 && yi < 100:
		yi += 1900
	}
	return formatDate(time.Date(int(yi), time.Month(mi), int(di), 0, 0, 0, 0, time.UTC)), nil
}

func accTimeSerial(h, m, s interface{}) (interface{}, error) {
	if isNull(h) || isNull(m) || isNull(s) {
		return nil, nil
	}
	hi, err := toInt(h)
	if err != nil {
		return nil, err
	}
	mi, err := toInt(m)
	if err != nil {
		return nil, err
	}
	si, err := toInt(s)
	if err != nil {
		return nil, err
	}
	d := time.Duration(hi)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(si)*time.Second
	return formatDate(oleEpoch.Add(d)), nil
}

func accDateValue(v interface{}) (interface{}, error) {
	t, null, err := parseDate(v)
	if err != nil || null {
		return nil, err
	}
	return formatDate(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)), nil
}

func accTimeValue(v interface{}) (interface{}, error) {
	t, null, err := parseDate(v)
	if err != nil || null {
		return nil, err
	}
	return formatDate(time.Date(1899, 12, 30, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)), nil
}

func datePart(v interface{}, part func(time.Time) int) (interface{}, error) {
	t, null, err := parseDate(v)
	if err != nil || null {
		return nil, err
	}
	return int64(part(t)), nil
}

func accYear(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return t.Year() })
}

func accMonth(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return int(t.Month()) })
}

func accDay(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return t.Day() })
}

func accHour(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return t.Hour() })
}

func accMinute(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return t.Minute() })
}

func accSecond(v interface{}) (interface{}, error) {
	return datePart(v, func(t time.Time) int { return t.Second() })
}

// accWeekday returns 1 for the first day of the week, Sunday by default.
func accWeekday(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("Weekday needs 1 argument")
	}
	t, null, err := parseDate(args[0])
	if err != nil || null {
		return nil, err
	}
	fdow, err := firstDayOfWeek(args, 1)
	if err != nil {
		return nil, err
	}
	return int64((int(t.Weekday())-int(fdow)+7)%7 + 1), nil
}

func accMonthName(args ...interface{}) (interface{}, error) {
	if len(args) == 0 || isNull(args[0]) {
		return nil, nil
	}
	m, err := toInt(args[0])
	if err != nil {
		return nil, err
	}
	if m < 1 || m > 12 {
		return nil, fmt.Errorf("invalid month %d", m)
	}
	name := time.Month(m).String()
	if len(args) > 1 && truthy(args[1]) {
		name = name[:3]
	}
	return name, nil
}

func accWeekdayName(args ...interface{}) (interface{}, error) {
	if len(args) == 0 || isNull(args[0]) {
		return nil, nil
	}
	n, err := toInt(args[0])
	if err != nil {
		return nil, err
	}
	if n < 1 || n > 7 {
		return nil, fmt.Errorf("invalid weekday %d", n)
	}
	fdow, err := firstDayOfWeek(args, 2)
	if err != nil {
		return nil, err
	}
	name := time.Weekday((int(fdow) + int(n) - 1) % 7).String()
	if len(args) > 1 && truthy(args[1]) {
		name = name[:3]
	}
	return name, nil
}

func accIsDate(v interface{}) bool {
	if _, ok := v.(string); !ok {
		return false
	}
	_, null, err := parseDate(v)
	return err == nil && !null
}

func accCDate(v interface{}) (interface{}, error) {
	t, null, err := parseDate(v)
	if err != nil || null {
		return nil, err
	}
	return formatDate(t), nil
}
