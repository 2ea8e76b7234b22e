package engine

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var namedDateFormats = map[string]string{
	"general date": "1/2/2006 3:04:05 PM",
	"long date":    "Monday, January 2, 2006",
	"medium date":  "02-Jan-06",
	"short date":   "1/2/2006",
	"long time":    "3:04:05 PM",
	"medium time":  "03:04 PM",
	"short time":   "15:04",
}

// accFormat implements Format(value [, format]) for the named formats and
// the common custom date and number patterns.
func accFormat(args ...interface{}) (interface{}, error) {
	if len(args) == 0 || isNull(args[0]) {
		return nil, nil
	}
	v := args[0]
	pattern := ""
	if len(args) > 1 && !isNull(args[1]) {
		pattern = toText(args[1])
	}
	lower := strings.ToLower(strings.TrimSpace(pattern))

	if layout, ok := namedDateFormats[lower]; ok {
		t, null, err := parseDate(v)
		if err != nil || null {
			return nil, err
		}
		if lower == "general date" && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			layout = "1/2/2006"
		}
		return t.Format(layout), nil
	}

	switch lower {
	case "":
		if s, ok := v.(string); ok {
			if t, _, err := parseDate(s); err == nil && strings.ContainsAny(s, "-/:") {
				return formatGeneralDate(t), nil
			}
			return s, nil
		}
		return toText(v), nil
	case "yes/no", "true/false", "on/off":
		labels := strings.Split(pattern, "/")
		if truthy(v) {
			return labels[0], nil
		}
		return labels[1], nil
	case "general number":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case "fixed":
		return formatNumber(v, 2, false)
	case "standard":
		return formatNumber(v, 2, true)
	case "currency":
		s, err := formatNumber(v, 2, true)
		if err != nil {
			return nil, err
		}
		if str := s.(string); strings.HasPrefix(str, "-") {
			return "-$" + str[1:], nil
		}
		return "$" + s.(string), nil
	case "percent":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		s, _ := formatNumber(f*100, 2, false)
		return s.(string) + "%", nil
	case "scientific":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(strconv.FormatFloat(f, 'e', 2, 64)), nil
	}

	if isDatePattern(lower) {
		t, null, err := parseDate(v)
		if err != nil || null {
			return nil, err
		}
		return formatCustomDate(t, pattern), nil
	}
	if strings.ContainsAny(pattern, "0#") {
		return formatCustomNumber(v, pattern)
	}
	return toText(v), nil
}

func formatGeneralDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("1/2/2006")
	}
	if t.Year() == 1899 && t.Month() == 12 && t.Day() == 30 {
		return t.Format("3:04:05 PM")
	}
	return t.Format("1/2/2006 3:04:05 PM")
}

func isDatePattern(p string) bool {
	return strings.ContainsAny(p, "ydhns") || strings.Contains(p, "mm") && !strings.ContainsAny(p, "0#")
}

// formatCustomDate expands yyyy yy mmmm mmm mm m dddd ddd dd d hh h nn n ss s
// and AM/PM. A run of m right after h is minutes.
func formatCustomDate(t time.Time, pattern string) string {
	var b strings.Builder
	ampm := strings.Contains(strings.ToUpper(pattern), "AM/PM")
	lastWasHour := false
	for i := 0; i < len(pattern); {
		c := pattern[i]
		run := 1
		for i+run < len(pattern) && strings.EqualFold(string(pattern[i+run]), string(c)) {
			run++
		}
		lc := c | 0x20
		switch {
		case strings.HasPrefix(strings.ToUpper(pattern[i:]), "AM/PM"):
			if t.Hour() < 12 {
				b.WriteString("AM")
			} else {
				b.WriteString("PM")
			}
			i += 5
			continue
		case lc == 'y' && run >= 4:
			b.WriteString(strconv.Itoa(t.Year()))
		case lc == 'y' && run >= 2:
			b.WriteString(pad2(t.Year() % 100))
		case lc == 'y':
			b.WriteString(strconv.Itoa(t.YearDay()))
		case lc == 'm' && lastWasHour:
			b.WriteString(padN(t.Minute(), run))
		case lc == 'm' && run >= 4:
			b.WriteString(t.Month().String())
		case lc == 'm' && run == 3:
			b.WriteString(t.Month().String()[:3])
		case lc == 'm':
			b.WriteString(padN(int(t.Month()), run))
		case lc == 'd' && run >= 4:
			b.WriteString(t.Weekday().String())
		case lc == 'd' && run == 3:
			b.WriteString(t.Weekday().String()[:3])
		case lc == 'd':
			b.WriteString(padN(t.Day(), run))
		case lc == 'h':
			h := t.Hour()
			if ampm {
				h = h % 12
				if h == 0 {
					h = 12
				}
			}
			b.WriteString(padN(h, run))
		case lc == 'n':
			b.WriteString(padN(t.Minute(), run))
		case lc == 's':
			b.WriteString(padN(t.Second(), run))
		default:
			b.WriteString(pattern[i : i+run])
		}
		lastWasHour = lc == 'h' || (lastWasHour && !isDateLetter(lc))
		i += run
	}
	return b.String()
}

func isDateLetter(c byte) bool {
	return strings.IndexByte("ymdhns", c) >= 0
}

func pad2(n int) string {
	return padN(n, 2)
}

func padN(n, width int) string {
	s := strconv.Itoa(n)
	if width >= 2 && len(s) < 2 {
		return "0" + s
	}
	return s
}

func formatNumber(v interface{}, decimals int, grouping bool) (interface{}, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	s := strconv.FormatFloat(roundHalfAway(f, decimals), 'f', decimals, 64)
	if grouping {
		s = groupThousands(s)
	}
	return s, nil
}

func roundHalfAway(f float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(f*p) / p
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

// formatCustomNumber handles patterns such as "0.00", "#,##0.0" and "000".
func formatCustomNumber(v interface{}, pattern string) (interface{}, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(pattern, ';'); i >= 0 {
		pattern = pattern[:i]
	}
	prefixEnd := strings.IndexAny(pattern, "0#,.")
	suffixStart := strings.LastIndexAny(pattern, "0#,.") + 1
	prefix, body, suffix := pattern[:prefixEnd], pattern[prefixEnd:suffixStart], pattern[suffixStart:]
	if strings.Contains(suffix, "%") {
		f *= 100
	}

	decimals, minFrac := 0, 0
	intBody := body
	if i := strings.IndexByte(body, '.'); i >= 0 {
		fracBody := body[i+1:]
		intBody = body[:i]
		decimals = len(fracBody)
		minFrac = strings.Count(fracBody, "0")
	}
	minInt := strings.Count(intBody, "0")

	s := strconv.FormatFloat(roundHalfAway(math.Abs(f), decimals), 'f', decimals, 64)
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	for len(frac) > minFrac && strings.HasSuffix(frac, "0") {
		frac = frac[:len(frac)-1]
	}
	if intPart == "0" && minInt == 0 {
		intPart = ""
	}
	for len(intPart) < minInt {
		intPart = "0" + intPart
	}
	if strings.Contains(intBody, ",") {
		intPart = groupThousands(intPart)
	}

	out := intPart
	if frac != "" {
		out += "." + frac
	}
	if f < 0 && out != "" && strings.Trim(out, "0.,") != "" {
		out = "-" + out
	}
	return prefix + out + suffix, nil
}
