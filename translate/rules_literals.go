package translate

import (
	"strings"
	"time"

	"github.com/notzippy/ucanaccess-code/typemap"
)

// timeAnchor is the date of time-only literals.
var timeAnchor = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"2006-1-2",
	"2006/1/2",
	"2-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var timeLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"3:04 PM",
	"3:04:05PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

// ParseDateLiteral reads the body of a #...# literal.
func ParseDateLiteral(body string) (time.Time, bool) {
	v := strings.ToUpper(strings.Join(strings.Fields(body), " "))
	for _, tl := range timeLayouts {
		if t, err := time.Parse(tl, v); err == nil {
			return timeAnchor.Add(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), true
		}
	}
	for _, dl := range dateLayouts {
		if t, err := time.Parse(dl, v); err == nil {
			return t, true
		}
		for _, tl := range timeLayouts {
			if t, err := time.Parse(dl+" "+tl, v); err == nil {
				return t, true
			}
		}
	}
	if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FormatDateLiteral renders t as a source-dialect literal that
// ParseDateLiteral reads back unchanged.
func FormatDateLiteral(t time.Time) string {
	return "#" + t.Format("2006-01-02 15:04:05") + "#"
}

type dateLiteralRule struct{}

func (r *dateLiteralRule) Name() string  { return "DateLiteral" }
func (r *dateLiteralRule) Priority() int { return 20 }

func (r *dateLiteralRule) Apply(s *state) (bool, error) {
	changed := false
	for i, t := range s.toks {
		if t.kind != tokDate {
			continue
		}
		d, ok := ParseDateLiteral(t.value)
		if !ok {
			return false, failAt(s.sql, t, "invalid date literal %s", t.text)
		}
		lit := str(typemap.FormatDateTime(d))
		lit.pos, lit.space = t.pos, t.space
		s.toks[i] = lit
		changed = true
	}
	return changed, nil
}

type stringLiteralRule struct{}

func (r *stringLiteralRule) Name() string  { return "StringLiteral" }
func (r *stringLiteralRule) Priority() int { return 21 }

func (r *stringLiteralRule) Apply(s *state) (bool, error) {
	changed := false
	for i, t := range s.toks {
		if t.kind == tokString && strings.HasPrefix(t.text, `"`) {
			s.toks[i].text = quoteString(t.value)
			changed = true
		}
	}
	return changed, nil
}

type booleanLiteralRule struct{}

func (r *booleanLiteralRule) Name() string  { return "BooleanLiteral" }
func (r *booleanLiteralRule) Priority() int { return 22 }

func (r *booleanLiteralRule) Apply(s *state) (bool, error) {
	if s.kind.DDL() {
		return false, nil
	}
	changed := false
	for i, t := range s.toks {
		if t.kind != tokIdent || t.fixed {
			continue
		}
		if (i > 0 && s.toks[i-1].isOp(".")) || (i+1 < len(s.toks) && (s.toks[i+1].isOp(".") || s.toks[i+1].isOp("("))) {
			continue
		}
		var v string
		switch strings.ToUpper(t.text) {
		case "TRUE", "YES":
			v = "1"
		case "FALSE", "NO":
			v = "0"
		default:
			continue
		}
		s.toks[i] = token{kind: tokNumber, text: v, pos: t.pos, space: t.space}
		changed = true
	}
	return changed, nil
}
