package translate

import (
	"strconv"
	"strings"

	"github.com/notzippy/ucanaccess-code/typemap"
)

// LikePattern rewrites a source-dialect LIKE pattern into the glob syntax
// the engine's like() matches: * and % match any run, ? and _ one
// character, # one digit, [x] the literal x, [a-z] and [!a-z] classes.
func LikePattern(p string) string {
	var b strings.Builder
	rs := []rune(p)
	for i := 0; i < len(rs); i++ {
		switch c := rs[i]; c {
		case '*', '%':
			b.WriteByte('*')
		case '?', '_':
			b.WriteByte('?')
		case '#':
			b.WriteString("[0-9]")
		case '[':
			end := -1
			for j := i + 1; j < len(rs); j++ {
				if rs[j] == ']' {
					end = j
					break
				}
			}
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := rs[i+1 : end]
			switch {
			case len(class) == 0:
			case len(class) == 1:
				writeLiteral(&b, class[0])
			default:
				b.WriteByte('[')
				for _, r := range class {
					if r == '\\' {
						b.WriteByte('\\')
					}
					b.WriteRune(r)
				}
				b.WriteByte(']')
			}
			i = end
		default:
			writeLiteral(&b, c)
		}
	}
	return b.String()
}

func writeLiteral(b *strings.Builder, r rune) {
	if strings.ContainsRune(`*?[]{}\`, r) {
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}

type likeRule struct{}

func (r *likeRule) Name() string  { return "Like" }
func (r *likeRule) Priority() int { return 50 }

func (r *likeRule) Apply(s *state) (bool, error) {
	if s.kind.DDL() {
		return false, nil
	}
	changed := false
	for i := 0; i+1 < len(s.toks); i++ {
		if !s.toks[i].is("LIKE") || s.toks[i].fixed {
			continue
		}
		switch next := s.toks[i+1]; next.kind {
		case tokString:
			lit := str(LikePattern(next.value))
			lit.pos, lit.space = next.pos, next.space
			s.toks[i+1] = lit
			changed = true
		case tokParam:
			s.like[next.param] = true
		}
	}
	return changed, nil
}

// functionRule maps source functions onto engine functions and rewrites
// the conditional ones into CASE expressions.
type functionRule struct{}

func (r *functionRule) Name() string  { return "Function" }
func (r *functionRule) Priority() int { return 60 }

func (r *functionRule) Apply(s *state) (bool, error) {
	if s.kind.DDL() {
		return false, nil
	}
	changed := false
	for i := 0; i+1 < len(s.toks); i++ {
		t := s.toks[i]
		if t.kind != tokIdent || t.fixed || !s.toks[i+1].isOp("(") || (i > 0 && s.toks[i-1].isOp(".")) {
			continue
		}
		f, ok := typemap.LookupFunction(t.text)
		if !ok {
			continue
		}
		close := matching(s.toks, i+1)
		if close < 0 {
			return false, failAt(s.sql, s.toks[i+1], "unbalanced parenthesis")
		}
		args := splitTop(s.toks[i+2 : close])
		if len(args) == 1 && len(args[0]) == 0 {
			args = nil
		}
		if !f.AcceptsArgs(len(args)) {
			return false, failAt(s.sql, t, "%s does not take %d arguments", f.Name, len(args))
		}
		for _, a := range args {
			if len(a) == 0 {
				return false, failAt(s.sql, t, "%s has an empty argument", f.Name)
			}
		}

		switch f.Kind {
		case typemap.FuncNative:
			s.toks[i].fixed = true
		case typemap.FuncRename, typemap.FuncEmulated, typemap.FuncAggregate:
			w := word(f.Target)
			w.pos, w.space = t.pos, t.space
			s.toks[i] = w
		case typemap.FuncRewrite:
			repl, err := rewriteFunction(s, f.Name, t, args)
			if err != nil {
				return false, err
			}
			repl[0].space = t.space
			s.toks = splice(s.toks, i, close+1, repl...)
		}
		changed = true
	}
	return changed, nil
}

func rewriteFunction(s *state, name string, at token, args [][]token) ([]token, error) {
	var out []token
	switch name {
	case "IIF":
		out = fixedTokens("CASE WHEN")
		out = append(out, wrap(args[0])...)
		out = append(out, fixedTokens("THEN")...)
		out = append(out, wrap(args[1])...)
		out = append(out, fixedTokens("ELSE")...)
		out = append(out, wrap(args[2])...)
	case "SWITCH":
		if len(args)%2 != 0 {
			return nil, failAt(s.sql, at, "SWITCH needs condition and value pairs")
		}
		out = fixedTokens("CASE")
		for k := 0; k < len(args); k += 2 {
			out = append(out, fixedTokens("WHEN")...)
			out = append(out, wrap(args[k])...)
			out = append(out, fixedTokens("THEN")...)
			out = append(out, wrap(args[k+1])...)
		}
	case "CHOOSE":
		out = fixedTokens("CASE")
		out = append(out, wrap(args[0])...)
		for k, a := range args[1:] {
			out = append(out, fixedTokens("WHEN "+strconv.Itoa(k+1)+" THEN")...)
			out = append(out, wrap(a)...)
		}
	case "ISNULL":
		out = wrap(args[0])
		out = append(out, fixedTokens("IS NULL")...)
		return wrap(out), nil
	default:
		return nil, failAt(s.sql, at, "no rewrite for %s", name)
	}
	out = append(out, fixedTokens("END")...)
	return wrap(out), nil
}

// operatorRule rewrites the arithmetic and concatenation operators the
// engine spells differently.
type operatorRule struct{}

func (r *operatorRule) Name() string  { return "Operator" }
func (r *operatorRule) Priority() int { return 65 }

var (
	multiplicative = []string{"*", "/"}
	additive       = []string{"*", "/", "%", "+", "-", "||"}
)

func (r *operatorRule) Apply(s *state) (bool, error) {
	if s.kind.DDL() {
		return false, nil
	}
	changed := false
	rewrites := []struct {
		match  func(token) bool
		chain  []string
		render func(l, r []token) []token
	}{
		{func(t token) bool { return t.isOp("^") }, nil, func(l, r []token) []token { return call("acc_pow", l, r) }},
		{func(t token) bool { return t.isOp(`\`) }, multiplicative, func(l, r []token) []token { return call("acc_intdiv", l, r) }},
		{func(t token) bool { return t.is("MOD") && !t.fixed }, multiplicative, func(l, r []token) []token {
			out := append(wrap(l), token{kind: tokOp, text: "%", space: true, fixed: true})
			return wrap(append(out, withSpace(wrap(r))...))
		}},
		{func(t token) bool { return t.isOp("&") }, additive, func(l, r []token) []token {
			out := call("coalesce", l, fixedTokens("''"))
			out = append(out, token{kind: tokOp, text: "||", space: true, fixed: true})
			return wrap(append(out, withSpace(call("coalesce", r, fixedTokens("''")))...))
		}},
	}
	for _, rw := range rewrites {
		for i := 0; i < len(s.toks); i++ {
			if !rw.match(s.toks[i]) {
				continue
			}
			start, end, err := s.operands(i, rw.chain)
			if err != nil {
				return false, err
			}
			l := cloneTokens(s.toks[start:i])
			rt := cloneTokens(s.toks[i+1 : end+1])
			repl := rw.render(l, rt)
			repl[0].space = s.toks[start].space
			s.toks = splice(s.toks, start, end+1, repl...)
			i = start
			changed = true
		}
	}
	return changed, nil
}

// call renders name(a, b).
func call(name string, a, b []token) []token {
	out := []token{word(name), {kind: tokOp, text: "(", fixed: true}}
	for i, t := range a {
		if i == 0 {
			t.space = false
		}
		out = append(out, t)
	}
	out = append(out, comma())
	out = append(out, withSpace(b)...)
	return append(out, token{kind: tokOp, text: ")", fixed: true})
}

// operands finds the operands of the binary operator at i. Chains of the
// given tighter-binding operators extend both sides.
func (s *state) operands(i int, chain []string) (int, int, error) {
	if i == 0 || i == len(s.toks)-1 {
		return 0, 0, failAt(s.sql, s.toks[i], "operator %s needs two operands", s.toks[i].text)
	}
	start := primaryStart(s.toks, i-1)
	for start >= 2 && inChain(s.toks[start-1], chain) {
		start = primaryStart(s.toks, start-2)
	}
	end := primaryEnd(s.toks, i+1)
	for end >= 0 && end+2 < len(s.toks) && inChain(s.toks[end+1], chain) {
		end = primaryEnd(s.toks, end+2)
	}
	if start < 0 || end < 0 {
		return 0, 0, failAt(s.sql, s.toks[i], "operator %s needs two operands", s.toks[i].text)
	}
	return start, end, nil
}

func inChain(t token, chain []string) bool {
	if t.kind != tokOp {
		return false
	}
	for _, c := range chain {
		if t.text == c {
			return true
		}
	}
	return false
}

// primaryStart returns where the operand ending at i starts.
func primaryStart(toks []token, i int) int {
	t := toks[i]
	switch {
	case t.isOp(")"):
		open := matchingBack(toks, i)
		if open < 0 {
			return -1
		}
		if open > 0 && toks[open-1].kind == tokIdent && (!isSQLWord(toks[open-1]) || toks[open-1].is("CAST")) {
			return open - 1
		}
		return open
	case t.isName():
		if i >= 2 && toks[i-1].isOp(".") && toks[i-2].isName() {
			return i - 2
		}
		return i
	case t.kind == tokOp:
		return -1
	}
	return i
}

// primaryEnd returns where the operand starting at i ends.
func primaryEnd(toks []token, i int) int {
	t := toks[i]
	switch {
	case t.isOp("-") || t.isOp("+"):
		if i+1 < len(toks) {
			return primaryEnd(toks, i+1)
		}
		return -1
	case t.isOp("("):
		return matching(toks, i)
	case t.isName():
		if i+2 < len(toks) && toks[i+1].isOp(".") && (toks[i+2].isName() || toks[i+2].isOp("*")) {
			return i + 2
		}
		if i+1 < len(toks) && toks[i+1].isOp("(") {
			return matching(toks, i+1)
		}
		return i
	case t.kind == tokOp:
		return -1
	}
	return i
}

// matchingBack returns the index of the paren opening the one closing at
// close, or -1.
func matchingBack(toks []token, close int) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch {
		case toks[i].isOp(")"):
			depth++
		case toks[i].isOp("("):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
