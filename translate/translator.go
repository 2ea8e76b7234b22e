package translate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/telemetry"
	rqlitesql "github.com/rqlite/sql"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCacheSize is the number of translations kept when Options leaves
// CacheSize unset.
const DefaultCacheSize = 256

// Options configures a Translator. A nil Logger uses the global logger.
type Options struct {
	CacheSize int
	Logger    *zerolog.Logger
}

type cacheKey struct {
	hash    uint64
	version uint64
}

// Translator rewrites Access SQL into engine SQL against a mirror. It is
// not safe for concurrent use; each connection owns one.
type Translator struct {
	rules       RuleSet
	expressions RuleSet
	cache       *lru.Cache[cacheKey, *Statement]
	logger      zerolog.Logger
}

// New returns a Translator with an empty cache and the full rule set.
func New(opts Options) (*Translator, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *Statement](size)
	if err != nil {
		return nil, err
	}

	rules := RuleSet{
		&classifyRule{},
		&dateLiteralRule{},
		&stringLiteralRule{},
		&booleanLiteralRule{},
		&deleteRule{},
		&distinctRowRule{},
		&topRule{},
		&updateJoinRule{},
		&likeRule{},
		&functionRule{},
		&operatorRule{},
		&identifierRule{},
		&ddlRule{},
	}
	sort.Sort(rules)

	expressions := RuleSet{
		&dateLiteralRule{},
		&stringLiteralRule{},
		&booleanLiteralRule{},
		&likeRule{},
		&functionRule{},
		&operatorRule{},
		&identifierRule{},
	}
	sort.Sort(expressions)

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Translator{
		rules:       rules,
		expressions: expressions,
		cache:       cache,
		logger:      logger.With().Str("component", "translator").Logger(),
	}, nil
}

// Translate rewrites one client statement against the current mirror
// state. Results are cached per mirror version.
func (tr *Translator) Translate(m *mirror.Mirror, sql string) (*Statement, error) {
	key := cacheKey{hash: xxhash.Sum64String(sql), version: m.Version()}
	if st, ok := tr.cache.Get(key); ok && st.Source == sql {
		telemetry.TranslationCacheHits.Inc()
		return st, nil
	}

	st, err := tr.translate(m, sql)
	if err != nil {
		telemetry.TranslationFailures.With(failureType(err)).Inc()
		tr.logger.Debug().Err(err).Str("source_sql", sql).Msg("Translation failed")
		return nil, err
	}
	telemetry.StatementsTranslated.With(strings.ToLower(st.Kind.String())).Inc()
	tr.logger.Debug().
		Str("source_sql", sql).
		Str("target_sql", st.Target).
		Strs("rules", st.Rules).
		Msg("Translated statement")

	tr.cache.Add(key, st)
	return st, nil
}

func (tr *Translator) translate(m *mirror.Mirror, sql string) (*Statement, error) {
	toks, err := lex(sql)
	if err != nil {
		return nil, err
	}
	s := newState(sql, toks, m)
	s.expr = tr.Expression

	var applied []string
	for _, rule := range tr.rules {
		changed, err := rule.Apply(s)
		if err != nil {
			return nil, err
		}
		if changed {
			applied = append(applied, rule.Name())
		}
	}

	st := &Statement{
		Source:      sql,
		Kind:        s.kind,
		Table:       s.table,
		Params:      s.params(),
		ColumnNames: s.columnNames,
		Rules:       applied,
	}
	if s.change != nil {
		stmts, err := m.Statements(s.change, s.expr)
		if err != nil {
			return nil, err
		}
		st.DDL = s.change
		st.Target = strings.Join(stmts, ";\n")
		return st, nil
	}
	st.Target = render(s.toks)
	if err := tr.crossCheck(m, st); err != nil {
		return nil, err
	}
	return st, nil
}

// crossCheck parses the engine text and compares its kind and target table
// with the translation. Text the parser does not understand is only logged.
func (tr *Translator) crossCheck(m *mirror.Mirror, st *Statement) error {
	parsed, err := rqlitesql.NewParser(strings.NewReader(st.Target)).ParseStatement()
	if err != nil {
		tr.logger.Debug().Err(err).Str("target_sql", st.Target).Msg("Engine parser rejected translated statement")
		return nil
	}

	var kind Kind
	table := ""
	switch p := parsed.(type) {
	case *rqlitesql.SelectStatement:
		kind = Query
	case *rqlitesql.InsertStatement:
		kind = Insert
		table = rqlitesql.IdentName(p.Table)
	case *rqlitesql.UpdateStatement:
		kind = Update
		if p.Table != nil {
			table = rqlitesql.IdentName(p.Table.Name)
		}
	case *rqlitesql.DeleteStatement:
		kind = Delete
		if p.Table != nil {
			table = rqlitesql.IdentName(p.Table.Name)
		}
	default:
		return &TranslationError{SQL: st.Source, Pos: -1, Reason: fmt.Sprintf("translated %s is not a %s statement", st.Target, st.Kind)}
	}
	if kind != st.Kind {
		return &TranslationError{SQL: st.Source, Pos: -1, Reason: fmt.Sprintf("translated statement is %s, expected %s", kind, st.Kind)}
	}
	if table == "" || st.Table == "" {
		return nil
	}
	t, ok := m.Table(st.Table)
	if !ok || !strings.EqualFold(t.Name, table) {
		return &TranslationError{SQL: st.Source, Pos: -1, Reason: fmt.Sprintf("translated statement targets %s, expected %s", table, st.Table)}
	}
	return nil
}

// Expression translates a calculated column expression of t. Bare names
// are columns of t. It matches mirror.ExpressionFunc.
func (tr *Translator) Expression(t *mirror.Table, expr string) (string, error) {
	toks, err := lex(expr)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 {
		return "", fail(expr, "empty expression")
	}
	s := newState(expr, toks, nil)
	s.scope = t
	s.kind = Query
	for _, rule := range tr.expressions {
		if _, err := rule.Apply(s); err != nil {
			return "", err
		}
	}
	return render(s.toks), nil
}

// Purge drops every cached translation.
func (tr *Translator) Purge() {
	tr.cache.Purge()
}

func failureType(err error) string {
	switch err.(type) {
	case *UnknownIdentifierError:
		return "unknown_identifier"
	case *TranslationError:
		return "syntax"
	}
	return "schema"
}
