package engine

import (
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// likeCacheSize bounds the compiled patterns kept per process.
const likeCacheSize = 512

var likePatterns, _ = lru.New[string, glob.Glob](likeCacheSize)

// registerLike replaces the engine's like() with glob matching: * any run,
// ? one character, [a-z] and [!a-z] classes, backslash escapes. Matching is
// case-insensitive.
func registerLike(conn *sqlite3.SQLiteConn) error {
	return registerFuncs(conn, []funcDef{
		{"like", likeMatch, true},
		{"like", likeMatchEscape, true},
	})
}

func likeMatch(pattern, value interface{}) (interface{}, error) {
	if isNull(pattern) || isNull(value) {
		return nil, nil
	}
	g, err := compileLike(toText(pattern))
	if err != nil {
		return nil, err
	}
	return g.Match(strings.ToLower(toText(value))), nil
}

// likeMatchEscape serves LIKE ... ESCAPE c by rewriting c into a backslash.
func likeMatchEscape(pattern, value, escape interface{}) (interface{}, error) {
	if isNull(pattern) || isNull(value) {
		return nil, nil
	}
	esc := toText(escape)
	p := toText(pattern)
	if esc != "" && esc != `\` {
		var b strings.Builder
		for i := 0; i < len(p); i++ {
			switch {
			case strings.HasPrefix(p[i:], esc) && i+len(esc) < len(p):
				b.WriteByte('\\')
				i += len(esc)
				b.WriteByte(p[i])
			case p[i] == '\\':
				b.WriteString(`\\`)
			default:
				b.WriteByte(p[i])
			}
		}
		p = b.String()
	}
	return likeMatch(p, value)
}

func compileLike(pattern string) (glob.Glob, error) {
	key := strings.ToLower(pattern)
	if g, ok := likePatterns.Get(key); ok {
		return g, nil
	}
	g, err := glob.Compile(key)
	if err != nil {
		return nil, err
	}
	likePatterns.Add(key, g)
	return g, nil
}
