package typemap

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// InternalPrefix is reserved for objects the mirror creates for itself.
const InternalPrefix = "__ucan"

var folder = cases.Fold()

// FoldName returns the case-folded identifier used for lookups.
func FoldName(s string) string {
	return folder.String(s)
}

// engineKeywords are the embedded engine's keywords.
var engineKeywords = toSet(`ABORT ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND AS ASC ATTACH
AUTOINCREMENT BEFORE BEGIN BETWEEN BY CASCADE CASE CAST CHECK COLLATE COLUMN COMMIT CONFLICT
CONSTRAINT CREATE CROSS CURRENT CURRENT_DATE CURRENT_TIME CURRENT_TIMESTAMP DATABASE DEFAULT
DEFERRABLE DEFERRED DELETE DESC DETACH DISTINCT DO DROP EACH ELSE END ESCAPE EXCEPT EXCLUDE
EXCLUSIVE EXISTS EXPLAIN FAIL FILTER FIRST FOLLOWING FOR FOREIGN FROM FULL GENERATED GLOB GROUP
GROUPS HAVING IF IGNORE IMMEDIATE IN INDEX INDEXED INITIALLY INNER INSERT INSTEAD INTERSECT INTO
IS ISNULL JOIN KEY LAST LEFT LIKE LIMIT MATCH MATERIALIZED NATURAL NO NOT NOTHING NOTNULL NULL
NULLS OF OFFSET ON OR ORDER OTHERS OUTER OVER PARTITION PLAN PRAGMA PRECEDING PRIMARY QUERY RAISE
RANGE RECURSIVE REFERENCES REGEXP REINDEX RELEASE RENAME REPLACE RESTRICT RETURNING RIGHT ROLLBACK
ROW ROWS SAVEPOINT SELECT SET TABLE TEMP TEMPORARY THEN TIES TO TRANSACTION TRIGGER UNBOUNDED
UNION UNIQUE UPDATE USING VACUUM VALUES VIEW VIRTUAL WHEN WHERE WINDOW WITH WITHOUT
ROWID OID _ROWID_`)

func toSet(words string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}

// IsEngineKeyword reports whether name is an engine keyword.
func IsEngineKeyword(name string) bool {
	return engineKeywords[strings.ToUpper(name)]
}

// SafeIdentifier rewrites a file identifier into one the engine accepts
// unquoted-safe and unambiguous: characters other than letters, digits and
// underscore become underscores, a leading digit gains an underscore, and
// engine keywords or names in the internal namespace gain a suffix.
func SafeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "_"
	}
	if unicode.IsDigit([]rune(out)[0]) {
		out = "_" + out
	}
	if IsEngineKeyword(out) {
		out += "_"
	}
	if strings.HasPrefix(FoldName(out), InternalPrefix) {
		out = "x" + out
	}
	return out
}

// QuoteIdent quotes an engine identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString quotes an engine string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
