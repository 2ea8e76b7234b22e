package translate

import "fmt"

// TranslationError reports source syntax the translator does not cover.
// Pos is a byte offset into SQL, or -1.
type TranslationError struct {
	SQL    string
	Pos    int
	Reason string
}

func (e *TranslationError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("cannot translate at offset %d: %s", e.Pos, e.Reason)
	}
	return "cannot translate: " + e.Reason
}

// UnknownIdentifierError reports a table or column the mirror does not hold.
type UnknownIdentifierError struct {
	SQL        string
	Identifier string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("unknown identifier %s", e.Identifier)
}

func failAt(sql string, t token, format string, args ...interface{}) error {
	return &TranslationError{SQL: sql, Pos: t.pos, Reason: fmt.Sprintf(format, args...)}
}

func fail(sql string, format string, args ...interface{}) error {
	return &TranslationError{SQL: sql, Pos: -1, Reason: fmt.Sprintf(format, args...)}
}
