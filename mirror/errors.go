package mirror

import "fmt"

// SchemaImportError reports a file schema the mirror cannot reproduce:
// corrupt metadata, an unsupported feature, or a name collision after
// identifier safing.
type SchemaImportError struct {
	Table  string
	Column string
	Reason string
	Err    error
}

func (e *SchemaImportError) Error() string {
	where := e.Table
	if e.Column != "" {
		where += "." + e.Column
	}
	msg := fmt.Sprintf("schema import failed for %s: %s", where, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaImportError) Unwrap() error {
	return e.Err
}
