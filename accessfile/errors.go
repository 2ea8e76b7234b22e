package accessfile

import (
	"errors"
	"fmt"
)

var (
	ErrLocked               = errors.New("database file is locked by another session")
	ErrCorrupt              = errors.New("database file is corrupt")
	ErrRowNotFound          = errors.New("row not found")
	ErrDuplicateKey         = errors.New("duplicate value in unique index")
	ErrNullViolation        = errors.New("required column has no value")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrNoSuchTable          = errors.New("no such table")
	ErrNoSuchColumn         = errors.New("no such column")
	ErrNoSuchIndex          = errors.New("no such index")
	ErrTableExists          = errors.New("table already exists")
	ErrFileExists           = errors.New("database file already exists")
	ErrReadOnly             = errors.New("database file is read-only")
	ErrClosed               = errors.New("database file is closed")
	ErrSessionDone          = errors.New("session already committed or released")
	ErrUnsupported          = errors.New("not supported by file format")
)

// RowError reports a failure affecting a single row or constraint. The file
// itself is healthy.
type RowError struct {
	Table string
	Op    string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s on table %s: %v", e.Op, e.Table, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// FileError reports an I/O, locking or corruption failure of the file as a whole.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IsRowError reports whether err is scoped to a row rather than the file.
func IsRowError(err error) bool {
	var re *RowError
	return errors.As(err, &re)
}

func rowErr(table, op string, err error) error {
	return &RowError{Table: table, Op: op, Err: err}
}

func rowErrf(table, op string, sentinel error, format string, args ...interface{}) error {
	return &RowError{Table: table, Op: op, Err: fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)}
}
