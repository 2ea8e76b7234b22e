package ucanaccess

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/coordinator"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/translate"
	"github.com/notzippy/ucanaccess-code/writeback"
)

// Error codes
const (
	CodeUnknown              = 1000
	CodeSyntax               = 1001
	CodeUnknownObject        = 1002
	CodeDuplicateKey         = 1003
	CodeNullViolation        = 1004
	CodeReferentialIntegrity = 1005
	CodeCheckViolation       = 1006
	CodeLockTimeout          = 1007
	CodeStaleRow             = 1008
	CodeTransactionFailed    = 1009
	CodeTransactionState     = 1010
	CodeReadOnly             = 1011
	CodeSchemaImport         = 1012
	CodeFile                 = 1013
	CodeConfiguration        = 1014
	CodeNotQuery             = 1015
	CodeTableExists          = 1016
)

// SQLSTATE values
const (
	SQLStateGeneral       = "HY000"
	SQLStateSyntax        = "42000"
	SQLStateNoSuchTable   = "42S02"
	SQLStateNoSuchColumn  = "42S22"
	SQLStateTableExists   = "42S01"
	SQLStateIntegrity     = "23000"
	SQLStateRollback      = "40000"
	SQLStateSerialization = "40001"
	SQLStateInvalidTxn    = "25000"
	SQLStateReadOnly      = "25006"
	SQLStateConnection    = "08001"
	SQLStateNoData        = "02000"
)

// Error is the one error type returned by this package. Err keeps the
// underlying error so errors.As still finds the typed errors of the lower
// layers, such as *coordinator.CommitError.
type Error struct {
	Code     int
	SQLState string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("UCAExc %d (%s): %s", e.Code, e.SQLState, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code int, state string, err error) *Error {
	return &Error{Code: code, SQLState: state, Message: err.Error(), Err: err}
}

// IsRetryable reports whether err is a failure to lock the file for
// write-back. The transaction was undone and may be run again.
func IsRetryable(err error) bool {
	if writeback.IsLockContention(err) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeLockTimeout
	}
	return false
}

// convert maps any error of the lower layers to *Error.
func convert(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var (
		te  *translate.TranslationError
		ue  *translate.UnknownIdentifierError
		sie *mirror.SchemaImportError
		se  *writeback.SyncError
		ce  *coordinator.CommitError
		be  *coordinator.BatchError
	)
	switch {
	case errors.As(err, &be):
		inner := convert(be.Err)
		return &Error{Code: inner.Code, SQLState: inner.SQLState, Message: err.Error(), Err: err}
	case errors.As(err, &te):
		return newError(CodeSyntax, SQLStateSyntax, err)
	case errors.As(err, &ue):
		return newError(CodeUnknownObject, SQLStateSyntax, err)
	case errors.As(err, &sie):
		return newError(CodeSchemaImport, SQLStateConnection, err)
	case errors.As(err, &ce) && !ce.Committed:
		// The transaction was undone; the reason is secondary.
		return newError(CodeTransactionFailed, SQLStateRollback, err)
	case errors.As(err, &se):
		return mapSyncError(se, err)
	case errors.Is(err, coordinator.ErrNoTransaction), errors.Is(err, coordinator.ErrTransactionActive):
		return newError(CodeTransactionState, SQLStateInvalidTxn, err)
	case errors.Is(err, coordinator.ErrReadOnly), errors.Is(err, accessfile.ErrReadOnly):
		return newError(CodeReadOnly, SQLStateReadOnly, err)
	case errors.Is(err, coordinator.ErrNotQuery):
		return newError(CodeNotQuery, SQLStateNoData, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return mapSQLiteError(sqliteErr, err)
	}
	if e := mapFileError(err); e != nil {
		return e
	}
	return mapByMessage(err)
}

func mapSyncError(se *writeback.SyncError, err error) *Error {
	switch se.Reason {
	case writeback.ReasonLockContention:
		return newError(CodeLockTimeout, SQLStateSerialization, err)
	case writeback.ReasonStaleRow:
		return newError(CodeStaleRow, SQLStateSerialization, err)
	case writeback.ReasonConstraint:
		if e := mapFileError(se.Err); e != nil {
			return &Error{Code: e.Code, SQLState: e.SQLState, Message: err.Error(), Err: err}
		}
		return newError(CodeUnknown, SQLStateIntegrity, err)
	}
	return newError(CodeFile, SQLStateGeneral, err)
}

func mapFileError(err error) *Error {
	switch {
	case errors.Is(err, accessfile.ErrLocked):
		return newError(CodeLockTimeout, SQLStateSerialization, err)
	case errors.Is(err, accessfile.ErrRowNotFound):
		return newError(CodeStaleRow, SQLStateSerialization, err)
	case errors.Is(err, accessfile.ErrDuplicateKey):
		return newError(CodeDuplicateKey, SQLStateIntegrity, err)
	case errors.Is(err, accessfile.ErrNullViolation):
		return newError(CodeNullViolation, SQLStateIntegrity, err)
	case errors.Is(err, accessfile.ErrReferentialIntegrity):
		return newError(CodeReferentialIntegrity, SQLStateIntegrity, err)
	case errors.Is(err, accessfile.ErrNoSuchTable), errors.Is(err, accessfile.ErrNoSuchIndex):
		return newError(CodeUnknownObject, SQLStateNoSuchTable, err)
	case errors.Is(err, accessfile.ErrNoSuchColumn):
		return newError(CodeUnknownObject, SQLStateNoSuchColumn, err)
	case errors.Is(err, accessfile.ErrTableExists):
		return newError(CodeTableExists, SQLStateTableExists, err)
	case errors.Is(err, accessfile.ErrCorrupt), errors.Is(err, accessfile.ErrClosed), errors.Is(err, accessfile.ErrFileExists):
		return newError(CodeFile, SQLStateConnection, err)
	}
	var fe *accessfile.FileError
	if errors.As(err, &fe) {
		return newError(CodeFile, SQLStateGeneral, err)
	}
	return nil
}

func mapSQLiteError(e sqlite3.Error, err error) *Error {
	switch e.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return newError(CodeDuplicateKey, SQLStateIntegrity, err)
	case sqlite3.ErrConstraintNotNull:
		return newError(CodeNullViolation, SQLStateIntegrity, err)
	case sqlite3.ErrConstraintForeignKey:
		return newError(CodeReferentialIntegrity, SQLStateIntegrity, err)
	case sqlite3.ErrConstraintCheck:
		return newError(CodeCheckViolation, SQLStateIntegrity, err)
	}

	switch e.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return newError(CodeLockTimeout, SQLStateSerialization, err)
	case sqlite3.ErrReadonly:
		return newError(CodeReadOnly, SQLStateReadOnly, err)
	case sqlite3.ErrConstraint:
		return mapConstraintByMessage(err)
	}
	return mapByMessage(err)
}

func mapByMessage(err error) *Error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "no such table"):
		return newError(CodeUnknownObject, SQLStateNoSuchTable, err)
	case strings.Contains(lower, "already exists"):
		return newError(CodeTableExists, SQLStateTableExists, err)
	case strings.Contains(lower, "no column named"), strings.Contains(lower, "no such column"):
		return newError(CodeUnknownObject, SQLStateNoSuchColumn, err)
	case strings.Contains(lower, "syntax error"):
		return newError(CodeSyntax, SQLStateSyntax, err)
	case strings.Contains(lower, "constraint"):
		return mapConstraintByMessage(err)
	}
	return newError(CodeUnknown, SQLStateGeneral, err)
}

func mapConstraintByMessage(err error) *Error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unique"), strings.Contains(lower, "primary key"):
		return newError(CodeDuplicateKey, SQLStateIntegrity, err)
	case strings.Contains(lower, "not null"):
		return newError(CodeNullViolation, SQLStateIntegrity, err)
	case strings.Contains(lower, "foreign key"):
		return newError(CodeReferentialIntegrity, SQLStateIntegrity, err)
	case strings.Contains(lower, "check"):
		return newError(CodeCheckViolation, SQLStateIntegrity, err)
	}
	return newError(CodeUnknown, SQLStateIntegrity, err)
}
