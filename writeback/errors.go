package writeback

import (
	"errors"
	"fmt"

	"github.com/notzippy/ucanaccess-code/accessfile"
)

// Reason classifies a write-back failure.
type Reason string

const (
	// ReasonLockContention: the exclusive file lock was not obtained in time.
	ReasonLockContention Reason = "lock_contention"
	// ReasonStaleRow: an updated or deleted row no longer exists in the file.
	ReasonStaleRow Reason = "stale_row"
	// ReasonConstraint: the file rejected a row or schema change.
	ReasonConstraint Reason = "constraint"
	// ReasonFile: I/O or corruption failure of the file.
	ReasonFile Reason = "file"
	// ReasonReconcile: the file was written but the engine could not be
	// brought in line with it.
	ReasonReconcile Reason = "reconcile"
)

// SyncError reports a failed write-back. Unless Committed is set the file is
// unchanged.
type SyncError struct {
	Reason Reason
	Table  string
	Op     Op
	// Committed reports that the file holds the transaction.
	Committed bool
	Err       error
}

func (e *SyncError) Error() string {
	switch {
	case e.Table != "" && e.Op != 0:
		return fmt.Sprintf("write-back %s on %s failed (%s): %v", e.Op, e.Table, e.Reason, e.Err)
	case e.Table != "":
		return fmt.Sprintf("write-back on %s failed (%s): %v", e.Table, e.Reason, e.Err)
	}
	return fmt.Sprintf("write-back failed (%s): %v", e.Reason, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsLockContention reports whether err is a write-back that could not lock
// the file. Such failures may be retried by the caller.
func IsLockContention(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Reason == ReasonLockContention
}

func classify(table string, op Op, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	reason := ReasonFile
	switch {
	case errors.Is(err, accessfile.ErrLocked):
		reason = ReasonLockContention
	case errors.Is(err, accessfile.ErrRowNotFound):
		reason = ReasonStaleRow
	case accessfile.IsRowError(err):
		reason = ReasonConstraint
	case errors.Is(err, accessfile.ErrTableExists), errors.Is(err, accessfile.ErrNoSuchTable),
		errors.Is(err, accessfile.ErrNoSuchColumn), errors.Is(err, accessfile.ErrNoSuchIndex),
		errors.Is(err, accessfile.ErrUnsupported):
		reason = ReasonConstraint
	}
	return &SyncError{Reason: reason, Table: table, Op: op, Err: err}
}
