package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTransaction is returned by Commit and Rollback without an open transaction.
var ErrNoTransaction = errors.New("no transaction in progress")

// ErrTransactionActive is returned by Begin while a transaction is open.
var ErrTransactionActive = errors.New("transaction already in progress")

// ErrNotQuery is returned by Query for statements that produce no rows.
var ErrNotQuery = errors.New("statement does not return rows")

// ErrReadOnly is returned for mutations on a read-only connection.
var ErrReadOnly = errors.New("connection is read-only")

// ExecutionError wraps an engine failure with both forms of the statement
// so dialect mapping gaps can be diagnosed.
type ExecutionError struct {
	SourceSQL string
	TargetSQL string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %q (translated %q): %v", e.SourceSQL, e.TargetSQL, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// BatchStatus is the outcome of one batch entry.
type BatchStatus int

const (
	BatchSucceeded BatchStatus = iota
	BatchFailed
	BatchNotExecuted
)

func (s BatchStatus) String() string {
	switch s {
	case BatchSucceeded:
		return "SUCCEEDED"
	case BatchFailed:
		return "FAILED"
	case BatchNotExecuted:
		return "NOT_EXECUTED"
	}
	return fmt.Sprintf("BatchStatus(%d)", int(s))
}

// BatchError reports the entry that stopped a batch. Entries after it were
// not executed.
type BatchError struct {
	Index    int
	Statuses []BatchStatus
	Err      error
}

func (e *BatchError) Error() string {
	skipped := 0
	for _, s := range e.Statuses {
		if s == BatchNotExecuted {
			skipped++
		}
	}
	return fmt.Sprintf("batch entry %d failed (%d not executed): %v", e.Index, skipped, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// CommitError reports a transaction whose write-back failed. Unless
// Committed is set the file is unchanged and the engine's commit was undone
// by compensation, or Compensation says why it could not be.
type CommitError struct {
	TxnID        uint64
	Sync         error
	Compensation error
	// Committed reports that the file holds the transaction even though
	// the engine could not be brought in line with it.
	Committed bool
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit of transaction %d failed: %v", e.TxnID, e.Sync)
	if e.Compensation != nil {
		fmt.Fprintf(&b, "; compensation failed: %v", e.Compensation)
	}
	return b.String()
}

func (e *CommitError) Unwrap() error {
	return e.Sync
}

// Compensated reports whether the engine was restored to its state before
// the transaction.
func (e *CommitError) Compensated() bool {
	return !e.Committed && e.Compensation == nil
}
