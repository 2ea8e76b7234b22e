// Package coordinator runs client statements against the engine and keeps
// the persistent file in step: each statement is translated, executed, and
// its row changes recorded; a transaction's changes are written back to the
// file when it commits, and undone in the engine if the write-back fails.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notzippy/ucanaccess-code/accessfile"
	"github.com/notzippy/ucanaccess-code/engine"
	"github.com/notzippy/ucanaccess-code/mirror"
	"github.com/notzippy/ucanaccess-code/translate"
	"github.com/notzippy/ucanaccess-code/writeback"
)

// StatementState tracks one statement through the coordinator.
type StatementState uint8

const (
	StateReceived StatementState = iota
	StateTranslated
	StateExecuting
	StateSucceeded
	StateFailed
)

func (s StatementState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateTranslated:
		return "TRANSLATED"
	case StateExecuting:
		return "EXECUTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("StatementState(%d)", uint8(s))
}

// TxnState is the state of the connection's transaction.
type TxnState uint8

const (
	TxnIdle TxnState = iota
	TxnActive
	TxnCommitting
	TxnCommitted
	TxnRollingBack
	TxnRolledBack
)

func (s TxnState) String() string {
	switch s {
	case TxnIdle:
		return "IDLE"
	case TxnActive:
		return "ACTIVE"
	case TxnCommitting:
		return "COMMITTING"
	case TxnCommitted:
		return "COMMITTED"
	case TxnRollingBack:
		return "ROLLING_BACK"
	case TxnRolledBack:
		return "ROLLED_BACK"
	}
	return fmt.Sprintf("TxnState(%d)", uint8(s))
}

var txnSeq atomic.Uint64

// Transaction is the context of one engine transaction: the operations to
// write back and the mirror as it was before any DDL ran.
type Transaction struct {
	ID       uint64
	State    TxnState
	Explicit bool
	Pending  *writeback.Pending

	snapshot *mirror.Mirror
	metrics  *TxnMetrics
}

// Options wires a Coordinator to the connection's collaborators.
type Options struct {
	File       *accessfile.File
	Engine     *engine.Engine
	Mirror     *mirror.Mirror
	Translator *translate.Translator
	// SkipIndexes is passed on when tables are reloaded from the file.
	SkipIndexes bool
	Logger      *zerolog.Logger
}

// Coordinator serializes the statements of one connection.
type Coordinator struct {
	mu sync.Mutex

	file *accessfile.File
	eng  *engine.Engine
	m    *mirror.Mirror
	tr   *translate.Translator
	log  zerolog.Logger

	skipIndexes bool
	autoCommit  bool
	state       StatementState
	txn         *Transaction
	last        TxnState
}

// New returns a coordinator in auto-commit mode.
func New(opts Options) (*Coordinator, error) {
	if opts.File == nil || opts.Engine == nil || opts.Mirror == nil || opts.Translator == nil {
		return nil, errors.New("coordinator needs a file, an engine, a mirror and a translator")
	}
	l := log.Logger
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Coordinator{
		file:        opts.File,
		eng:         opts.Engine,
		m:           opts.Mirror,
		tr:          opts.Translator,
		log:         l.With().Str("component", "coordinator").Logger(),
		skipIndexes: opts.SkipIndexes,
		autoCommit:  true,
	}, nil
}

// Mirror is the connection's schema mirror.
func (c *Coordinator) Mirror() *mirror.Mirror {
	return c.m
}

// StatementState is the state of the last statement.
func (c *Coordinator) StatementState() StatementState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TxnState is the state of the open transaction, or of the last one when
// none is open.
func (c *Coordinator) TxnState() TxnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn != nil {
		return c.txn.State
	}
	return c.last
}

// InTransaction reports whether a transaction is open.
func (c *Coordinator) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txn != nil
}

// AutoCommit reports whether each statement commits on its own.
func (c *Coordinator) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

// SetAutoCommit switches auto-commit mode. Switching it on commits an open
// transaction.
func (c *Coordinator) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && c.txn != nil {
		if err := c.commit(ctx); err != nil {
			return err
		}
	}
	c.autoCommit = on
	return nil
}

// Begin opens an explicit transaction.
func (c *Coordinator) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn != nil {
		return ErrTransactionActive
	}
	_, err := c.begin(ctx, true)
	return err
}

// Commit commits the open transaction: the engine commits first, then the
// recorded operations are written back to the file. A failed write-back is
// compensated in the engine and reported as a *CommitError.
func (c *Coordinator) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn == nil {
		return ErrNoTransaction
	}
	return c.commit(ctx)
}

// Rollback discards the open transaction. The file is not touched.
func (c *Coordinator) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn == nil {
		return ErrNoTransaction
	}
	return c.rollback()
}

// Close rolls back an open transaction.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn == nil {
		return nil
	}
	return c.rollback()
}

func (c *Coordinator) begin(ctx context.Context, explicit bool) (*Transaction, error) {
	if err := c.eng.Begin(ctx); err != nil {
		return nil, err
	}
	txn := &Transaction{
		ID:       txnSeq.Add(1),
		State:    TxnActive,
		Explicit: explicit,
		Pending:  writeback.NewPending(),
		metrics:  NewTxnMetrics(explicit),
	}
	c.txn = txn
	c.log.Debug().Uint64("txn_id", txn.ID).Bool("explicit", explicit).Msg("Transaction started")
	return txn, nil
}

func (c *Coordinator) end(txn *Transaction, state TxnState) {
	txn.State = state
	c.last = state
	c.txn = nil
}

func (c *Coordinator) rollback() error {
	txn := c.txn
	txn.State = TxnRollingBack
	err := c.eng.Rollback()
	if txn.snapshot != nil {
		c.m.Restore(txn.snapshot)
	}
	c.end(txn, TxnRolledBack)
	txn.metrics.RecordFailure("rollback", nil)
	c.log.Debug().Uint64("txn_id", txn.ID).Msg("Transaction rolled back")
	return err
}

func (c *Coordinator) commit(ctx context.Context) error {
	txn := c.txn
	txn.State = TxnCommitting

	if err := c.eng.Commit(); err != nil {
		// The engine refused the commit and rolled back; nothing reached
		// the file.
		if txn.snapshot != nil {
			c.m.Restore(txn.snapshot)
		}
		c.end(txn, TxnRolledBack)
		return txn.metrics.RecordFailure("engine_failed", &ExecutionError{SourceSQL: "COMMIT", TargetSQL: "COMMIT", Err: err})
	}

	ops := txn.Pending.Ops()
	res, err := writeback.Flush(ctx, c.file, c.eng, c.m, ops, writeback.Options{
		TxnID:       txn.ID,
		Expression:  c.tr.Expression,
		SkipIndexes: c.skipIndexes,
		Logger:      &c.log,
	})
	if err != nil {
		var se *writeback.SyncError
		if errors.As(err, &se) && se.Committed {
			c.end(txn, TxnCommitted)
			c.log.Error().Err(err).Uint64("txn_id", txn.ID).Msg("Transaction written to file but engine differs")
			return txn.metrics.RecordFailure("reconcile_failed", &CommitError{TxnID: txn.ID, Sync: err, Committed: true})
		}

		txn.State = TxnRollingBack
		c.log.Warn().Err(err).Uint64("txn_id", txn.ID).Int("operations", len(ops)).Msg("Write-back failed, compensating")
		cerr := c.compensate(ctx, txn, ops)
		c.end(txn, TxnRolledBack)
		if cerr != nil {
			c.log.Error().Err(cerr).Uint64("txn_id", txn.ID).Msg("Compensation failed")
			return txn.metrics.RecordFailure("compensation_failed", &CommitError{TxnID: txn.ID, Sync: err, Compensation: cerr})
		}
		return txn.metrics.RecordFailure("sync_failed", &CommitError{TxnID: txn.ID, Sync: err})
	}

	c.end(txn, TxnCommitted)
	c.log.Debug().Uint64("txn_id", txn.ID).Int("operations", res.Applied).
		Int("renumbered", len(res.Renumbered)).Dur("duration", txn.metrics.Duration()).Msg("Transaction committed")
	return txn.metrics.RecordSuccess()
}
