package coordinator

import (
	"time"

	"github.com/notzippy/ucanaccess-code/telemetry"
)

// TxnMetrics records the telemetry of one transaction: the open-transaction
// gauge while it runs and its outcome when it ends.
type TxnMetrics struct {
	explicit  bool
	startTime time.Time
	done      bool
}

// NewTxnMetrics starts recording a transaction. Explicit transactions,
// opened by Begin, count towards the active transaction gauge.
func NewTxnMetrics(explicit bool) *TxnMetrics {
	if explicit {
		telemetry.ActiveTransactions.Inc()
	}
	return &TxnMetrics{
		explicit:  explicit,
		startTime: time.Now(),
	}
}

// RecordFailure records a failed transaction with the specified result label
// and returns err unchanged.
// Common results: "rollback", "sync_failed", "compensation_failed"
func (m *TxnMetrics) RecordFailure(result string, err error) error {
	m.finish(result)
	return err
}

// RecordSuccess records a committed transaction.
// Returns nil for convenient use in return statements.
func (m *TxnMetrics) RecordSuccess() error {
	m.finish("commit")
	return nil
}

// Duration is the time since the transaction started.
func (m *TxnMetrics) Duration() time.Duration {
	return time.Since(m.startTime)
}

func (m *TxnMetrics) finish(result string) {
	if m.done {
		return
	}
	m.done = true
	if m.explicit {
		telemetry.ActiveTransactions.Dec()
	}
	telemetry.TxnTotal.With(result).Inc()
}
