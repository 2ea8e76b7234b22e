package telemetry

import "sync"

// Histogram bucket definitions for different latency profiles
var (
	// StatementBuckets for statements executed on the embedded engine
	StatementBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// FlushBuckets for write-back of one transaction into the file
	FlushBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// LockWaitBuckets for waiting on the exclusive file lock
	LockWaitBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}
)

// Translation Metrics
var (
	// StatementsTranslated counts translations by statement kind
	StatementsTranslated CounterVec = noopCounterVec{}

	// TranslationCacheHits counts translations served from the cache
	TranslationCacheHits Counter = NoopStat{}

	// TranslationFailures counts statements rejected by the translator
	TranslationFailures CounterVec = noopCounterVec{}
)

// Execution Metrics
var (
	// StatementsExecuted counts statements by kind and result (success, failed)
	StatementsExecuted CounterVec = noopCounterVec{}

	// StatementDurationSeconds measures engine execution latency by kind
	StatementDurationSeconds HistogramVec = noopHistogramVec{}

	// ActiveTransactions tracks explicit transactions currently open
	ActiveTransactions Gauge = NoopStat{}

	// TxnTotal counts transaction outcomes (committed, rolled_back, failed)
	TxnTotal CounterVec = noopCounterVec{}
)

// Write-back Metrics
var (
	// SyncOperationsFlushed counts operations written to the file by op
	SyncOperationsFlushed CounterVec = noopCounterVec{}

	// FlushDurationSeconds measures one transaction's write-back
	FlushDurationSeconds Histogram = NoopStat{}

	// FlushFailures counts failed write-backs by reason
	FlushFailures CounterVec = noopCounterVec{}

	// AutonumberRenumbers counts engine rows renumbered to the file's allocation
	AutonumberRenumbers Counter = NoopStat{}

	// LockWaitSeconds measures time waiting for the exclusive file lock
	LockWaitSeconds Histogram = NoopStat{}

	// Compensations counts compensation runs after failed write-back by result
	Compensations CounterVec = noopCounterVec{}
)

// Mirror Metrics
var (
	// TablesImported counts tables mirrored on open or resync
	TablesImported Counter = NoopStat{}

	// RowsImported counts rows loaded into the engine
	RowsImported Counter = NoopStat{}

	// OpenConnections tracks connections currently open
	OpenConnections Gauge = NoopStat{}
)

var initOnce sync.Once

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry(); later calls are no-ops.
func InitMetrics() {
	if registry == nil {
		return
	}
	initOnce.Do(initMetrics)
}

func initMetrics() {
	// Translation Metrics
	StatementsTranslated = NewCounterVec(
		"statements_translated_total",
		"Statements translated by kind",
		[]string{"kind"},
	)
	TranslationCacheHits = NewCounter(
		"translation_cache_hits_total",
		"Translations served from cache",
	)
	TranslationFailures = NewCounterVec(
		"translation_failures_total",
		"Statements rejected by the translator by error type",
		[]string{"type"},
	)

	// Execution Metrics
	StatementsExecuted = NewCounterVec(
		"statements_executed_total",
		"Statements executed by kind and result",
		[]string{"kind", "result"},
	)
	StatementDurationSeconds = NewHistogramVec(
		"statement_duration_seconds",
		"Engine execution duration in seconds",
		[]string{"kind"},
		StatementBuckets,
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Number of explicit transactions currently open",
	)
	TxnTotal = NewCounterVec(
		"txn_total",
		"Transactions by result",
		[]string{"result"},
	)

	// Write-back Metrics
	SyncOperationsFlushed = NewCounterVec(
		"sync_operations_flushed_total",
		"Operations written back to the file by op",
		[]string{"op"},
	)
	FlushDurationSeconds = NewHistogramWithBuckets(
		"flush_duration_seconds",
		"Write-back duration in seconds",
		FlushBuckets,
	)
	FlushFailures = NewCounterVec(
		"flush_failures_total",
		"Failed write-backs by reason",
		[]string{"reason"},
	)
	AutonumberRenumbers = NewCounter(
		"autonumber_renumbers_total",
		"Engine rows renumbered to the file allocator",
	)
	LockWaitSeconds = NewHistogramWithBuckets(
		"lock_wait_seconds",
		"Time waiting for the exclusive file lock in seconds",
		LockWaitBuckets,
	)
	Compensations = NewCounterVec(
		"compensations_total",
		"Compensations after failed write-back by result",
		[]string{"result"},
	)

	// Mirror Metrics
	TablesImported = NewCounter(
		"tables_imported_total",
		"Tables mirrored into the engine",
	)
	RowsImported = NewCounter(
		"rows_imported_total",
		"Rows loaded into the engine",
	)
	OpenConnections = NewGauge(
		"open_connections",
		"Number of open connections",
	)
}
