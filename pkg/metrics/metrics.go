// Package metrics defines the Sink contract used by pkg/pipeline and
// pkg/executor to emit counters and timings as each table runs, and a
// Prometheus-backed implementation of it. Grounded on the teacher's own
// pkg/metrics.Sink/NoopSink (referenced from pkg/migration/runner.go's
// SetMetricsSink), generalized from one migration's chunk metrics to one
// task's per-table transfer metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives per-table events as a TablePipeline runs. Implementations
// must be safe for concurrent use: the executor's parallel path dispatches multiple tables
// of the same task onto the same Sink at once.
type Sink interface {
	RowsWritten(taskName, table string, n uint64)
	RowsFailed(taskName, table string, n uint64)
	BatchDuration(taskName, table string, d time.Duration)
	Retry(taskName, table string)
	TaskCompleted(taskName string, status string)
}

// NoopSink discards every event. It is the default Sink so callers that
// don't care about metrics never need a nil check.
type NoopSink struct{}

func (NoopSink) RowsWritten(string, string, uint64)       {}
func (NoopSink) RowsFailed(string, string, uint64)        {}
func (NoopSink) BatchDuration(string, string, time.Duration) {}
func (NoopSink) Retry(string, string)                     {}
func (NoopSink) TaskCompleted(string, string)             {}

var taskTableLabels = []string{"task", "table"}

// PrometheusSink registers a fixed set of counters and histograms with reg
// and reports into them. Constructing more than one PrometheusSink against
// the same registry panics (promauto.With re-registers on every call), so
// callers should build exactly one at process startup.
type PrometheusSink struct {
	rowsWritten    *prometheus.CounterVec
	rowsFailed     *prometheus.CounterVec
	batchDurations *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	taskCompleted  *prometheus.CounterVec
}

// NewPrometheusSink registers its metrics with reg and returns a Sink
// backed by them.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		rowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtaas_rows_written_total",
			Help: "rows successfully written to the destination, per task and table",
		}, taskTableLabels),
		rowsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtaas_rows_failed_total",
			Help: "rows that failed to write, per task and table",
		}, taskTableLabels),
		batchDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dtaas_batch_duration_seconds",
			Help:    "time to extract, transform and write one batch",
			Buckets: prometheus.DefBuckets,
		}, taskTableLabels),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtaas_table_retries_total",
			Help: "number of in-place retries of a table's full load",
		}, taskTableLabels),
		taskCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dtaas_task_executions_total",
			Help: "completed task executions by final status",
		}, []string{"task", "status"}),
	}
}

func (s *PrometheusSink) RowsWritten(taskName, table string, n uint64) {
	s.rowsWritten.WithLabelValues(taskName, table).Add(float64(n))
}

func (s *PrometheusSink) RowsFailed(taskName, table string, n uint64) {
	s.rowsFailed.WithLabelValues(taskName, table).Add(float64(n))
}

func (s *PrometheusSink) BatchDuration(taskName, table string, d time.Duration) {
	s.batchDurations.WithLabelValues(taskName, table).Observe(d.Seconds())
}

func (s *PrometheusSink) Retry(taskName, table string) {
	s.retries.WithLabelValues(taskName, table).Inc()
}

func (s *PrometheusSink) TaskCompleted(taskName, status string) {
	s.taskCompleted.WithLabelValues(taskName, status).Inc()
}
