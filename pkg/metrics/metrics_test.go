package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopSinkNeverPanics(t *testing.T) {
	var s Sink = NoopSink{}
	s.RowsWritten("t", "orders", 10)
	s.RowsFailed("t", "orders", 1)
	s.BatchDuration("t", "orders", time.Second)
	s.Retry("t", "orders")
	s.TaskCompleted("t", "success")
}

func TestPrometheusSinkRecordsRowsWritten(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.RowsWritten("orders-sync", "dbo.orders", 100)
	sink.RowsWritten("orders-sync", "dbo.orders", 50)

	metric := &dto.Metric{}
	require.NoError(t, sink.rowsWritten.WithLabelValues("orders-sync", "dbo.orders").Write(metric))
	assert.Equal(t, float64(150), metric.GetCounter().GetValue())
}

func TestPrometheusSinkRecordsTaskCompletion(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.TaskCompleted("orders-sync", "success")

	metric := &dto.Metric{}
	require.NoError(t, sink.taskCompleted.WithLabelValues("orders-sync", "success").Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
