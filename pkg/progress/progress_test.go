package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLogger struct{ warnings []string }

func (f *fakeLogger) Warnf(format string, args ...any) {
	f.warnings = append(f.warnings, format)
}
func (f *fakeLogger) Infof(string, ...any)  {}
func (f *fakeLogger) Errorf(string, ...any) {}
func (f *fakeLogger) Debugf(string, ...any) {}
func (f *fakeLogger) Info(...any)           {}
func (f *fakeLogger) Error(...any)          {}
func (f *fakeLogger) Debug(...any)          {}
func (f *fakeLogger) Warn(...any)           {}
func (f *fakeLogger) Fatal(...any)          {}
func (f *fakeLogger) Fatalf(string, ...any) {}
func (f *fakeLogger) Panic(...any)          {}
func (f *fakeLogger) Panicf(string, ...any) {}
func (f *fakeLogger) Print(...any)          {}
func (f *fakeLogger) Printf(string, ...any) {}
func (f *fakeLogger) Println(...any)        {}

func TestMemSinkWarnfLogsThroughInjectedLogger(t *testing.T) {
	logger := &fakeLogger{}
	s := NewMemSink(nil, logger)

	s.Warnf("variable %q could not resolve, using %q", "db_query.x", "unknown")

	assert.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "could not resolve")
}

func TestMemSinkWarnfWithNilLoggerDoesNotPanic(t *testing.T) {
	s := NewMemSink(nil, nil)
	assert.NotPanics(t, func() { s.Warnf("anything %d", 1) })
}

func TestMemSinkReportTableRetainsLatestSnapshot(t *testing.T) {
	s := NewMemSink(nil, nil)
	s.ReportTable(1, TableSnapshot{Table: "orders", ProcessedRows: 10})
	s.ReportTable(1, TableSnapshot{Table: "orders", ProcessedRows: 20})

	snap := s.Snapshot(1)
	if assert.Len(t, snap.Tables, 1) {
		assert.Equal(t, uint64(20), snap.Tables[0].ProcessedRows)
	}
}
