package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/rowbatch"
	"github.com/dtaas-io/engine/pkg/source"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

type fakeSource struct {
	rowCount    int64
	columns     []rowbatch.ColumnSpec
	batches     [][]any // one row per inner slice; served across calls by offset
	readErr     error
	cdcRows     *rowbatch.Batch
	cdcCursor   string
	cdcErr      error
	readCalls   int
}

func (f *fakeSource) Connect(context.Context) error    { return nil }
func (f *fakeSource) Disconnect(context.Context) error { return nil }
func (f *fakeSource) ListTables(context.Context, string) ([]source.TableInfo, error) {
	return nil, nil
}
func (f *fakeSource) Columns(context.Context, string, string) ([]rowbatch.ColumnSpec, error) {
	return f.columns, nil
}
func (f *fakeSource) RowCount(context.Context, string, string) (int64, error) {
	return f.rowCount, nil
}
func (f *fakeSource) ReadBatch(_ context.Context, _, _ string, limit, offset int) (*rowbatch.Batch, error) {
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	b := rowbatch.New(f.columns)
	for i := offset; i < offset+limit && i < len(f.batches); i++ {
		b.Rows = append(b.Rows, f.batches[i])
	}
	return b, nil
}
func (f *fakeSource) CDCEnabled(context.Context, string, string) (bool, error) { return true, nil }
func (f *fakeSource) EnableCDC(context.Context, string, string) error         { return nil }
func (f *fakeSource) ReadCDC(_ context.Context, _, _ string, _ string) (*rowbatch.Batch, string, error) {
	if f.cdcErr != nil {
		return nil, "", f.cdcErr
	}
	return f.cdcRows, f.cdcCursor, nil
}

type fakeDest struct {
	exists      bool
	created     []rowbatch.ColumnSpec
	written     []*rowbatch.Batch
	writeErr    error
	cleanups    int
	failWrites  int // fail this many Write calls before succeeding
	drifted     []rowbatch.ColumnSpec
}

func (f *fakeDest) Connect(context.Context) error    { return nil }
func (f *fakeDest) Disconnect(context.Context) error { return nil }
func (f *fakeDest) TableExists(context.Context, string) (bool, error) {
	return f.exists, nil
}
func (f *fakeDest) CreateTable(_ context.Context, _ string, cols []rowbatch.ColumnSpec) error {
	f.created = cols
	f.exists = true
	return nil
}
func (f *fakeDest) SchemaOf(context.Context, string) ([]rowbatch.ColumnSpec, error) {
	return f.created, nil
}
func (f *fakeDest) ApplySchemaDrift(_ context.Context, _ string, cols []rowbatch.ColumnSpec) error {
	f.drifted = cols
	return nil
}
func (f *fakeDest) Write(_ context.Context, b *rowbatch.Batch, _ string, _ destination.WriteMode, _ destination.WriteOptions) (destination.WriteResult, error) {
	if f.failWrites > 0 {
		f.failWrites--
		return destination.WriteResult{}, f.writeErr
	}
	f.written = append(f.written, b)
	return destination.WriteResult{RowsWritten: int64(b.Len())}, nil
}
func (f *fakeDest) CleanupPartial(context.Context, string) error {
	f.cleanups++
	return nil
}

type fakeCursors struct {
	loaded string
	saved  string
}

func (f *fakeCursors) Lock(context.Context, int64, string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

func (f *fakeCursors) LoadCursor(context.Context, int64, string) (string, error) {
	return f.loaded, nil
}
func (f *fakeCursors) SaveCursor(_ context.Context, _ int64, _ string, cursor string) error {
	f.saved = cursor
	return nil
}

type instantClock struct{ slept int }

func (c *instantClock) Sleep(time.Duration) { c.slept++ }

func cols() []rowbatch.ColumnSpec {
	return []rowbatch.ColumnSpec{{Name: "id", Type: "int64", IsPrimaryKey: true}, {Name: "name", Type: "string"}}
}

func TestRunFullLoadSuccessCreatesTableAndCopiesAllRows(t *testing.T) {
	src := &fakeSource{rowCount: 3, columns: cols(), batches: [][]any{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}}}
	dst := &fakeDest{}
	tbl := &Table{
		Source: src, Dest: dst, Schema: "dbo", Table: "orders", DestName: "orders",
		Batch: model.BatchPolicy{BatchRows: 2},
	}
	exec := tbl.RunFullLoad(context.Background())

	assert.Equal(t, model.ExecSuccess, exec.Status)
	assert.EqualValues(t, 3, exec.ProcessedRows)
	assert.True(t, dst.exists)
	require.Len(t, dst.written, 2) // two batches of size 2 and 1
}

func TestRunFullLoadZeroRowsStillCreatesDestination(t *testing.T) {
	src := &fakeSource{rowCount: 0, columns: cols()}
	dst := &fakeDest{}
	tbl := &Table{Source: src, Dest: dst, Schema: "dbo", Table: "empty", DestName: "empty", Batch: model.BatchPolicy{BatchRows: 100}}

	exec := tbl.RunFullLoad(context.Background())

	assert.Equal(t, model.ExecSuccess, exec.Status)
	assert.EqualValues(t, 0, exec.TotalRows)
	assert.True(t, dst.exists)
}

func TestRunFullLoadRetriesOnRetryableErrorThenFails(t *testing.T) {
	src := &fakeSource{rowCount: 2, columns: cols(), batches: [][]any{{int64(1), "a"}, {int64(2), "b"}}}
	dst := &fakeDest{writeErr: storeerr.New(storeerr.KindWriteError, errors.New("disk full")), failWrites: 99}
	clk := &instantClock{}
	tbl := &Table{
		Source: src, Dest: dst, Schema: "dbo", Table: "orders", DestName: "orders",
		Batch: model.BatchPolicy{BatchRows: 2},
		Retry: model.RetryPolicy{Enabled: true, MaxRetries: 2, CleanupOnRetry: true},
		Clock: clk,
	}
	exec := tbl.RunFullLoad(context.Background())

	assert.Equal(t, model.ExecFailed, exec.Status)
	assert.Equal(t, 2, exec.RetryCount)
	assert.Equal(t, 2, dst.cleanups)
	assert.Equal(t, 2, clk.slept)
}

func TestRunFullLoadStoppedOnCancelledContext(t *testing.T) {
	src := &fakeSource{rowCount: 10, columns: cols(), batches: make([][]any, 10)}
	for i := range src.batches {
		src.batches[i] = []any{int64(i), "x"}
	}
	dst := &fakeDest{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tbl := &Table{Source: src, Dest: dst, Schema: "dbo", Table: "t", DestName: "t", Batch: model.BatchPolicy{BatchRows: 2}}

	exec := tbl.RunFullLoad(ctx)

	assert.Equal(t, model.ExecStopped, exec.Status)
}

func TestRunFullLoadAppliesSchemaDriftWhenEnabled(t *testing.T) {
	src := &fakeSource{rowCount: 0, columns: append(cols(), rowbatch.ColumnSpec{Name: "new_col", Type: "string"})}
	dst := &fakeDest{exists: true, created: cols()}
	tbl := &Table{Source: src, Dest: dst, Schema: "dbo", Table: "t", DestName: "t", DriftOK: true, Batch: model.BatchPolicy{BatchRows: 10}}

	exec := tbl.RunFullLoad(context.Background())

	assert.Equal(t, model.ExecSuccess, exec.Status)
	require.Len(t, dst.drifted, 3)
	assert.Equal(t, "new_col", dst.drifted[2].Name)
}

func TestRunCDCEmptyBatchIsNoOpAndDoesNotAdvanceCursor(t *testing.T) {
	src := &fakeSource{cdcRows: rowbatch.New(cols()), cdcCursor: "0xdead"}
	dst := &fakeDest{}
	cur := &fakeCursors{loaded: "0xbeef"}
	tbl := &Table{Source: src, Dest: dst, Cursors: cur, Schema: "dbo", Table: "t", DestName: "t"}

	exec := tbl.RunCDC(context.Background())

	assert.Equal(t, model.ExecSuccess, exec.Status)
	assert.Empty(t, cur.saved)
}

func TestRunCDCPersistsCursorOnlyAfterWriteCommits(t *testing.T) {
	rows := rowbatch.New(cols())
	rows.Rows = append(rows.Rows, []any{int64(1), "a"})
	src := &fakeSource{cdcRows: rows, cdcCursor: "0xabc123"}
	dst := &fakeDest{}
	cur := &fakeCursors{loaded: "0x0"}
	tbl := &Table{Source: src, Dest: dst, Cursors: cur, Schema: "dbo", Table: "t", DestName: "t"}

	exec := tbl.RunCDC(context.Background())

	assert.Equal(t, model.ExecSuccess, exec.Status)
	assert.Equal(t, "0xabc123", cur.saved)
	assert.EqualValues(t, 1, exec.ProcessedRows)
}

func TestRunCDCWriteFailureDoesNotPersistCursor(t *testing.T) {
	rows := rowbatch.New(cols())
	rows.Rows = append(rows.Rows, []any{int64(1), "a"})
	src := &fakeSource{cdcRows: rows, cdcCursor: "0xabc123"}
	dst := &fakeDest{writeErr: errors.New("boom"), failWrites: 1}
	cur := &fakeCursors{loaded: "0x0"}
	tbl := &Table{Source: src, Dest: dst, Cursors: cur, Schema: "dbo", Table: "t", DestName: "t"}

	exec := tbl.RunCDC(context.Background())

	assert.Equal(t, model.ExecFailed, exec.Status)
	assert.Empty(t, cur.saved)
}
