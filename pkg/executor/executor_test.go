package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/pipeline"
	"github.com/dtaas-io/engine/pkg/rowbatch"
	"github.com/dtaas-io/engine/pkg/source"
)

// stubSource/stubDest implement enough of the interfaces for pipeline.Table
// to run a trivial full load or CDC pass without touching any network.
type stubSource struct{ fail bool }

func (s *stubSource) Connect(context.Context) error    { return nil }
func (s *stubSource) Disconnect(context.Context) error { return nil }
func (s *stubSource) ListTables(context.Context, string) ([]source.TableInfo, error) {
	return nil, nil
}
func (s *stubSource) Columns(context.Context, string, string) ([]rowbatch.ColumnSpec, error) {
	return []rowbatch.ColumnSpec{{Name: "id", Type: "int64"}}, nil
}
func (s *stubSource) RowCount(context.Context, string, string) (int64, error) { return 0, nil }
func (s *stubSource) ReadBatch(context.Context, string, string, int, int) (*rowbatch.Batch, error) {
	return rowbatch.New([]rowbatch.ColumnSpec{{Name: "id", Type: "int64"}}), nil
}
func (s *stubSource) CDCEnabled(context.Context, string, string) (bool, error) { return true, nil }
func (s *stubSource) EnableCDC(context.Context, string, string) error         { return nil }
func (s *stubSource) ReadCDC(context.Context, string, string, string) (*rowbatch.Batch, string, error) {
	if s.fail {
		return nil, "", errors.New("replication error")
	}
	return rowbatch.New([]rowbatch.ColumnSpec{{Name: "id", Type: "int64"}}), "0x1", nil
}

type stubDest struct{ fail bool }

func (d *stubDest) Connect(context.Context) error    { return nil }
func (d *stubDest) Disconnect(context.Context) error { return nil }
func (d *stubDest) TableExists(context.Context, string) (bool, error) { return true, nil }
func (d *stubDest) CreateTable(context.Context, string, []rowbatch.ColumnSpec) error { return nil }
func (d *stubDest) SchemaOf(context.Context, string) ([]rowbatch.ColumnSpec, error) { return nil, nil }
func (d *stubDest) ApplySchemaDrift(context.Context, string, []rowbatch.ColumnSpec) error {
	return nil
}
func (d *stubDest) Write(context.Context, *rowbatch.Batch, string, destination.WriteMode, destination.WriteOptions) (destination.WriteResult, error) {
	if d.fail {
		return destination.WriteResult{}, errors.New("write failed")
	}
	return destination.WriteResult{}, nil
}
func (d *stubDest) CleanupPartial(context.Context, string) error { return nil }

type stubCursors struct{ mu sync.Mutex }

func (c *stubCursors) LoadCursor(context.Context, int64, string) (string, error) { return "", nil }
func (c *stubCursors) SaveCursor(context.Context, int64, string, string) error    { return nil }
func (c *stubCursors) Lock(context.Context, int64, string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

func factory(failTables map[string]bool) TableFactory {
	return func(ctx context.Context, table string) (*pipeline.Table, func(), error) {
		tbl := &pipeline.Table{
			Table: table, Schema: "dbo", DestName: table,
			Source:  &stubSource{fail: failTables[table]},
			Dest:    &stubDest{},
			Cursors: &stubCursors{},
		}
		return tbl, func() {}, nil
	}
}

func TestRunFullLoadSequentialAllSucceed(t *testing.T) {
	task := &model.Task{ID: 1, SourceTables: []string{"dbo.a", "dbo.b"}, ParallelTables: 1}
	exec := &Executor{Task: task, NewTable: factory(nil)}

	texec := exec.RunFullLoad(context.Background())

	assert.Equal(t, model.ExecSuccess, texec.Status)
}

func TestRunSequentialStopsOnFirstFailure(t *testing.T) {
	task := &model.Task{ID: 1, SourceTables: []string{"dbo.a", "dbo.b", "dbo.c"}, ParallelTables: 1}
	var created []string
	var mu sync.Mutex
	base := factory(map[string]bool{"dbo.b": true})
	exec := &Executor{Task: task, NewTable: func(ctx context.Context, table string) (*pipeline.Table, func(), error) {
		mu.Lock()
		created = append(created, table)
		mu.Unlock()
		return base(ctx, table)
	}}

	texec := exec.RunCDCPoll(context.Background())

	assert.Equal(t, model.ExecPartialSuccess, texec.Status)
	assert.Equal(t, []string{"dbo.a", "dbo.b"}, created) // dbo.c never dispatched
}

func TestRunCDCPollParallelAggregatesAllTables(t *testing.T) {
	task := &model.Task{ID: 1, SourceTables: []string{"dbo.a", "dbo.b", "dbo.c"}, ParallelTables: 2}
	exec := &Executor{Task: task, NewTable: factory(nil)}

	texec := exec.RunCDCPoll(context.Background())

	assert.Equal(t, model.ExecSuccess, texec.Status)
}

func TestRunFullLoadThenCDCOnlySkipsCompletedTables(t *testing.T) {
	task := &model.Task{
		ID: 1, SourceTables: []string{"dbo.a", "dbo.b"}, ParallelTables: 1,
		FullLoadCompletedTables: map[string]time.Time{"dbo.a": time.Now()},
	}
	var seen []string
	var mu sync.Mutex
	base := factory(nil)
	exec := &Executor{Task: task, NewTable: func(ctx context.Context, table string) (*pipeline.Table, func(), error) {
		mu.Lock()
		seen = append(seen, table)
		mu.Unlock()
		return base(ctx, table)
	}}

	texec := exec.RunFullLoadThenCDC(context.Background())

	assert.Equal(t, model.ExecSuccess, texec.Status)
	require.Equal(t, []string{"dbo.b"}, seen)
}

func TestNextPollDelayBySchedule(t *testing.T) {
	d, ok := NextPollDelay(&model.Task{Schedule: model.ScheduleContinuous})
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	d, ok = NextPollDelay(&model.Task{Schedule: model.ScheduleInterval, ScheduleIntervalSeconds: 30})
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = NextPollDelay(&model.Task{Schedule: model.ScheduleOnDemand})
	assert.False(t, ok)
}
