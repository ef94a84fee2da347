// Package pipeline implements the Table Pipeline (C5, spec §4.5): a
// per-table state machine running full_load or execute_cdc, with in-place
// retries. It is grounded on the teacher's pkg/migration/runner.go, which
// drives a single DDL migration through a fixed state sequence
// (stateCopyRows, stateApplyChangeset, ...) with a checkpoint loop and a
// current-state field read/written atomically; here the same shape drives
// one table through extract/transform/load instead of one DDL change
// through copy/checksum/cutover.
package pipeline

import (
	"context"
	"time"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/metrics"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/progress"
	"github.com/dtaas-io/engine/pkg/source"
	"github.com/dtaas-io/engine/pkg/storeerr"
	"github.com/dtaas-io/engine/pkg/transform"
)

// state mirrors the teacher's migrationState: a small, named progression
// through one table's work. It is a plain field, written only by the
// goroutine running the Table and not read concurrently.
type state int32

const (
	stateReadCount state = iota
	stateReconcileSchema
	stateCopyBatches
	stateSuccess
	stateFailed
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateReadCount:
		return "read_count"
	case stateReconcileSchema:
		return "reconcile_schema"
	case stateCopyBatches:
		return "copy_batches"
	case stateSuccess:
		return "success"
	case stateFailed:
		return "failed"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Clock abstracts time.Sleep for retry-delay tests.
type Clock interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// CursorStore persists and retrieves the last successfully-written CDC
// cursor for one table. Implementations must serialize concurrent access
// per (taskID, table) — spec §5 names this as a shared-resource lock the
// Store layer owns.
type CursorStore interface {
	LoadCursor(ctx context.Context, taskID int64, table string) (string, error)
	SaveCursor(ctx context.Context, taskID int64, table string, cursor string) error

	// Lock, and the unlock func it returns, bracket one CDC poll's full
	// read-modify-write span (LoadCursor, ReadCDC, transform, Write,
	// SaveCursor) so two pollers for the same (taskID, table) never
	// interleave. The returned unlock must be called exactly once for
	// every successful Lock.
	Lock(ctx context.Context, taskID int64, table string) (unlock func(context.Context), err error)
}

// Table drives one table through full_load or execute_cdc. It is
// constructed fresh per TableExecution attempt by the Task Executor (C6),
// which owns the source/destination connections' lifetime.
type Table struct {
	TaskID     int64
	TaskName   string
	Schema     string
	Table      string
	DestName   string // resolved destination table name (TableNameMap applied)
	Source     source.Source
	Dest       destination.Destination
	Transforms []model.TransformSpec
	Resolver   *varResolverAdapter
	Batch      model.BatchPolicy
	Retry      model.RetryPolicy
	DriftOK    bool
	Format     string
	PathTmpl   string

	Progress progress.Sink
	Cursors  CursorStore
	Clock    Clock
	Metrics  metrics.Sink
	Gate     Gate

	exec  model.TableExecution
	state state
}

func (t *Table) metricsSink() metrics.Sink {
	if t.Metrics == nil {
		return metrics.NoopSink{}
	}
	return t.Metrics
}

// Gate is the pause/resume suspension point a Table parks on between
// batches (spec §4.7: "the executor finishes its current batch then
// parks"). *pkg/lifecycle.PauseGate satisfies this structurally.
type Gate interface {
	Park(ctx context.Context) error
}

func (t *Table) park(ctx context.Context) error {
	if t.Gate == nil {
		return nil
	}
	return t.Gate.Park(ctx)
}

// varResolverAdapter lets pipeline depend only on the narrow Resolve
// method, matching transform.Resolver, without importing pkg/variable
// (which would make pipeline depend on db connections it never opens).
type varResolverAdapter struct {
	Resolve func(ctx context.Context, template string) string
}

func (a *varResolverAdapter) resolve(ctx context.Context, template string) string {
	if a == nil || a.Resolve == nil {
		return template
	}
	return a.Resolve(ctx, template)
}

// asTransformResolver adapts varResolverAdapter to transform.Resolver.
type asTransformResolver struct{ t *Table }

func (a asTransformResolver) Resolve(ctx context.Context, template string) string {
	return a.t.Resolver.resolve(ctx, template)
}

func batchRows(b model.BatchPolicy) int {
	if b.BatchRows <= 0 {
		return 1000
	}
	return b.BatchRows
}

func newExecution(table string) model.TableExecution {
	now := time.Now()
	return model.TableExecution{Table: table, Status: model.ExecPending, StartedAt: &now}
}

// RunFullLoad executes the full_load algorithm of spec §4.5 against a
// freshly-opened Source/Destination pair, retrying in place up to
// Retry.MaxRetries times. The returned TableExecution always reflects the
// final attempt.
func (t *Table) RunFullLoad(ctx context.Context) model.TableExecution {
	if t.Clock == nil {
		t.Clock = realClock{}
	}
	t.exec = newExecution(t.Table)
	t.exec.Status = model.ExecRunning

	attempt := 0
	for {
		err := t.attemptFullLoad(ctx)
		if err == nil {
			t.finish(model.ExecSuccess, "")
			return t.exec
		}
		if storeerr.Is(err, storeerr.KindStopped) {
			t.finish(model.ExecStopped, err.Error())
			return t.exec
		}
		if !t.Retry.Enabled || !storeerr.Retryable(err) || attempt >= t.Retry.MaxRetries {
			t.finish(model.ExecFailed, err.Error())
			return t.exec
		}
		attempt++
		t.exec.RetryCount = attempt
		now := time.Now()
		t.exec.LastRetryAt = &now
		t.metricsSink().Retry(t.TaskName, t.Table)
		if t.Retry.CleanupOnRetry {
			_ = t.Dest.CleanupPartial(ctx, t.DestName)
		}
		t.Clock.Sleep(t.Retry.RetryDelay)
		t.exec.ProcessedRows = 0
		t.report(ctx)
	}
}

func (t *Table) attemptFullLoad(ctx context.Context) error {
	t.state = stateReadCount
	n, err := t.Source.RowCount(ctx, t.Schema, t.Table)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err).WithTable(t.Table)
	}
	t.exec.TotalRows = uint64(n)

	t.state = stateReconcileSchema
	if err := t.reconcileSchema(ctx); err != nil {
		return err
	}

	t.state = stateCopyBatches
	batch := batchRows(t.Batch)
	for offset := 0; int64(offset) < n || n == 0 && offset == 0; offset += batch {
		if err := checkCancelled(ctx); err != nil {
			return storeerr.New(storeerr.KindStopped, err).WithTable(t.Table)
		}
		if err := t.park(ctx); err != nil {
			return storeerr.New(storeerr.KindStopped, err).WithTable(t.Table)
		}

		rows, err := t.Source.ReadBatch(ctx, t.Schema, t.Table, batch, offset)
		if err != nil {
			return storeerr.New(storeerr.KindConnectionFailed, err).WithTable(t.Table)
		}
		if rows.Len() == 0 {
			break
		}

		batchStart := time.Now()
		transformed, err := transform.Apply(ctx, rows, t.Transforms, asTransformResolver{t})
		if err != nil {
			return err
		}

		result, err := t.Dest.Write(ctx, transformed, t.DestName, destination.ModeAppend, destination.WriteOptions{
			FileFormat:   t.Format,
			PathTemplate: t.PathTmpl,
		})
		if err != nil {
			return storeerr.New(storeerr.KindWriteError, err).WithTable(t.Table)
		}

		t.exec.ProcessedRows += uint64(result.RowsWritten)
		t.metricsSink().RowsWritten(t.TaskName, t.Table, uint64(result.RowsWritten))
		t.metricsSink().BatchDuration(t.TaskName, t.Table, time.Since(batchStart))
		t.report(ctx)

		if n == 0 {
			break
		}
	}
	return nil
}

func (t *Table) reconcileSchema(ctx context.Context) error {
	cols, err := t.Source.Columns(ctx, t.Schema, t.Table)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err).WithTable(t.Table)
	}
	exists, err := t.Dest.TableExists(ctx, t.DestName)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err).WithTable(t.Table)
	}
	if !exists {
		if err := t.Dest.CreateTable(ctx, t.DestName, cols); err != nil {
			return storeerr.New(storeerr.KindWriteError, err).WithTable(t.Table)
		}
		return nil
	}
	if t.DriftOK {
		if err := t.Dest.ApplySchemaDrift(ctx, t.DestName, cols); err != nil {
			return storeerr.New(storeerr.KindSchemaDriftErr, err).WithTable(t.Table)
		}
	}
	return nil
}

// RunCDC executes one execute_cdc pass: read the last cursor, pull
// changes, transform, write, and persist the new cursor only after the
// write commits (spec §4.5 "CDC cursor is persisted only after the
// destination write commits").
func (t *Table) RunCDC(ctx context.Context) model.TableExecution {
	t.exec = newExecution(t.Table)
	t.exec.Status = model.ExecRunning

	unlock, err := t.Cursors.Lock(ctx, t.TaskID, t.Table)
	if err != nil {
		t.finish(model.ExecFailed, err.Error())
		return t.exec
	}
	defer unlock(context.Background())

	cursor, err := t.Cursors.LoadCursor(ctx, t.TaskID, t.Table)
	if err != nil {
		t.finish(model.ExecFailed, err.Error())
		return t.exec
	}

	rows, newCursor, err := t.Source.ReadCDC(ctx, t.Schema, t.Table, cursor)
	if err != nil {
		t.finish(model.ExecFailed, storeerr.New(storeerr.KindConnectionFailed, err).Error())
		return t.exec
	}
	if rows.Len() == 0 {
		t.finish(model.ExecSuccess, "")
		return t.exec
	}

	transformed, err := transform.Apply(ctx, rows, t.Transforms, asTransformResolver{t})
	if err != nil {
		t.finish(model.ExecFailed, err.Error())
		return t.exec
	}

	result, err := t.Dest.Write(ctx, transformed, t.DestName, destination.ModeAppend, destination.WriteOptions{
		FileFormat:   t.Format,
		PathTemplate: t.PathTmpl,
	})
	if err != nil {
		t.finish(model.ExecFailed, storeerr.New(storeerr.KindWriteError, err).Error())
		return t.exec
	}
	t.exec.ProcessedRows = uint64(result.RowsWritten)
	t.metricsSink().RowsWritten(t.TaskName, t.Table, uint64(result.RowsWritten))

	if err := t.Cursors.SaveCursor(ctx, t.TaskID, t.Table, newCursor); err != nil {
		t.finish(model.ExecFailed, err.Error())
		return t.exec
	}

	t.finish(model.ExecSuccess, "")
	return t.exec
}

func (t *Table) finish(status model.ExecutionStatus, errMsg string) {
	now := time.Now()
	t.exec.CompletedAt = &now
	t.exec.Status = status
	t.exec.ErrorMessage = errMsg
	switch status {
	case model.ExecSuccess:
		t.state = stateSuccess
	case model.ExecStopped:
		t.state = stateStopped
	default:
		t.state = stateFailed
	}
	t.report(context.Background())
}

func (t *Table) report(ctx context.Context) {
	if t.Progress == nil {
		return
	}
	t.Progress.ReportTable(t.TaskID, progress.TableSnapshot{
		Table:           t.Table,
		Status:          t.exec.Status,
		TotalRows:       t.exec.TotalRows,
		ProcessedRows:   t.exec.ProcessedRows,
		FailedRows:      t.exec.FailedRows,
		ProgressPercent: t.exec.ProgressPercent(),
		StartedAt:       t.exec.StartedAt,
		CompletedAt:     t.exec.CompletedAt,
	})
}

// checkCancelled reports ctx.Err() if the context has already been
// cancelled, the suspension-point check named in spec §4.5 step 3a.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// NewResolver wraps a function matching variable.Resolver's Resolve method
// so pipeline and its callers don't need to import pkg/variable directly.
func NewResolver(resolve func(ctx context.Context, template string) string) *varResolverAdapter {
	return &varResolverAdapter{Resolve: resolve}
}
