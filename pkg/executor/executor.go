// Package executor implements the Task Executor (C6, spec §4.6): it
// drives one TaskExecution across every table a Task names, sequentially
// or with a bounded worker pool, and composes the three transfer modes
// (full_load, cdc, full_load_then_cdc) on top of the Table Pipeline (C5).
//
// The parallel path is grounded on the teacher's use of
// golang.org/x/sync/errgroup in pkg/repl for bounding concurrent work
// against a shared resource; here it bounds concurrent pkg/pipeline.Table
// runs instead of concurrent binlog-subscription callbacks.
package executor

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dtaas-io/engine/pkg/metrics"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/pipeline"
)

// TableFactory builds a pkg/pipeline.Table for one table, opening whatever
// per-worker resources (source/destination connections) that table's run
// needs. The caller must release those resources when release is invoked,
// which happens exactly once, whether the run succeeds, fails, or the
// worker is cancelled mid-batch.
type TableFactory func(ctx context.Context, table string) (tbl *pipeline.Table, release func(), err error)

// Executor drives one Task's executions.
type Executor struct {
	Task        *model.Task
	NewTable    TableFactory
	OnExecution func(model.TaskExecution) // called once the execution completes, for persistence
	Metrics     metrics.Sink
}

func (e *Executor) metricsSink() metrics.Sink {
	if e.Metrics == nil {
		return metrics.NoopSink{}
	}
	return e.Metrics
}

// RunFullLoad runs the full_load algorithm of spec §4.6 for every
// effective table, sequentially if Task.ParallelTables <= 1 or via a
// bounded worker pool of that size otherwise. It stops dispatching new
// tables once a fatal failure occurs, but lets in-flight workers finish
// their current table.
func (e *Executor) RunFullLoad(ctx context.Context) model.TaskExecution {
	tables := e.Task.EffectiveTables()
	texec := model.TaskExecution{TaskID: e.Task.ID, Type: model.ExecFullLoad, Status: model.ExecRunning, StartedAt: time.Now()}

	results := e.runTables(ctx, tables, runFullLoad)
	return e.finalize(texec, tables, results)
}

// RunFullLoadThenCDC implements the full_load_then_cdc composition (spec
// §4.6): only tables absent from full_load_completed_tables are run
// through full_load; the CDC phase (driven separately by a polling loop,
// see RunCDCPoll) then covers every table regardless. Per spec.md §9's
// Open Question resolution, there is no separate delayed execute_task for
// the tables that already completed full load — the CDC loop alone
// continues for them.
func (e *Executor) RunFullLoadThenCDC(ctx context.Context) model.TaskExecution {
	tables := e.Task.NeedsFullLoad()
	texec := model.TaskExecution{TaskID: e.Task.ID, Type: model.ExecFullLoadThenCDC, Status: model.ExecRunning, StartedAt: time.Now()}

	if len(tables) == 0 {
		return e.finalize(texec, tables, nil)
	}
	results := e.runTables(ctx, tables, runFullLoad)
	return e.finalize(texec, tables, results)
}

// RunCDCPoll executes exactly one cdc_sync TaskExecution across every
// effective table, sequentially or in parallel per Task.ParallelTables.
func (e *Executor) RunCDCPoll(ctx context.Context) model.TaskExecution {
	tables := e.Task.EffectiveTables()
	texec := model.TaskExecution{TaskID: e.Task.ID, Type: model.ExecCDCSync, Status: model.ExecRunning, StartedAt: time.Now()}

	results := e.runTables(ctx, tables, runCDC)
	return e.finalize(texec, tables, results)
}

type tableRunner func(ctx context.Context, tbl *pipeline.Table) model.TableExecution

func runFullLoad(ctx context.Context, tbl *pipeline.Table) model.TableExecution { return tbl.RunFullLoad(ctx) }
func runCDC(ctx context.Context, tbl *pipeline.Table) model.TableExecution      { return tbl.RunCDC(ctx) }

// runTables dispatches run across tables with a concurrency bound of
// Task.ParallelTables (1 meaning strictly sequential, per spec §4.6). It
// returns one TableExecution per table that was actually attempted; tables
// skipped because an earlier fatal failure stopped dispatch are
// simply absent from the result, not recorded as failed.
func (e *Executor) runTables(ctx context.Context, tables []string, run tableRunner) []model.TableExecution {
	if len(tables) == 0 {
		return nil
	}
	if e.Task.ParallelTables <= 1 {
		return e.runSequential(ctx, tables, run)
	}
	return e.runParallel(ctx, tables, run)
}

func (e *Executor) runSequential(ctx context.Context, tables []string, run tableRunner) []model.TableExecution {
	var out []model.TableExecution
	for _, name := range tables {
		tbl, release, err := e.NewTable(ctx, name)
		if err != nil {
			out = append(out, model.TableExecution{Table: name, Status: model.ExecFailed, ErrorMessage: err.Error()})
			break
		}
		result := run(ctx, tbl)
		release()
		out = append(out, result)
		if result.Status == model.ExecFailed || result.Status == model.ExecStopped {
			break
		}
	}
	return out
}

// runParallel runs up to Task.ParallelTables tables concurrently. Workers
// already in flight when ctx is cancelled are allowed to finish their
// current call to run (which itself finishes its current batch's write
// before observing cancellation) and report Stopped, matching spec §4.6
// ("workers in flight finish their current batch's write... and exit with
// Stopped").
func (e *Executor) runParallel(ctx context.Context, tables []string, run tableRunner) []model.TableExecution {
	results := make([]model.TableExecution, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Task.ParallelTables)

	for i, name := range tables {
		i, name := i, name
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil // an earlier table failed fatally, or ctx was cancelled
			}
			tbl, release, err := e.NewTable(gctx, name)
			if err != nil {
				results[i] = model.TableExecution{Table: name, Status: model.ExecFailed, ErrorMessage: err.Error()}
				return errTableFailed
			}
			defer release()
			results[i] = run(ctx, tbl)
			if results[i].Status == model.ExecFailed {
				return errTableFailed
			}
			return nil
		})
	}
	_ = g.Wait()
	attempted := results[:0]
	for _, r := range results {
		if r.Table != "" {
			attempted = append(attempted, r)
		}
	}
	return attempted
}

// errTableFailed cancels the errgroup's context so no further tables start.
var errTableFailed = errors.New("table failed")

func (e *Executor) finalize(texec model.TaskExecution, tables []string, results []model.TableExecution) model.TaskExecution {
	now := time.Now()
	texec.CompletedAt = &now
	texec.Status = model.ExecSuccess

	var failedTable *model.TableExecution
	for i := range results {
		r := results[i]
		texec.TotalRows += r.TotalRows
		texec.ProcessedRows += r.ProcessedRows
		texec.FailedRows += r.FailedRows
		switch r.Status {
		case model.ExecFailed:
			if failedTable == nil {
				failedTable = &results[i]
			}
		case model.ExecStopped:
			if texec.Status == model.ExecSuccess {
				texec.Status = model.ExecStopped
			}
		}
	}
	if failedTable != nil {
		if anySucceeded(results) {
			texec.Status = model.ExecPartialSuccess
		} else {
			texec.Status = model.ExecFailed
		}
		texec.ErrorMessage = failedTable.ErrorMessage
		texec.ErrorDetails = &model.ErrorDetails{Table: failedTable.Table, RetryCount: failedTable.RetryCount}
	}

	elapsed := time.Since(texec.StartedAt).Seconds()
	if elapsed > 0 {
		texec.RowsPerSecond = float64(texec.ProcessedRows) / elapsed
	}
	e.metricsSink().TaskCompleted(e.Task.Name, string(texec.Status))
	if e.OnExecution != nil {
		e.OnExecution(texec)
	}
	return texec
}

func anySucceeded(results []model.TableExecution) bool {
	for _, r := range results {
		if r.Status == model.ExecSuccess {
			return true
		}
	}
	return false
}

// NextPollDelay returns the interval before the next CDC poll given the
// task's schedule, per spec §4.6: continuous polls every 10s, interval
// polls every schedule_interval_seconds, on_demand never reschedules
// itself (ok=false).
func NextPollDelay(task *model.Task) (delay time.Duration, ok bool) {
	switch task.Schedule {
	case model.ScheduleContinuous:
		return 10 * time.Second, true
	case model.ScheduleInterval:
		return time.Duration(task.ScheduleIntervalSeconds) * time.Second, true
	default:
		return 0, false
	}
}
