// Package dashboard computes the aggregate read model behind a
// GET /dashboard/metrics-shaped endpoint (spec §6): task counts by status
// and total rows transferred over each task's most recent executions (at
// most executionsPerTask per task; older executions are not counted). It is a
// thin read-only consumer of pkg/store, with no transport of its own, the
// same split pkg/progress draws between the ProgressSink contract and
// whatever broadcaster a caller wires in.
package dashboard

import (
	"context"
	"sort"

	"github.com/dtaas-io/engine/pkg/model"
)

// TaskReader is the narrow slice of Store dashboard needs: list every task
// and its recent executions. Matched structurally by *store.MySQLStore.
type TaskReader interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListTaskExecutions(ctx context.Context, taskID int64, limit int) ([]model.TaskExecution, error)
}

// Metrics is the aggregate snapshot returned by Compute.
type Metrics struct {
	TotalTasks       int
	TasksByStatus    map[model.TaskStatus]int
	TotalExecutions  int
	TotalRowsWritten uint64
	TotalRowsFailed  uint64
	TopTasksByRows   []TaskRows
}

// TaskRows is one task's row count over its most recent executions (at
// most executionsPerTask), used to rank TopTasksByRows.
type TaskRows struct {
	TaskID    int64
	TaskName  string
	RowsTotal uint64
}

// executionsPerTask bounds how many recent executions Compute reads per
// task. Every total in Metrics sums only these executions; a task's older
// executions are not counted.
const executionsPerTask = 100

// Compute reads every task and its recent executions from r and folds them
// into a Metrics snapshot. It makes no attempt at a point-in-time
// consistent read across tasks — spec §6 describes this endpoint as a
// polled aggregate, not a transactional one.
func Compute(ctx context.Context, r TaskReader) (Metrics, error) {
	tasks, err := r.ListTasks(ctx)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		TotalTasks:    len(tasks),
		TasksByStatus: make(map[model.TaskStatus]int),
	}

	rowsByTask := make([]TaskRows, 0, len(tasks))
	for _, task := range tasks {
		m.TasksByStatus[task.Status]++

		execs, err := r.ListTaskExecutions(ctx, task.ID, executionsPerTask)
		if err != nil {
			return Metrics{}, err
		}
		var taskRows uint64
		for _, e := range execs {
			m.TotalExecutions++
			m.TotalRowsWritten += e.ProcessedRows
			m.TotalRowsFailed += e.FailedRows
			taskRows += e.ProcessedRows
		}
		rowsByTask = append(rowsByTask, TaskRows{TaskID: task.ID, TaskName: task.Name, RowsTotal: taskRows})
	}

	sort.Slice(rowsByTask, func(i, j int) bool { return rowsByTask[i].RowsTotal > rowsByTask[j].RowsTotal })
	if len(rowsByTask) > 10 {
		rowsByTask = rowsByTask[:10]
	}
	m.TopTasksByRows = rowsByTask

	return m, nil
}
