package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/model"
)

type fakeReader struct {
	tasks []model.Task
	execs map[int64][]model.TaskExecution
}

func (f *fakeReader) ListTasks(ctx context.Context) ([]model.Task, error) {
	return f.tasks, nil
}

func (f *fakeReader) ListTaskExecutions(ctx context.Context, taskID int64, limit int) ([]model.TaskExecution, error) {
	return f.execs[taskID], nil
}

func TestComputeAggregatesTasksByStatus(t *testing.T) {
	r := &fakeReader{tasks: []model.Task{
		{ID: 1, Name: "a", Status: model.StatusRunning},
		{ID: 2, Name: "b", Status: model.StatusRunning},
		{ID: 3, Name: "c", Status: model.StatusFailed},
	}}

	m, err := Compute(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 2, m.TasksByStatus[model.StatusRunning])
	assert.Equal(t, 1, m.TasksByStatus[model.StatusFailed])
}

func TestComputeSumsRowsAcrossExecutions(t *testing.T) {
	r := &fakeReader{
		tasks: []model.Task{{ID: 1, Name: "orders-sync", Status: model.StatusCompleted}},
		execs: map[int64][]model.TaskExecution{
			1: {
				{ProcessedRows: 1000, FailedRows: 2},
				{ProcessedRows: 500, FailedRows: 0},
			},
		},
	}

	m, err := Compute(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalExecutions)
	assert.Equal(t, uint64(1500), m.TotalRowsWritten)
	assert.Equal(t, uint64(2), m.TotalRowsFailed)
	require.Len(t, m.TopTasksByRows, 1)
	assert.Equal(t, "orders-sync", m.TopTasksByRows[0].TaskName)
	assert.Equal(t, uint64(1500), m.TopTasksByRows[0].RowsTotal)
}

func TestComputeRanksTopTasksByRowsDescending(t *testing.T) {
	r := &fakeReader{
		tasks: []model.Task{
			{ID: 1, Name: "small", Status: model.StatusCompleted},
			{ID: 2, Name: "big", Status: model.StatusCompleted},
		},
		execs: map[int64][]model.TaskExecution{
			1: {{ProcessedRows: 10}},
			2: {{ProcessedRows: 10000}},
		},
	}

	m, err := Compute(t.Context(), r)
	require.NoError(t, err)
	require.Len(t, m.TopTasksByRows, 2)
	assert.Equal(t, "big", m.TopTasksByRows[0].TaskName)
	assert.Equal(t, "small", m.TopTasksByRows[1].TaskName)
}

func TestComputeWithNoTasksReturnsZeroValueMetrics(t *testing.T) {
	m, err := Compute(t.Context(), &fakeReader{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.TotalTasks)
	assert.Equal(t, 0, m.TotalExecutions)
	assert.Empty(t, m.TopTasksByRows)
}
