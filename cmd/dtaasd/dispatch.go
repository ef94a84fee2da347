package main

import (
	"context"
	"strconv"
	"time"

	"github.com/siddontang/loggers"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/executor"
	"github.com/dtaas-io/engine/pkg/lifecycle"
	"github.com/dtaas-io/engine/pkg/metrics"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/pipeline"
	"github.com/dtaas-io/engine/pkg/progress"
	"github.com/dtaas-io/engine/pkg/source"
	"github.com/dtaas-io/engine/pkg/store"
	"github.com/dtaas-io/engine/pkg/variable"
)

// engine wires the Store, ProgressSink and Metrics Sink a Dispatch needs to
// drive a task through the Task Executor (C6) and Table Pipeline (C5).
type engine struct {
	Store    *store.MySQLStore
	Progress progress.Sink
	Metrics  metrics.Sink
	Logger   loggers.Advanced
	Ctrl     *lifecycle.Controller // set once by main after construction
}

// dispatch implements lifecycle.Dispatch: it opens the task's source and
// destination connectors once, drives the composed transfer mode to
// completion (or until ctx is cancelled), persists every TaskExecution/
// TableExecution, and reports the task's terminal status back through the
// Controller when the run ends on its own rather than via Stop.
func (e *engine) dispatch(ctx context.Context, task *model.Task, gate *lifecycle.PauseGate) {
	srcConn, err := e.Store.GetConnector(ctx, task.SourceConnectorID)
	if err != nil {
		e.fail(ctx, task, err)
		return
	}
	dstConn, err := e.Store.GetConnector(ctx, task.DestinationConnectorID)
	if err != nil {
		e.fail(ctx, task, err)
		return
	}

	src, err := buildSource(*srcConn, e.Logger)
	if err != nil {
		e.fail(ctx, task, err)
		return
	}
	dst, err := buildDestination(*dstConn, string(srcConn.Variant))
	if err != nil {
		e.fail(ctx, task, err)
		return
	}
	if err := src.Connect(ctx); err != nil {
		e.fail(ctx, task, err)
		return
	}
	defer func() { _ = src.Disconnect(context.Background()) }()
	if err := dst.Connect(ctx); err != nil {
		e.fail(ctx, task, err)
		return
	}
	defer func() { _ = dst.Disconnect(context.Background()) }()

	globals, err := e.Store.ListActiveGlobalVariables(ctx)
	if err != nil {
		e.fail(ctx, task, err)
		return
	}

	exec := &executor.Executor{
		Task:    task,
		Metrics: e.Metrics,
		NewTable: func(ctx context.Context, table string) (*pipeline.Table, func(), error) {
			return e.newTable(task, table, src, dst, srcConn, globals, gate), func() {}, nil
		},
		OnExecution: func(texec model.TaskExecution) {
			e.persistExecution(context.Background(), task.ID, texec)
		},
	}

	for {
		if err := gate.Park(ctx); err != nil {
			return
		}
		switch task.Mode {
		case model.ModeFullLoad:
			texec := exec.RunFullLoad(ctx)
			e.finishRun(ctx, task, texec)
			return
		case model.ModeFullLoadThenCDC:
			if len(task.NeedsFullLoad()) > 0 {
				texec := exec.RunFullLoadThenCDC(ctx)
				if texec.Status != model.ExecSuccess {
					e.finishRun(ctx, task, texec)
					return
				}
				e.markCompletedTables(ctx, task)
			}
			if !e.pollLoop(ctx, task, gate, exec) {
				return
			}
		case model.ModeCDC:
			if !e.pollLoop(ctx, task, gate, exec) {
				return
			}
		}
		if task.Schedule == model.ScheduleOnDemand {
			return
		}
	}
}

// pollLoop runs CDC polls until ctx is cancelled or the schedule says not
// to reschedule (on_demand). It returns false when dispatch should stop
// entirely (ctx cancelled, or a poll failed and the task was marked
// finished), true when the caller's own loop should decide what happens
// next (on_demand, after its terminal status has been reported, falls
// through to its terminal check).
func (e *engine) pollLoop(ctx context.Context, task *model.Task, gate *lifecycle.PauseGate, exec *executor.Executor) bool {
	for {
		if err := gate.Park(ctx); err != nil {
			return false
		}
		texec := exec.RunCDCPoll(ctx)
		if texec.Status == model.ExecFailed {
			e.finishRun(ctx, task, texec)
			return false
		}
		delay, ok := executor.NextPollDelay(task)
		if !ok {
			e.finishRun(ctx, task, texec)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

func (e *engine) newTable(task *model.Task, table string, src source.Source, dst destination.Destination, srcConn *model.Connector, globals []model.GlobalVariable, gate *lifecycle.PauseGate) *pipeline.Table {
	schema, tableName := splitTable(table)
	destName := table
	if mapped, ok := task.Destination.TableNameMap[table]; ok {
		destName = mapped
	}

	varCtx := variable.Context{
		SourceDatabaseName: schema,
		TableName:          tableName,
		TaskName:           task.Name,
		TaskID:             strconv.FormatInt(task.ID, 10),
		ConnectorName:      srcConn.Name,
		Server:             srcConn.Name,
	}
	resolver := variable.New(varCtx, globals, nil, auxConnOpener{driverName: driverNameFor(srcConn.Variant), logger: e.Logger}, quoteIdentFor(srcConn.Variant), e.Progress)

	return &pipeline.Table{
		TaskID:     task.ID,
		TaskName:   task.Name,
		Schema:     schema,
		Table:      tableName,
		DestName:   destName,
		Source:     src,
		Dest:       dst,
		Transforms: task.TransformsFor(table, nil),
		Resolver:   pipeline.NewResolver(resolver.Resolve),
		Batch:      task.Batch,
		Retry:      task.Retry,
		DriftOK:    task.HandleSchemaDrift,
		Format:     task.Destination.FileFormat,
		PathTmpl:   task.Destination.PathTemplate,
		Progress:   e.Progress,
		Cursors:    e.Store,
		Metrics:    e.Metrics,
		Gate:       gate,
	}
}

func (e *engine) markCompletedTables(ctx context.Context, task *model.Task) {
	for _, table := range task.NeedsFullLoad() {
		_ = e.Store.MarkFullLoadCompleted(ctx, task.ID, table)
		if task.FullLoadCompletedTables == nil {
			task.FullLoadCompletedTables = make(map[string]time.Time)
		}
		task.FullLoadCompletedTables[table] = time.Now()
	}
}

func (e *engine) persistExecution(ctx context.Context, taskID int64, texec model.TaskExecution) {
	texec.TaskID = taskID
	if texec.ID == 0 {
		id, err := e.Store.CreateTaskExecution(ctx, &texec)
		if err != nil {
			e.Logger.Errorf("persist task execution for task %d: %v", taskID, err)
			return
		}
		texec.ID = id
		return
	}
	if err := e.Store.UpdateTaskExecution(ctx, &texec); err != nil {
		e.Logger.Errorf("update task execution %d: %v", texec.ID, err)
	}
}

func (e *engine) finishRun(ctx context.Context, task *model.Task, texec model.TaskExecution) {
	if texec.Status == model.ExecStopped || ctx.Err() != nil {
		return // ended via Stop, which has already recorded the status
	}
	status := model.StatusCompleted
	switch texec.Status {
	case model.ExecFailed, model.ExecPartialSuccess:
		// A partially-failed run (some tables succeeded, one failed
		// fatally) is not a clean completion: surface it the same way a
		// fully-failed run is, rather than hiding the failed table behind
		// StatusCompleted.
		status = model.StatusFailed
	}
	if e.Ctrl != nil {
		_ = e.Ctrl.MarkFinished(ctx, task.ID, status)
	}
}

func (e *engine) fail(ctx context.Context, task *model.Task, err error) {
	e.Logger.Errorf("task %d dispatch failed: %v", task.ID, err)
	if e.Ctrl != nil {
		_ = e.Ctrl.MarkFinished(ctx, task.ID, model.StatusFailed)
	}
}

