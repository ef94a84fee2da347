// Package store defines the persistence boundary named throughout spec
// §3/§6: "Transactions are explicit" replacing "ORM-backed row objects
// shared across workers" (spec §9). Store is a plain interface over the
// five entities; MySQLStore is the only implementation, grounded on the
// teacher's pkg/dbconn connection-pooling conventions and
// go-sql-driver/mysql, the teacher's own driver.
package store

import (
	"context"
	"time"

	"github.com/dtaas-io/engine/pkg/model"
)

// Store is the persistence contract for every control-plane entity named
// in spec §3. Connector rows are read-only here (spec §1: "the connector
// configuration CRUD" is an external collaborator) except for the
// in-use-delete guard, which the core must enforce regardless of who
// calls it.
type Store interface {
	// Connectors.
	GetConnector(ctx context.Context, id int64) (*model.Connector, error)
	ListConnectors(ctx context.Context, kind model.ConnectorKind) ([]model.Connector, error)
	// DeleteConnector fails with storeerr.KindInvariantViolation if any
	// Task still references id (spec §3: "deletion of a referenced
	// connector fails").
	DeleteConnector(ctx context.Context, id int64) error

	// Tasks.
	CreateTask(ctx context.Context, t *model.Task) (int64, error)
	GetTask(ctx context.Context, taskID int64) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	// UpdateDefinition replaces a task's configuration fields (everything
	// but the mutable runtime fields); it is also where table removal
	// prunes cdc_state/full_load_completed_tables (spec §3, via
	// model.Task.Redefine).
	UpdateDefinition(ctx context.Context, t *model.Task) error
	// SetStatus is the single entry point for a task-status transition;
	// spec §4.7 reserves this to the Lifecycle Controller.
	SetStatus(ctx context.Context, taskID int64, status model.TaskStatus, lastRunAt *time.Time) error
	SetProgress(ctx context.Context, taskID int64, percent float64) error
	// DeleteTask cascades to its TaskExecutions and their TableExecutions
	// (spec §3: "The Task owns its executions (cascade delete)").
	DeleteTask(ctx context.Context, taskID int64) error

	// CDC state. Lock bridges the GET_LOCK/RELEASE_LOCK advisory lock
	// bracketing the read-modify-write span (LoadCursor..ReadCDC..Write..
	// SaveCursor); see pkg/pipeline.CursorStore for the full contract.
	LoadCursor(ctx context.Context, taskID int64, table string) (string, error)
	SaveCursor(ctx context.Context, taskID int64, table string, cursor string) error
	MarkFullLoadCompleted(ctx context.Context, taskID int64, table string) error
	Lock(ctx context.Context, taskID int64, table string) (unlock func(context.Context), err error)

	// Executions.
	CreateTaskExecution(ctx context.Context, e *model.TaskExecution) (int64, error)
	UpdateTaskExecution(ctx context.Context, e *model.TaskExecution) error
	ListTaskExecutions(ctx context.Context, taskID int64, limit int) ([]model.TaskExecution, error)
	CreateTableExecution(ctx context.Context, e *model.TableExecution) (int64, error)
	UpdateTableExecution(ctx context.Context, e *model.TableExecution) error
	ListTableExecutions(ctx context.Context, taskExecID int64) ([]model.TableExecution, error)

	// Global variables (spec §4.3).
	ListActiveGlobalVariables(ctx context.Context) ([]model.GlobalVariable, error)
}
