// Package model holds the plain value records of the DTaaS data model
// (spec §3). These are never ORM-backed row objects (spec §9): every
// method here is a pure function over the struct, and persistence is the
// separate responsibility of pkg/store.
package model

import "time"

// ConnectorKind distinguishes a source connector from a destination one.
type ConnectorKind string

const (
	ConnectorSource      ConnectorKind = "source"
	ConnectorDestination ConnectorKind = "destination"
)

// ConnectorVariant names one of the supported source or destination
// implementations (spec §4.1, §4.2).
type ConnectorVariant string

const (
	VariantSQLServer  ConnectorVariant = "sql_server"
	VariantPostgreSQL ConnectorVariant = "postgresql"
	VariantMySQL      ConnectorVariant = "mysql"
	VariantOracle     ConnectorVariant = "oracle"
	VariantSnowflake  ConnectorVariant = "snowflake"
	VariantS3         ConnectorVariant = "s3_object_store"
)

// Connector is created and maintained by the external CRUD layer (spec
// §1, §3); the core only reads it.
type Connector struct {
	ID         int64
	Name       string
	Kind       ConnectorKind
	Variant    ConnectorVariant
	Config     map[string]any // opaque: credentials, host, bucket, path template, ...
	LastTestAt *time.Time
}

// TransferMode is the mode a Task runs in (spec §3).
type TransferMode string

const (
	ModeFullLoad        TransferMode = "full_load"
	ModeCDC             TransferMode = "cdc"
	ModeFullLoadThenCDC TransferMode = "full_load_then_cdc"
)

// ScheduleType is how a Task's executions are triggered (spec §3).
type ScheduleType string

const (
	ScheduleOnDemand   ScheduleType = "on_demand"
	ScheduleContinuous ScheduleType = "continuous"
	ScheduleInterval   ScheduleType = "interval"
)

// TaskStatus is the Lifecycle Controller's state (spec §4.7).
type TaskStatus string

const (
	StatusCreated   TaskStatus = "created"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusStopped   TaskStatus = "stopped"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TableOverride is a per-table customization of a Task (spec §3).
type TableOverride struct {
	Enabled         bool
	Transformations []TransformSpec
}

// TransformSpec is the declarative, typed description of one transform
// (spec §4.4). Args holds kind-specific parameters, e.g. {"column": "x",
// "value": "$timestamp"} for add_column.
type TransformSpec struct {
	Kind string
	Args map[string]string
}

// RetryPolicy controls the table pipeline's retry behavior (spec §4.5).
type RetryPolicy struct {
	Enabled          bool
	MaxRetries       int
	RetryDelay       time.Duration
	CleanupOnRetry   bool
}

// BatchPolicy controls how a table is paginated for full load (spec §3).
type BatchPolicy struct {
	BatchRows    int
	BatchSizeMB  int // soft target; advisory only
}

// DestinationOptions controls file format and table-name mapping
// (spec §3, §6).
type DestinationOptions struct {
	FileFormat      string // parquet | csv | json | (snowflake: ignored)
	TableNameMap    map[string]string
	PathTemplate    string
}

// CDCTableState is the per-table entry of Task.CDCState (spec §3).
type CDCTableState struct {
	Enabled    bool
	LastCursor string // opaque hex-encoded cursor
}

// Task is the unit of configuration for a transfer (spec §3).
type Task struct {
	ID                      int64
	Name                    string
	SourceConnectorID       int64
	DestinationConnectorID  int64
	SourceTables            []string // "schema.table", case-sensitive, unique
	TableOverrides          map[string]TableOverride
	Mode                    TransferMode
	Batch                   BatchPolicy
	Schedule                ScheduleType
	ScheduleIntervalSeconds int
	Destination             DestinationOptions
	Retry                   RetryPolicy
	ParallelTables          int
	HandleSchemaDrift       bool

	// Mutable runtime fields.
	Status                  TaskStatus
	CurrentProgressPercent  float64
	LastRunAt               *time.Time
	CDCState                map[string]CDCTableState
	FullLoadCompletedTables map[string]time.Time
}

// EffectiveTables returns the tables that are enabled for this task, in
// declared order: a per-table override with Enabled=false is skipped at
// scheduling time, never inside the table pipeline (spec §4.5 step 3c).
func (t *Task) EffectiveTables() []string {
	var out []string
	for _, tbl := range t.SourceTables {
		if ov, ok := t.TableOverrides[tbl]; ok && !ov.Enabled {
			continue
		}
		out = append(out, tbl)
	}
	return out
}

// TransformsFor returns the transforms to apply for a table: per-table
// overrides take precedence over task-level transforms (spec §4.5 step 3c).
func (t *Task) TransformsFor(table string, taskLevel []TransformSpec) []TransformSpec {
	if ov, ok := t.TableOverrides[table]; ok && len(ov.Transformations) > 0 {
		return ov.Transformations
	}
	return taskLevel
}

// NeedsFullLoad returns the subset of tables that have not yet completed a
// full load, used by full_load_then_cdc (spec §4.6 scenario §8.5).
func (t *Task) NeedsFullLoad() []string {
	var out []string
	for _, tbl := range t.EffectiveTables() {
		if _, done := t.FullLoadCompletedTables[tbl]; !done {
			out = append(out, tbl)
		}
	}
	return out
}

// RemoveTable removes a table from SourceTables and, per the invariant in
// spec §3 ("Removing a table... removes its entries from cdc_state and
// full_load_completed_tables"), prunes its derived state.
func (t *Task) RemoveTable(table string) {
	for i, tbl := range t.SourceTables {
		if tbl == table {
			t.SourceTables = append(t.SourceTables[:i], t.SourceTables[i+1:]...)
			break
		}
	}
	delete(t.TableOverrides, table)
	delete(t.CDCState, table)
	delete(t.FullLoadCompletedTables, table)
}

// Redefine replaces SourceTables wholesale. Per spec §3,
// full_load_completed_tables only accrues entries and is cleared only when
// the task is re-defined with tables removed; here we prune exactly the
// removed tables (accruing entries for tables that remain is untouched).
func (t *Task) Redefine(newTables []string) {
	keep := make(map[string]bool, len(newTables))
	for _, tbl := range newTables {
		keep[tbl] = true
	}
	for tbl := range t.FullLoadCompletedTables {
		if !keep[tbl] {
			delete(t.FullLoadCompletedTables, tbl)
		}
	}
	for tbl := range t.CDCState {
		if !keep[tbl] {
			delete(t.CDCState, tbl)
		}
	}
	t.SourceTables = newTables
}

// ExecutionType mirrors TransferMode for a single TaskExecution, with the
// additional cdc_sync value used for each CDC poll (spec §3).
type ExecutionType string

const (
	ExecFullLoad ExecutionType = "full_load"
	ExecCDCSync  ExecutionType = "cdc_sync"
	ExecFullLoadThenCDC ExecutionType = "full_load_then_cdc"
)

// ExecutionStatus is the status of a TaskExecution or TableExecution
// (spec §3).
type ExecutionStatus string

const (
	ExecPending        ExecutionStatus = "pending"
	ExecRunning        ExecutionStatus = "running"
	ExecSuccess        ExecutionStatus = "success"
	ExecFailed         ExecutionStatus = "failed"
	ExecPartialSuccess ExecutionStatus = "partial_success"
	ExecStopped        ExecutionStatus = "stopped"
)

// ErrorDetails is the structured counterpart to a TaskExecution's
// human-readable error_message (spec §7).
type ErrorDetails struct {
	Kind            string
	Table           string
	RetryCount      int
	LastCursor      string
}

// TaskExecution is a single invocation of a task (spec §3).
type TaskExecution struct {
	ID            int64
	TaskID        int64
	Type          ExecutionType
	Status        ExecutionStatus
	TotalRows     uint64
	ProcessedRows uint64
	FailedRows    uint64
	DataSizeMB    float64
	RowsPerSecond float64
	StartedAt     time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
	ErrorDetails  *ErrorDetails
	CDCLSNStart   string
	CDCLSNEnd     string
}

// TableExecution is a per-table record under a TaskExecution (spec §3).
type TableExecution struct {
	ID            int64
	TaskExecID    int64
	Table         string
	TotalRows     uint64
	ProcessedRows uint64
	FailedRows    uint64
	Status        ExecutionStatus
	RetryCount    int
	LastRetryAt   *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
}

// ProgressPercent returns the completion percentage, 0 when TotalRows is
// unknown (CDC, or not yet counted).
func (te *TableExecution) ProgressPercent() float64 {
	if te.TotalRows == 0 {
		return 0
	}
	return 100 * float64(te.ProcessedRows) / float64(te.TotalRows)
}

// GlobalVariableKind enumerates the kinds of GlobalVariable (spec §4.3).
type GlobalVariableKind string

const (
	GlobalStatic  GlobalVariableKind = "static"
	GlobalDBQuery GlobalVariableKind = "db_query"
	GlobalExpr    GlobalVariableKind = "expression"
)

// WhereOperator enumerates operators supported in a db_query's
// where_conditions (spec §4.3).
type WhereOperator string

const (
	OpEq    WhereOperator = "="
	OpNeq   WhereOperator = "!="
	OpGt    WhereOperator = ">"
	OpLt    WhereOperator = "<"
	OpGte   WhereOperator = ">="
	OpLte   WhereOperator = "<="
	OpLike  WhereOperator = "LIKE"
	OpIn    WhereOperator = "IN"
)

// WhereCondition is one clause of a db_query global variable.
type WhereCondition struct {
	Field    string
	Operator WhereOperator
	Value    string
}

// DBQueryConfig is the payload of a db_query GlobalVariable (spec §4.3).
type DBQueryConfig struct {
	Schema          string
	Table           string
	Column          string
	WhereConditions []WhereCondition
	Server          string
	Database        string
	Username        string
	Password        string
	RawQuery        string // fallback for unparseable inline SELECTs (verbatim, parameterless)
}

// GlobalVariable is a named, reusable value resolved by the Variable
// Resolver (spec §3, §4.3).
type GlobalVariable struct {
	ID       int64
	Name     string
	Kind     GlobalVariableKind
	Static   string
	DBQuery  *DBQueryConfig
	Expr     string
	IsActive bool
}
