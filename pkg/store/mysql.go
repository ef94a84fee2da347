package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	perrors "github.com/pingcap/errors"

	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

// MySQLStore is the Store implementation. Frequently-filtered columns
// (status, mode, schedule, parallel_tables, ...) are plain columns; the
// rest of Task's configuration (source_tables, table_overrides,
// destination options, retry policy, batch policy) is one JSON
// "definition" document, matching the teacher's own preference for a
// handful of indexed columns over a wide, rarely-queried table.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an already-connected *sql.DB (opened via
// pkg/dbconn.ConnectWithRetry with driver "mysql").
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Schema is the DDL MySQLStore expects. It is exposed, not auto-applied,
// so deployment tooling controls migrations explicitly.
const Schema = `
CREATE TABLE IF NOT EXISTS connectors (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	kind VARCHAR(32) NOT NULL,
	variant VARCHAR(32) NOT NULL,
	config JSON NOT NULL,
	last_test_at DATETIME NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	source_connector_id BIGINT NOT NULL,
	destination_connector_id BIGINT NOT NULL,
	mode VARCHAR(32) NOT NULL,
	schedule VARCHAR(32) NOT NULL,
	schedule_interval_seconds INT NOT NULL DEFAULT 0,
	parallel_tables INT NOT NULL DEFAULT 1,
	handle_schema_drift BOOLEAN NOT NULL DEFAULT FALSE,
	status VARCHAR(32) NOT NULL DEFAULT 'created',
	current_progress_percent DOUBLE NOT NULL DEFAULT 0,
	last_run_at DATETIME NULL,
	definition JSON NOT NULL,
	cdc_state JSON NOT NULL,
	full_load_completed_tables JSON NOT NULL,
	FOREIGN KEY (source_connector_id) REFERENCES connectors(id),
	FOREIGN KEY (destination_connector_id) REFERENCES connectors(id)
);

CREATE TABLE IF NOT EXISTS task_executions (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	task_id BIGINT NOT NULL,
	type VARCHAR(32) NOT NULL,
	status VARCHAR(32) NOT NULL,
	total_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	processed_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	failed_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	data_size_mb DOUBLE NOT NULL DEFAULT 0,
	rows_per_second DOUBLE NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	completed_at DATETIME NULL,
	error_message TEXT NOT NULL DEFAULT '',
	error_details JSON NULL,
	cdc_lsn_start VARCHAR(255) NOT NULL DEFAULT '',
	cdc_lsn_end VARCHAR(255) NOT NULL DEFAULT '',
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS table_executions (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	task_exec_id BIGINT NOT NULL,
	table_name VARCHAR(512) NOT NULL,
	total_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	processed_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	failed_rows BIGINT UNSIGNED NOT NULL DEFAULT 0,
	status VARCHAR(32) NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	last_retry_at DATETIME NULL,
	started_at DATETIME NULL,
	completed_at DATETIME NULL,
	error_message TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (task_exec_id) REFERENCES task_executions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS global_variables (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	kind VARCHAR(32) NOT NULL,
	static_value TEXT NOT NULL DEFAULT '',
	db_query JSON NULL,
	expr TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);
`

// taskDefinition is the JSON shape of the tasks.definition column: every
// Task field except the handful promoted to real columns and the two CDC
// bookkeeping maps (kept in their own columns since they are written far
// more often than the rest of the definition).
type taskDefinition struct {
	SourceTables   []string                      `json:"source_tables"`
	TableOverrides map[string]model.TableOverride `json:"table_overrides"`
	Batch          model.BatchPolicy              `json:"batch"`
	Destination    model.DestinationOptions       `json:"destination"`
	Retry          model.RetryPolicy              `json:"retry"`
}

func (s *MySQLStore) GetConnector(ctx context.Context, id int64) (*model.Connector, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, kind, variant, config, last_test_at FROM connectors WHERE id = ?`, id)
	var c model.Connector
	var configJSON []byte
	var lastTest sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.Variant, &configJSON, &lastTest); err != nil {
		if err == sql.ErrNoRows {
			return nil, storeerr.Newf(storeerr.KindNotFound, "connector %d not found", id)
		}
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	if err := json.Unmarshal(configJSON, &c.Config); err != nil {
		return nil, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if lastTest.Valid {
		c.LastTestAt = &lastTest.Time
	}
	return &c, nil
}

func (s *MySQLStore) ListConnectors(ctx context.Context, kind model.ConnectorKind) ([]model.Connector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, kind, variant, config, last_test_at FROM connectors WHERE kind = ?`, kind)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var out []model.Connector
	for rows.Next() {
		var c model.Connector
		var configJSON []byte
		var lastTest sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.Variant, &configJSON, &lastTest); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return nil, storeerr.New(storeerr.KindConfigInvalid, err)
		}
		if lastTest.Valid {
			c.LastTestAt = &lastTest.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConnector enforces spec §3's "deletion of a referenced connector
// fails" inside the same transaction as the existence check, to close the
// race against a concurrent CreateTask.
func (s *MySQLStore) DeleteConnector(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer tx.Rollback()

	var inUse int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE source_connector_id = ? OR destination_connector_id = ?`, id, id,
	).Scan(&inUse)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	if inUse > 0 {
		return storeerr.Newf(storeerr.KindInvariantViolation, "connector %d is referenced by %d task(s)", id, inUse)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM connectors WHERE id = ?`, id); err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return tx.Commit()
}

func (s *MySQLStore) CreateTask(ctx context.Context, t *model.Task) (int64, error) {
	def := taskDefinition{
		SourceTables:   t.SourceTables,
		TableOverrides: t.TableOverrides,
		Batch:          t.Batch,
		Destination:    t.Destination,
		Retry:          t.Retry,
	}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	cdcJSON, err := json.Marshal(t.CDCState)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	doneJSON, err := json.Marshal(t.FullLoadCompletedTables)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if t.Status == "" {
		t.Status = model.StatusCreated
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			name, source_connector_id, destination_connector_id, mode, schedule,
			schedule_interval_seconds, parallel_tables, handle_schema_drift, status,
			definition, cdc_state, full_load_completed_tables
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.SourceConnectorID, t.DestinationConnectorID, t.Mode, t.Schedule,
		t.ScheduleIntervalSeconds, t.ParallelTables, t.HandleSchemaDrift, t.Status,
		defJSON, cdcJSON, doneJSON,
	)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return res.LastInsertId()
}

func (s *MySQLStore) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_connector_id, destination_connector_id, mode, schedule,
			schedule_interval_seconds, parallel_tables, handle_schema_drift, status,
			current_progress_percent, last_run_at, definition, cdc_state, full_load_completed_tables
		FROM tasks WHERE id = ?`, taskID)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*model.Task, error) {
	var t model.Task
	var defJSON, cdcJSON, doneJSON []byte
	var lastRun sql.NullTime
	err := row.Scan(
		&t.ID, &t.Name, &t.SourceConnectorID, &t.DestinationConnectorID, &t.Mode, &t.Schedule,
		&t.ScheduleIntervalSeconds, &t.ParallelTables, &t.HandleSchemaDrift, &t.Status,
		&t.CurrentProgressPercent, &lastRun, &defJSON, &cdcJSON, &doneJSON,
	)
	if err == sql.ErrNoRows {
		return nil, storeerr.Newf(storeerr.KindNotFound, "task %d not found", t.ID)
	}
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	var def taskDefinition
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	t.SourceTables = def.SourceTables
	t.TableOverrides = def.TableOverrides
	t.Batch = def.Batch
	t.Destination = def.Destination
	t.Retry = def.Retry
	if err := json.Unmarshal(cdcJSON, &t.CDCState); err != nil {
		return nil, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if err := json.Unmarshal(doneJSON, &t.FullLoadCompletedTables); err != nil {
		return nil, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	return &t, nil
}

func (s *MySQLStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	ids, err := s.listTaskIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *MySQLStore) listTaskIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY id`)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateDefinition replaces the task's configuration columns, including a
// possibly-pruned cdc_state/full_load_completed_tables when tables were
// removed (model.Task.Redefine is expected to have already been applied
// to t by the caller).
func (s *MySQLStore) UpdateDefinition(ctx context.Context, t *model.Task) error {
	def := taskDefinition{
		SourceTables: t.SourceTables, TableOverrides: t.TableOverrides,
		Batch: t.Batch, Destination: t.Destination, Retry: t.Retry,
	}
	defJSON, err := json.Marshal(def)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	cdcJSON, err := json.Marshal(t.CDCState)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	doneJSON, err := json.Marshal(t.FullLoadCompletedTables)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET name=?, mode=?, schedule=?, schedule_interval_seconds=?,
			parallel_tables=?, handle_schema_drift=?, definition=?, cdc_state=?, full_load_completed_tables=?
		WHERE id=?`,
		t.Name, t.Mode, t.Schedule, t.ScheduleIntervalSeconds, t.ParallelTables, t.HandleSchemaDrift,
		defJSON, cdcJSON, doneJSON, t.ID,
	)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return nil
}

func (s *MySQLStore) SetStatus(ctx context.Context, taskID int64, status model.TaskStatus, lastRunAt *time.Time) error {
	if lastRunAt != nil {
		_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status=?, last_run_at=? WHERE id=?`, status, *lastRunAt, taskID)
		return wrapExec(err)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, status, taskID)
	return wrapExec(err)
}

func (s *MySQLStore) SetProgress(ctx context.Context, taskID int64, percent float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET current_progress_percent=? WHERE id=?`, percent, taskID)
	return wrapExec(err)
}

// DeleteTask relies on the ON DELETE CASCADE declared in Schema for
// task_executions/table_executions (spec §3: "The Task owns its
// executions (cascade delete)").
func (s *MySQLStore) DeleteTask(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, taskID)
	return wrapExec(err)
}

// LoadCursor/SaveCursor read and write one table's entry inside the
// task's cdc_state JSON document. Callers are expected to hold the
// advisory lock returned by Lock around the read-modify-write pair
// spanning ReadCDC+Write (spec §5's shared-resource policy); MySQLStore
// itself does not serialize concurrent callers beyond what a single
// UPDATE gives.
func (s *MySQLStore) LoadCursor(ctx context.Context, taskID int64, table string) (string, error) {
	var cdcJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT cdc_state FROM tasks WHERE id=?`, taskID).Scan(&cdcJSON)
	if err == sql.ErrNoRows {
		return "", storeerr.Newf(storeerr.KindNotFound, "task %d not found", taskID)
	}
	if err != nil {
		return "", storeerr.New(storeerr.KindConnectionFailed, err)
	}
	var state map[string]model.CDCTableState
	if err := json.Unmarshal(cdcJSON, &state); err != nil {
		return "", storeerr.New(storeerr.KindConfigInvalid, err)
	}
	return state[table].LastCursor, nil
}

func (s *MySQLStore) SaveCursor(ctx context.Context, taskID int64, table string, cursor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer tx.Rollback()

	var cdcJSON []byte
	if err := tx.QueryRowContext(ctx, `SELECT cdc_state FROM tasks WHERE id=? FOR UPDATE`, taskID).Scan(&cdcJSON); err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	var state map[string]model.CDCTableState
	if err := json.Unmarshal(cdcJSON, &state); err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if state == nil {
		state = make(map[string]model.CDCTableState)
	}
	entry := state[table]
	entry.Enabled = true
	entry.LastCursor = cursor
	state[table] = entry

	newJSON, err := json.Marshal(state)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET cdc_state=? WHERE id=?`, newJSON, taskID); err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return tx.Commit()
}

// MarkFullLoadCompleted records a table's completion time for
// full_load_then_cdc bookkeeping (spec §4.5 step 4).
func (s *MySQLStore) MarkFullLoadCompleted(ctx context.Context, taskID int64, table string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer tx.Rollback()

	var doneJSON []byte
	if err := tx.QueryRowContext(ctx, `SELECT full_load_completed_tables FROM tasks WHERE id=? FOR UPDATE`, taskID).Scan(&doneJSON); err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	done := make(map[string]time.Time)
	if err := json.Unmarshal(doneJSON, &done); err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	done[table] = time.Now()
	newJSON, err := json.Marshal(done)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET full_load_completed_tables=? WHERE id=?`, newJSON, taskID); err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return tx.Commit()
}

func (s *MySQLStore) CreateTaskExecution(ctx context.Context, e *model.TaskExecution) (int64, error) {
	detailsJSON, err := json.Marshal(e.ErrorDetails)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConfigInvalid, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_executions (task_id, type, status, total_rows, processed_rows, failed_rows,
			data_size_mb, rows_per_second, started_at, completed_at, error_message, error_details,
			cdc_lsn_start, cdc_lsn_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Type, e.Status, e.TotalRows, e.ProcessedRows, e.FailedRows,
		e.DataSizeMB, e.RowsPerSecond, e.StartedAt, e.CompletedAt, e.ErrorMessage, detailsJSON,
		e.CDCLSNStart, e.CDCLSNEnd,
	)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return res.LastInsertId()
}

func (s *MySQLStore) UpdateTaskExecution(ctx context.Context, e *model.TaskExecution) error {
	detailsJSON, err := json.Marshal(e.ErrorDetails)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE task_executions SET status=?, total_rows=?, processed_rows=?, failed_rows=?,
			data_size_mb=?, rows_per_second=?, completed_at=?, error_message=?, error_details=?,
			cdc_lsn_start=?, cdc_lsn_end=?
		WHERE id=?`,
		e.Status, e.TotalRows, e.ProcessedRows, e.FailedRows, e.DataSizeMB, e.RowsPerSecond,
		e.CompletedAt, e.ErrorMessage, detailsJSON, e.CDCLSNStart, e.CDCLSNEnd, e.ID,
	)
	return wrapExec(err)
}

func (s *MySQLStore) ListTaskExecutions(ctx context.Context, taskID int64, limit int) ([]model.TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, type, status, total_rows, processed_rows, failed_rows, data_size_mb,
			rows_per_second, started_at, completed_at, error_message, cdc_lsn_start, cdc_lsn_end
		FROM task_executions WHERE task_id=? ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var out []model.TaskExecution
	for rows.Next() {
		var e model.TaskExecution
		var completed sql.NullTime
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Status, &e.TotalRows, &e.ProcessedRows,
			&e.FailedRows, &e.DataSizeMB, &e.RowsPerSecond, &e.StartedAt, &completed,
			&e.ErrorMessage, &e.CDCLSNStart, &e.CDCLSNEnd); err != nil {
			return nil, err
		}
		if completed.Valid {
			e.CompletedAt = &completed.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateTableExecution(ctx context.Context, e *model.TableExecution) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO table_executions (task_exec_id, table_name, total_rows, processed_rows, failed_rows,
			status, retry_count, last_retry_at, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskExecID, e.Table, e.TotalRows, e.ProcessedRows, e.FailedRows,
		e.Status, e.RetryCount, e.LastRetryAt, e.StartedAt, e.CompletedAt, e.ErrorMessage,
	)
	if err != nil {
		return 0, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return res.LastInsertId()
}

func (s *MySQLStore) UpdateTableExecution(ctx context.Context, e *model.TableExecution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE table_executions SET total_rows=?, processed_rows=?, failed_rows=?, status=?,
			retry_count=?, last_retry_at=?, completed_at=?, error_message=?
		WHERE id=?`,
		e.TotalRows, e.ProcessedRows, e.FailedRows, e.Status, e.RetryCount, e.LastRetryAt,
		e.CompletedAt, e.ErrorMessage, e.ID,
	)
	return wrapExec(err)
}

func (s *MySQLStore) ListTableExecutions(ctx context.Context, taskExecID int64) ([]model.TableExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_exec_id, table_name, total_rows, processed_rows, failed_rows, status,
			retry_count, last_retry_at, started_at, completed_at, error_message
		FROM table_executions WHERE task_exec_id=? ORDER BY id`, taskExecID)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var out []model.TableExecution
	for rows.Next() {
		var e model.TableExecution
		var lastRetry, started, completed sql.NullTime
		if err := rows.Scan(&e.ID, &e.TaskExecID, &e.Table, &e.TotalRows, &e.ProcessedRows,
			&e.FailedRows, &e.Status, &e.RetryCount, &lastRetry, &started, &completed, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if lastRetry.Valid {
			e.LastRetryAt = &lastRetry.Time
		}
		if started.Valid {
			e.StartedAt = &started.Time
		}
		if completed.Valid {
			e.CompletedAt = &completed.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLStore) ListActiveGlobalVariables(ctx context.Context) ([]model.GlobalVariable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, static_value, db_query, expr, is_active
		FROM global_variables WHERE is_active = TRUE`)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var out []model.GlobalVariable
	for rows.Next() {
		var gv model.GlobalVariable
		var dbQueryJSON []byte
		if err := rows.Scan(&gv.ID, &gv.Name, &gv.Kind, &gv.Static, &dbQueryJSON, &gv.Expr, &gv.IsActive); err != nil {
			return nil, err
		}
		if len(dbQueryJSON) > 0 {
			var dq model.DBQueryConfig
			if err := json.Unmarshal(dbQueryJSON, &dq); err != nil {
				return nil, storeerr.New(storeerr.KindConfigInvalid, err)
			}
			gv.DBQuery = &dq
		}
		out = append(out, gv)
	}
	return out, rows.Err()
}

func wrapExec(err error) error {
	if err == nil {
		return nil
	}
	return storeerr.New(storeerr.KindConnectionFailed, perrors.Trace(err))
}
