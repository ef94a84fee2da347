package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/testutils"
)

func TestLockNameTruncatesTo64Bytes(t *testing.T) {
	name := lockName(1, strings.Repeat("x", 200))
	assert.LessOrEqual(t, len(name), 64)
}

func TestLockNameIsStablePerTaskAndTable(t *testing.T) {
	assert.Equal(t, lockName(1, "dbo.orders"), lockName(1, "dbo.orders"))
	assert.NotEqual(t, lockName(1, "dbo.orders"), lockName(1, "dbo.customers"))
	assert.NotEqual(t, lockName(1, "dbo.orders"), lockName(2, "dbo.orders"))
}

func TestTaskDefinitionRoundTripsThroughJSON(t *testing.T) {
	def := taskDefinition{
		SourceTables: []string{"dbo.orders", "dbo.customers"},
		TableOverrides: map[string]model.TableOverride{
			"dbo.orders": {Enabled: true, Transformations: []model.TransformSpec{{Kind: "drop_column", Args: map[string]string{"column": "ssn"}}}},
		},
		Batch:       model.BatchPolicy{BatchRows: 5000},
		Destination: model.DestinationOptions{FileFormat: "parquet", PathTemplate: "$taskName/$tableName"},
		Retry:       model.RetryPolicy{Enabled: true, MaxRetries: 3, RetryDelay: 10 * time.Second},
	}
	raw, err := json.Marshal(def)
	require.NoError(t, err)

	var out taskDefinition
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, def, out)
}

// TestMySQLStoreIntegration exercises CreateTask/GetTask/SetStatus/
// SaveCursor/LoadCursor/Lock/DeleteTask against a real MySQL instance. It is
// skipped unless DTAAS_TEST_DSN is set, matching the teacher's own
// integration-test convention of running against a live server rather
// than a mock.
func TestMySQLStoreIntegration(t *testing.T) {
	dsn := testutils.RequireDSN(t)
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range schemaStatements() {
		testutils.RunSQL(t, db, stmt)
	}
	st := NewMySQLStore(db)

	connID := mustInsertConnector(t, db)
	task := &model.Task{
		Name: "orders-sync", SourceConnectorID: connID, DestinationConnectorID: connID,
		Mode: model.ModeFullLoad, Schedule: model.ScheduleOnDemand, ParallelTables: 1,
		SourceTables: []string{"dbo.orders"},
	}
	id, err := st.CreateTask(t.Context(), task)
	require.NoError(t, err)

	got, err := st.GetTask(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "orders-sync", got.Name)
	assert.Equal(t, []string{"dbo.orders"}, got.SourceTables)
	assert.Equal(t, model.StatusCreated, got.Status)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, st.SetStatus(t.Context(), id, model.StatusRunning, &now))
	got, err = st.GetTask(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)

	require.NoError(t, st.SaveCursor(t.Context(), id, "dbo.orders", "0xabc123"))
	cursor, err := st.LoadCursor(t.Context(), id, "dbo.orders")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", cursor)

	unlock, err := st.Lock(t.Context(), id, "dbo.orders")
	require.NoError(t, err)
	unlock(t.Context())

	require.NoError(t, st.DeleteTask(t.Context(), id))
	_, err = st.GetTask(t.Context(), id)
	assert.Error(t, err)
}

func mustInsertConnector(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO connectors (name, kind, variant, config) VALUES (?, ?, ?, ?)`,
		"test-src", model.ConnectorSource, model.VariantMySQL, `{"host":"localhost"}`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func schemaStatements() []string {
	var out []string
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
