// Package snowflakedst implements the snowflake Destination Adapter variant
// (spec §4.2). Bulk loading follows the COPY-equivalent shape used by the
// pack's peerdb/estuary-flow Snowflake connectors: stage a batch's rows,
// then COPY INTO the target table; schema drift uses ALTER TABLE ... ADD.
package snowflakedst

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/rowbatch"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

// Config holds the connection fields for a snowflake Connector.
type Config struct {
	Account   string
	Username  string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	Role      string
}

func (c Config) dsn() (string, error) {
	cfg := &gosnowflake.Config{
		Account:   c.Account,
		User:      c.Username,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
		Role:      c.Role,
	}
	return gosnowflake.DSN(cfg)
}

// Destination is the snowflake Destination Adapter.
type Destination struct {
	cfg           Config
	sourceVariant string
	db            *sql.DB
}

// New constructs a Destination. sourceVariant selects the type-mapping
// table used by CreateTable/ApplySchemaDrift.
func New(cfg Config, sourceVariant string) *Destination {
	return &Destination{cfg: cfg, sourceVariant: sourceVariant}
}

func (d *Destination) Connect(ctx context.Context) error {
	dsn, err := d.cfg.dsn()
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return storeerr.New(storeerr.KindConnectionFailed, err)
	}
	d.db = db
	return nil
}

func (d *Destination) Disconnect(_ context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(strings.ToUpper(ident), `"`, `""`) + `"`
}

func (d *Destination) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = ?", strings.ToUpper(name)).Scan(&count)
	if err != nil {
		return false, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return count > 0, nil
}

func (d *Destination) CreateTable(ctx context.Context, name string, columns []rowbatch.ColumnSpec) error {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), MapType(d.sourceVariant, c.Type))
	}
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, q); err != nil {
		return storeerr.New(storeerr.KindWriteError, err)
	}
	return nil
}

func (d *Destination) SchemaOf(ctx context.Context, name string) ([]rowbatch.ColumnSpec, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, strings.ToUpper(name))
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	defer rows.Close()
	var out []rowbatch.ColumnSpec
	for rows.Next() {
		var colName, dataType string
		if err := rows.Scan(&colName, &dataType); err != nil {
			return nil, err
		}
		out = append(out, rowbatch.ColumnSpec{Name: colName, Type: dataType})
	}
	return out, rows.Err()
}

// ApplySchemaDrift adds newColumns not already present, in declared order.
// It never drops or retypes a column already on the destination (spec §4.2,
// §8 testable property 6).
func (d *Destination) ApplySchemaDrift(ctx context.Context, name string, newColumns []rowbatch.ColumnSpec) error {
	existing, err := d.SchemaOf(ctx, name)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[strings.ToUpper(c.Name)] = true
	}
	for _, c := range newColumns {
		if present[strings.ToUpper(c.Name)] {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(name), quoteIdent(c.Name), MapType(d.sourceVariant, c.Type))
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return storeerr.New(storeerr.KindSchemaDriftErr, err)
		}
	}
	return nil
}

// Write stages batch as CSV into the table's internal stage (@%table) and COPY INTOs the
// target table. overwrite mode truncates first (spec §6: "overwrite mode
// truncates the table before append").
func (d *Destination) Write(ctx context.Context, batch *rowbatch.Batch, name string, mode destination.WriteMode, _ destination.WriteOptions) (destination.WriteResult, error) {
	if mode == destination.ModeOverwrite {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
			return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
		}
	}
	if batch.Len() == 0 {
		return destination.WriteResult{}, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range batch.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprintf("%v", v)
		}
		if err := w.Write(record); err != nil {
			return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
	}

	stageFile := fmt.Sprintf("dtaas_%d.csv", time.Now().UnixNano())
	ctx = gosnowflake.WithFileStream(ctx, &buf)
	putQuery := fmt.Sprintf("PUT file://%s @%%%s AUTO_COMPRESS=TRUE", stageFile, quoteIdent(name))
	if _, err := d.db.ExecContext(ctx, putQuery); err != nil {
		return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
	}

	copyQuery := fmt.Sprintf(
		`COPY INTO %s FROM @%%%s FILE_FORMAT = (TYPE = CSV) ON_ERROR = 'ABORT_STATEMENT' PURGE = TRUE`,
		quoteIdent(name), quoteIdent(name))
	if _, err := d.db.ExecContext(ctx, copyQuery); err != nil {
		return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
	}

	return destination.WriteResult{
		RowsWritten:  int64(batch.Len()),
		BytesWritten: int64(buf.Len()),
		ArtifactID:   stageFile,
	}, nil
}

// CleanupPartial removes any staged file left behind by an aborted PUT, so
// a retried write starts clean.
func (d *Destination) CleanupPartial(ctx context.Context, name string) error {
	q := fmt.Sprintf("REMOVE @%%%s", quoteIdent(name))
	if _, err := d.db.ExecContext(ctx, q); err != nil {
		return storeerr.New(storeerr.KindWriteError, err)
	}
	return nil
}
