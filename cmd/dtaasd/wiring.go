package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/siddontang/loggers"

	"github.com/dtaas-io/engine/pkg/dbconn"
	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/destination/s3dst"
	"github.com/dtaas-io/engine/pkg/destination/snowflakedst"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/source"
	"github.com/dtaas-io/engine/pkg/source/mssqlsrc"
	"github.com/dtaas-io/engine/pkg/source/mysqlsrc"
	"github.com/dtaas-io/engine/pkg/source/oraclesrc"
	"github.com/dtaas-io/engine/pkg/source/pgsrc"
	"github.com/dtaas-io/engine/pkg/storeerr"
	"github.com/dtaas-io/engine/pkg/variable"
)

func cfgString(cfg map[string]any, key string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func cfgInt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func cfgBool(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

// buildSource constructs the Source Adapter named by conn.Variant (spec
// §4.1). conn.Kind must be ConnectorSource.
func buildSource(conn model.Connector, logger loggers.Advanced) (source.Source, error) {
	c := conn.Config
	switch conn.Variant {
	case model.VariantMySQL:
		return mysqlsrc.New(mysqlsrc.Config{
			Host: cfgString(c, "host"), Port: cfgInt(c, "port"),
			Username: cfgString(c, "username"), Password: cfgString(c, "password"),
			Database: cfgString(c, "database"),
		}, logger, 0), nil
	case model.VariantSQLServer:
		return mssqlsrc.New(mssqlsrc.Config{
			Host: cfgString(c, "host"), Port: cfgInt(c, "port"),
			Username: cfgString(c, "username"), Password: cfgString(c, "password"),
			Database: cfgString(c, "database"),
		}, logger), nil
	case model.VariantPostgreSQL:
		return pgsrc.New(pgsrc.Config{
			Host: cfgString(c, "host"), Port: cfgInt(c, "port"),
			Username: cfgString(c, "username"), Password: cfgString(c, "password"),
			Database: cfgString(c, "database"), SlotName: cfgString(c, "slot_name"),
			PublicationName: cfgString(c, "publication_name"),
		}), nil
	case model.VariantOracle:
		return oraclesrc.New(oraclesrc.Config{
			Host: cfgString(c, "host"), Port: cfgInt(c, "port"),
			Username: cfgString(c, "username"), Password: cfgString(c, "password"),
			Service: cfgString(c, "service"),
		}, logger), nil
	default:
		return nil, storeerr.Newf(storeerr.KindConfigInvalid, "connector %q: unsupported source variant %q", conn.Name, conn.Variant)
	}
}

// buildDestination constructs the Destination Adapter named by
// conn.Variant (spec §4.2). sourceVariant selects the type-mapping table a
// Snowflake destination uses for CreateTable/ApplySchemaDrift.
func buildDestination(conn model.Connector, sourceVariant string) (destination.Destination, error) {
	c := conn.Config
	switch conn.Variant {
	case model.VariantS3:
		return s3dst.New(s3dst.Config{
			Region: cfgString(c, "region"), Bucket: cfgString(c, "bucket"),
			Endpoint: cfgString(c, "endpoint"), AccessKeyID: cfgString(c, "access_key_id"),
			SecretKey: cfgString(c, "secret_key"), UsePathStyle: cfgBool(c, "use_path_style"),
			BasePrefix: cfgString(c, "base_prefix"),
		}), nil
	case model.VariantSnowflake:
		return snowflakedst.New(snowflakedst.Config{
			Account: cfgString(c, "account"), Username: cfgString(c, "username"),
			Password: cfgString(c, "password"), Database: cfgString(c, "database"),
			Schema: cfgString(c, "schema"), Warehouse: cfgString(c, "warehouse"),
			Role: cfgString(c, "role"),
		}, sourceVariant), nil
	default:
		return nil, storeerr.Newf(storeerr.KindConfigInvalid, "connector %q: unsupported destination variant %q", conn.Name, conn.Variant)
	}
}

// sqlExecutor adapts *sql.DB to variable.QueryExecutor for db_query global
// variables that name their own connection (it is returned by
// auxConnOpener.Open). The task's own source connection is not offered:
// dispatch passes no default executor to variable.New, so a db_query
// without a server/database of its own resolves to "unknown".
type sqlExecutor struct{ db *sql.DB }

func (e sqlExecutor) QueryValue(ctx context.Context, query string, args []any) (string, error) {
	var val sql.NullString
	row := e.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return val.String, nil
}

// auxConnOpener implements variable.ConnectionOpener by opening a fresh
// database/sql connection using the task's own driver, for db_query globals
// that name their own server/database (spec §4.3). Only the mysql driver
// is handled; for any other driver Open returns a KindUnsupportedFeature
// error.
//
// TODO: pool and reuse connections per (server, database) instead of
// opening (and never closing) a fresh one per Resolver construction.
type auxConnOpener struct {
	driverName string
	logger     loggers.Advanced
}

func (o auxConnOpener) Open(ctx context.Context, server, database, username, password string) (variable.QueryExecutor, error) {
	host, port := server, 0
	if idx := strings.LastIndex(server, ":"); idx >= 0 {
		host = server[:idx]
		port, _ = strconv.Atoi(server[idx+1:])
	}
	var dsn string
	switch o.driverName {
	case "mysql":
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", username, password, host, port, database)
	default:
		return nil, storeerr.Newf(storeerr.KindUnsupportedFeature, "aux connections not supported for driver %q", o.driverName)
	}
	db, err := dbconn.ConnectWithRetry(ctx, o.driverName, dsn, dbconn.NewConfig(), o.logger)
	if err != nil {
		return nil, storeerr.New(storeerr.KindConnectionFailed, err)
	}
	return sqlExecutor{db: db}, nil
}

func driverNameFor(variant model.ConnectorVariant) string {
	switch variant {
	case model.VariantMySQL:
		return "mysql"
	case model.VariantSQLServer:
		return "sqlserver"
	case model.VariantPostgreSQL:
		return "postgres"
	case model.VariantOracle:
		return "oracle"
	default:
		return ""
	}
}

func quoteIdentFor(variant model.ConnectorVariant) func(string) string {
	switch variant {
	case model.VariantMySQL:
		return func(s string) string { return "`" + s + "`" }
	case model.VariantSQLServer:
		return func(s string) string { return "[" + s + "]" }
	default:
		return func(s string) string { return `"` + s + `"` }
	}
}

// splitTable splits a "schema.table" name, falling back to an empty schema
// when no separator is present (e.g. a driver with no schema concept).
func splitTable(name string) (schema, table string) {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

// splitSchema splits store.Schema into individual CREATE TABLE statements.
func splitSchema(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
