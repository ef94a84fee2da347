// Package testutils provides the shared helpers package-level tests use
// to talk to a real MySQL instance for the control-plane store, mirroring
// the teacher's own pattern of running integration tests against a local
// MySQL rather than a mock.
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// DSN returns the MySQL DSN tests should connect with, read from
// DTAAS_TEST_DSN. Tests call RequireDSN to skip cleanly when it is unset,
// since CI without a MySQL fixture should not fail the whole suite.
func DSN() string {
	return os.Getenv("DTAAS_TEST_DSN")
}

// RequireDSN skips t unless DTAAS_TEST_DSN is set, and returns it.
func RequireDSN(t *testing.T) string {
	t.Helper()
	dsn := DSN()
	if dsn == "" {
		t.Skip("DTAAS_TEST_DSN not set; skipping integration test")
	}
	return dsn
}

// RunSQL executes one or more semicolon-free statements against db,
// failing the test immediately on error.
func RunSQL(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("RunSQL: %v: %s", err, stmt)
		}
	}
}
