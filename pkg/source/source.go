// Package source defines the Source Adapter contract (C1, spec §4.1): a
// polymorphic interface implemented by each of the four supported
// relational variants, plus the shared table/column descriptors every
// variant returns in the same shape.
package source

import (
	"context"

	"github.com/dtaas-io/engine/pkg/rowbatch"
)

// TableInfo is one row of list_tables.
type TableInfo struct {
	Schema         string
	Name           string
	ApproxRowCount int64
	CDCEnabled     bool
}

// QualifiedName returns "schema.name", or just "name" when schema is empty.
func (t TableInfo) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Source is the contract every connector variant implements (spec §4.1).
// Every method that talks to the network accepts ctx and honors
// cancellation at the suspension points named in spec §5.
type Source interface {
	// Connect acquires the underlying connection. The sql_server, mysql
	// and oracle variants retry transient failures with jittered
	// exponential backoff (dbconn.ConnectWithRetry); the postgresql
	// variant pings once and does not retry. Disconnect releases it;
	// every exported method here is safe to call only between a successful
	// Connect and the matching Disconnect.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	ListTables(ctx context.Context, schema string) ([]TableInfo, error)
	Columns(ctx context.Context, schema, table string) ([]rowbatch.ColumnSpec, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)

	// ReadBatch returns rows ordered stably (primary key, else the
	// adapter's declared ordinal key, else a deterministic fallback) so
	// offset pagination never produces a different order across calls.
	ReadBatch(ctx context.Context, schema, table string, limit, offset int) (*rowbatch.Batch, error)

	CDCEnabled(ctx context.Context, schema, table string) (bool, error)
	EnableCDC(ctx context.Context, schema, table string) error

	// ReadCDC returns changes since fromCursor (empty means "from the
	// current position") and the cursor to persist after a successful
	// write. The cursor is an opaque, variant-specific hex string.
	ReadCDC(ctx context.Context, schema, table string, fromCursor string) (*rowbatch.Batch, string, error)
}

// Dialect groups the small set of variant-specific string-formatting rules
// shared by the Variable Resolver's db_query globals and by destination
// type-mapping: how a variant quotes a bare identifier.
type Dialect interface {
	QuoteIdentifier(ident string) string
}
