// Package destination defines the Destination Adapter contract (C2, spec
// §4.2): a uniform surface over the two supported variants, write-mode
// semantics, and the shared path-template resolution rule for file-based
// destinations.
package destination

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/dtaas-io/engine/pkg/rowbatch"
)

// WriteMode selects how a batch is merged into the destination table.
type WriteMode string

const (
	// ModeAppend is the CDC/incremental write mode.
	ModeAppend WriteMode = "append"
	// ModeOverwrite deletes prior data scoped to the logical table before
	// writing.
	ModeOverwrite WriteMode = "overwrite"
)

// WriteOptions carries the per-write knobs a Destination needs beyond the
// batch and table name.
type WriteOptions struct {
	FileFormat   string // "parquet", "csv", "json"
	PathTemplate string // resolved by C3 before being handed to Write; see ResolveObjectKey
}

// WriteResult reports what a write actually did, for progress accounting
// (spec §4.5: "actual serialised/object size, not in-memory estimate").
type WriteResult struct {
	RowsWritten  int64
	BytesWritten int64
	ArtifactID   string
}

// Destination is the contract every destination variant implements.
type Destination interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string, columns []rowbatch.ColumnSpec) error
	SchemaOf(ctx context.Context, name string) ([]rowbatch.ColumnSpec, error)

	// ApplySchemaDrift adds newColumns not already present in declared
	// order; it never drops or retypes an existing column (spec §8
	// testable property 6).
	ApplySchemaDrift(ctx context.Context, name string, newColumns []rowbatch.ColumnSpec) error

	Write(ctx context.Context, batch *rowbatch.Batch, name string, mode WriteMode, opts WriteOptions) (WriteResult, error)

	// CleanupPartial removes artifacts written by an in-flight attempt so
	// a retry starts clean.
	CleanupPartial(ctx context.Context, name string) error
}

// recognizedExtensions are kept verbatim when already present on a
// resolved path (spec §4.2).
var recognizedExtensions = map[string]bool{
	".parquet": true, ".csv": true, ".json": true, ".txt": true, ".avro": true, ".orc": true,
}

// ResolveObjectKey derives the final object key for a file-based write from
// the (already $-resolved) path template, the file format, and the write
// mode, per spec §4.2's path-template rule:
//   - a recognised extension already present is kept verbatim;
//   - otherwise the file-format extension is appended;
//   - a template with no directory component lands under
//     "{base}/data_{timestamp}.{ext}" (append) or "{base}/data.{ext}"
//     (overwrite).
func ResolveObjectKey(resolvedTemplate, fileFormat string, mode WriteMode, now time.Time) string {
	ext := formatExtension(fileFormat)
	if resolvedTemplate == "" {
		return defaultKey("", ext, mode, now)
	}
	if strings.Contains(resolvedTemplate, "/") {
		if recognizedExtensions[strings.ToLower(path.Ext(resolvedTemplate))] {
			return resolvedTemplate
		}
		return resolvedTemplate + ext
	}
	return defaultKey(resolvedTemplate, ext, mode, now)
}

func defaultKey(base, ext string, mode WriteMode, now time.Time) string {
	if mode == ModeOverwrite {
		return path.Join(base, "data"+ext)
	}
	return path.Join(base, "data_"+now.UTC().Format("20060102_150405")+ext)
}

func formatExtension(fileFormat string) string {
	switch strings.ToLower(fileFormat) {
	case "parquet":
		return ".parquet"
	case "csv":
		return ".csv"
	case "json", "json-lines", "jsonl":
		return ".json"
	default:
		return ".txt"
	}
}
