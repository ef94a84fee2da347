// Package sqlutil holds the small amount of database/sql plumbing shared by
// every Source variant that reads through a generic driver: stable-order
// column selection and row scanning into a rowbatch.Batch (spec §4.1).
package sqlutil

import (
	"database/sql"

	"github.com/dtaas-io/engine/pkg/rowbatch"
)

// OrderByClause picks the stable ordering key for offset pagination:
// primary-key columns, else ordinal-key columns, else every column.
func OrderByClause(cols []rowbatch.ColumnSpec, quote func(string) string) []string {
	var keys []string
	for _, c := range cols {
		if c.IsPrimaryKey {
			keys = append(keys, quote(c.Name))
		}
	}
	if len(keys) == 0 {
		for _, c := range cols {
			if c.OrdinalKey {
				keys = append(keys, quote(c.Name))
			}
		}
	}
	if len(keys) == 0 {
		for _, c := range cols {
			keys = append(keys, quote(c.Name))
		}
	}
	return keys
}

// ScanRows drains rows into a new Batch using cols as the column layout.
func ScanRows(rows *sql.Rows, cols []rowbatch.ColumnSpec) (*rowbatch.Batch, error) {
	b := rowbatch.New(cols)
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		copy(row, dest)
		b.Rows = append(b.Rows, row)
	}
	return b, rows.Err()
}
