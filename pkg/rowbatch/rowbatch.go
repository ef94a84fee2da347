// Package rowbatch defines the in-memory value type that flows between the
// source adapters, the transformation engine and the destination adapters.
// It replaces a library DataFrame (spec §9): columns are typed by name and
// rows are plain slices of cells, with no hidden schema inference.
package rowbatch

import "fmt"

// ColumnSpec describes one column of a Batch.
type ColumnSpec struct {
	Name          string
	Type          string // logical type name, e.g. "int64", "string", "time", "bool", "decimal"
	MaxLength     int
	Nullable      bool
	IsPrimaryKey  bool
	DefaultValue  string
	OrdinalKey    bool // part of the stable read_batch ordering when no PK exists
}

// Batch is a columnar-ordered set of rows read from, or about to be written
// to, one table. Rows are row-major ([]any per row) to keep transform
// semantics (add/drop/rename column, filter rows) simple and sequential,
// matching how the teacher's row copier treats each chunk as a unit.
type Batch struct {
	Columns []ColumnSpec
	Rows    [][]any
}

// New returns an empty Batch with the given column layout.
func New(columns []ColumnSpec) *Batch {
	return &Batch{Columns: append([]ColumnSpec(nil), columns...)}
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnIndex returns the index of a column by name, or -1 if absent.
func (b *Batch) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the ordered list of column names.
func (b *Batch) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep-enough copy of the batch (columns and row slice
// headers are copied; individual cell values are not, since they are
// expected to be immutable scalars).
func (b *Batch) Clone() *Batch {
	nb := &Batch{
		Columns: append([]ColumnSpec(nil), b.Columns...),
		Rows:    make([][]any, len(b.Rows)),
	}
	for i, row := range b.Rows {
		nb.Rows[i] = append([]any(nil), row...)
	}
	return nb
}

// AppendColumn adds a new column definition and extends every existing row
// with the given value. It errors if the column name is already present,
// matching the "duplicate column name after transformation" edge case in
// spec §4.5.
func (b *Batch) AppendColumn(spec ColumnSpec, value func(rowIndex int) any) error {
	if b.ColumnIndex(spec.Name) != -1 {
		return fmt.Errorf("duplicate column %q", spec.Name)
	}
	b.Columns = append(b.Columns, spec)
	for i := range b.Rows {
		b.Rows[i] = append(b.Rows[i], value(i))
	}
	return nil
}

// DropColumn removes a column by name. No-op if absent, matching the
// drop_column transform's documented behavior.
func (b *Batch) DropColumn(name string) {
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return
	}
	b.Columns = append(b.Columns[:idx], b.Columns[idx+1:]...)
	for i, row := range b.Rows {
		b.Rows[i] = append(row[:idx], row[idx+1:]...)
	}
}

// RenameColumn renames a column in place. No-op if absent.
func (b *Batch) RenameColumn(from, to string) {
	idx := b.ColumnIndex(from)
	if idx == -1 {
		return
	}
	b.Columns[idx].Name = to
}

// FilterRows keeps only the rows for which keep returns true.
func (b *Batch) FilterRows(keep func(row []any) bool) {
	kept := b.Rows[:0]
	for _, row := range b.Rows {
		if keep(row) {
			kept = append(kept, row)
		}
	}
	b.Rows = kept
}

// EstimatedBytes returns a rough serialized-size estimate used only when a
// destination adapter cannot report the exact bytes it wrote (spec §4.5
// requires "actual serialised/object size, not in-memory estimate" be
// preferred; this is the fallback for adapters that can't compute it).
func (b *Batch) EstimatedBytes() int64 {
	var total int64
	for _, row := range b.Rows {
		for _, v := range row {
			total += cellSize(v)
		}
	}
	return total
}

func cellSize(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(t))
	case []byte:
		return int64(len(t))
	default:
		return 8
	}
}
