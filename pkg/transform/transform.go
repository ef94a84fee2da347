// Package transform implements the Transformation Engine (C4): an ordered
// list of typed, declarative transforms applied to a RowBatch. Transforms
// are pure — no I/O — except that their string arguments may contain
// $... tokens resolved through a Resolver bound to the current batch
// (spec §4.4).
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"

	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/rowbatch"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

// Resolver resolves $... tokens within a single transform argument.
// Satisfied by *variable.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, template string) string
}

// noopResolver is used when a pipeline has no variable bindings configured;
// it passes every argument through unchanged.
type noopResolver struct{}

func (noopResolver) Resolve(_ context.Context, template string) string { return template }

// Apply runs specs against batch in list order, returning a new Batch.
// An error from any transform fails the whole batch (spec §4.4, §7).
func Apply(ctx context.Context, batch *rowbatch.Batch, specs []model.TransformSpec, resolver Resolver) (*rowbatch.Batch, error) {
	if resolver == nil {
		resolver = noopResolver{}
	}
	out := batch.Clone()
	for i, spec := range specs {
		fn, ok := registry[spec.Kind]
		if !ok {
			return nil, storeerr.Newf(storeerr.KindTransformationErr, "unknown transform kind %q at position %d", spec.Kind, i)
		}
		if err := fn(ctx, out, spec.Args, resolver); err != nil {
			return nil, storeerr.New(storeerr.KindTransformationErr, errors.Wrapf(err, "transform %d (%s)", i, spec.Kind))
		}
	}
	return out, nil
}

type transformFunc func(ctx context.Context, b *rowbatch.Batch, args map[string]string, r Resolver) error

var registry = map[string]transformFunc{
	"add_column":          addColumn,
	"rename_column":       renameColumn,
	"drop_column":         dropColumn,
	"cast_type":           castType,
	"filter_rows":         filterRows,
	"replace_value":       replaceValue,
	"concatenate_columns": concatenateColumns,
	"split_column":        splitColumn,
	"apply_function":      applyFunction,
}

func addColumn(ctx context.Context, b *rowbatch.Batch, args map[string]string, r Resolver) error {
	name := args["column"]
	if name == "" {
		return fmt.Errorf("add_column requires a column name")
	}
	colType := args["type"]
	if colType == "" {
		colType = "string"
	}
	spec := rowbatch.ColumnSpec{Name: name, Type: colType, Nullable: true}

	switch {
	case args["source_column"] != "":
		src := b.ColumnIndex(args["source_column"])
		if src == -1 {
			return fmt.Errorf("add_column: source column %q not found", args["source_column"])
		}
		return b.AppendColumn(spec, func(i int) any { return b.Rows[i][src] })
	case args["function"] != "":
		fn := args["function"]
		switch fn {
		case "current_timestamp":
			ts := time.Now().UTC()
			return b.AppendColumn(spec, func(int) any { return ts })
		case "row_number":
			return b.AppendColumn(spec, func(i int) any { return int64(i + 1) })
		case "uuid":
			return b.AppendColumn(spec, func(int) any { return uuid.New().String() })
		default:
			return fmt.Errorf("add_column: unknown function %q", fn)
		}
	default:
		value := r.Resolve(ctx, args["value"])
		return b.AppendColumn(spec, func(int) any { return value })
	}
}

func renameColumn(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	from, to := args["from"], args["to"]
	if from == "" || to == "" {
		return fmt.Errorf("rename_column requires 'from' and 'to'")
	}
	b.RenameColumn(from, to)
	return nil
}

func dropColumn(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	name := args["column"]
	if name == "" {
		return fmt.Errorf("drop_column requires a column name")
	}
	b.DropColumn(name)
	return nil
}

func castType(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	name, target := args["column"], args["target_type"]
	if name == "" || target == "" {
		return fmt.Errorf("cast_type requires 'column' and 'target_type'")
	}
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return nil
	}
	cast, ok := casters[target]
	if !ok {
		return fmt.Errorf("cast_type: unsupported target type %q", target)
	}
	for _, row := range b.Rows {
		v, err := cast(row[idx])
		if err != nil {
			return fmt.Errorf("cast_type: column %q: %w", name, err)
		}
		row[idx] = v
	}
	b.Columns[idx].Type = target
	return nil
}

var casters = map[string]func(any) (any, error){
	"string": func(v any) (any, error) { return toString(v), nil },
	"int64": func(v any) (any, error) {
		s := toString(v)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseInt(s, 10, 64)
	},
	"float64": func(v any) (any, error) {
		s := toString(v)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseFloat(s, 64)
	},
	"bool": func(v any) (any, error) {
		s := toString(v)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseBool(s)
	},
	"time": func(v any) (any, error) {
		s := toString(v)
		if s == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("unrecognized time format %q", s)
	},
}

func filterOp(op, cell, value string) bool {
	switch op {
	case "==":
		return cell == value
	case "!=":
		return cell != value
	case ">", "<", ">=", "<=":
		cf, cerr := strconv.ParseFloat(cell, 64)
		vf, verr := strconv.ParseFloat(value, 64)
		if cerr != nil || verr != nil {
			return compareStrings(op, cell, value)
		}
		return compareFloats(op, cf, vf)
	case "in":
		return containsCSV(value, cell)
	case "not_in":
		return !containsCSV(value, cell)
	default:
		return false
	}
}

func compareFloats(op string, a, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	}
	return false
}

func compareStrings(op, a, b string) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	}
	return false
}

func containsCSV(csv, want string) bool {
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}

func filterRows(ctx context.Context, b *rowbatch.Batch, args map[string]string, r Resolver) error {
	name, op := args["column"], args["operator"]
	value := r.Resolve(ctx, args["value"])
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return fmt.Errorf("filter_rows: column %q not found", name)
	}
	b.FilterRows(func(row []any) bool {
		return filterOp(op, toString(row[idx]), value)
	})
	return nil
}

func replaceValue(ctx context.Context, b *rowbatch.Batch, args map[string]string, r Resolver) error {
	name := args["column"]
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return nil
	}
	oldVal := r.Resolve(ctx, args["old_value"])
	newVal := r.Resolve(ctx, args["new_value"])
	for _, row := range b.Rows {
		if toString(row[idx]) == oldVal {
			row[idx] = newVal
		}
	}
	return nil
}

func concatenateColumns(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	target := args["target_column"]
	sep := args["separator"]
	cols := strings.Split(args["columns"], ",")
	if target == "" || len(cols) == 0 {
		return fmt.Errorf("concatenate_columns requires 'target_column' and 'columns'")
	}
	indexes := make([]int, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		idx := b.ColumnIndex(c)
		if idx == -1 {
			return fmt.Errorf("concatenate_columns: column %q not found", c)
		}
		indexes[i] = idx
	}
	spec := rowbatch.ColumnSpec{Name: target, Type: "string", Nullable: true}
	return b.AppendColumn(spec, func(i int) any {
		parts := make([]string, len(indexes))
		for j, idx := range indexes {
			parts[j] = toString(b.Rows[i][idx])
		}
		return strings.Join(parts, sep)
	})
}

func splitColumn(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	name, sep := args["column"], args["separator"]
	targets := strings.Split(args["target_columns"], ",")
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return fmt.Errorf("split_column: column %q not found", name)
	}
	if len(targets) == 0 {
		return fmt.Errorf("split_column requires 'target_columns'")
	}
	parts := make([][]string, b.Len())
	for i, row := range b.Rows {
		parts[i] = strings.SplitN(toString(row[idx]), sep, len(targets))
	}
	for t := range targets {
		targetName := strings.TrimSpace(targets[t])
		t := t
		spec := rowbatch.ColumnSpec{Name: targetName, Type: "string", Nullable: true}
		if err := b.AppendColumn(spec, func(i int) any {
			if t < len(parts[i]) {
				return parts[i][t]
			}
			return ""
		}); err != nil {
			return err
		}
	}
	return nil
}

func applyFunction(_ context.Context, b *rowbatch.Batch, args map[string]string, _ Resolver) error {
	name, fn := args["column"], args["function"]
	idx := b.ColumnIndex(name)
	if idx == -1 {
		return fmt.Errorf("apply_function: column %q not found", name)
	}
	transformCell, ok := pureFunctions[fn]
	if !ok {
		return fmt.Errorf("apply_function: %q is not a permitted pure function", fn)
	}
	for _, row := range b.Rows {
		row[idx] = transformCell(row[idx])
	}
	return nil
}

// pureFunctions is the closed set permitted by apply_function (spec §4.4:
// "arbitrary eval is forbidden").
var pureFunctions = map[string]func(any) any{
	"upper":  func(v any) any { return strings.ToUpper(toString(v)) },
	"lower":  func(v any) any { return strings.ToLower(toString(v)) },
	"trim":   func(v any) any { return strings.TrimSpace(toString(v)) },
	"length": func(v any) any { return int64(len(toString(v))) },
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
