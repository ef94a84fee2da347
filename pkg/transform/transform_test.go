package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/rowbatch"
)

func sampleBatch() *rowbatch.Batch {
	b := rowbatch.New([]rowbatch.ColumnSpec{
		{Name: "id", Type: "int64"},
		{Name: "first", Type: "string"},
		{Name: "last", Type: "string"},
	})
	b.Rows = [][]any{
		{int64(1), "Ada", "Lovelace"},
		{int64(2), "Alan", "Turing"},
	}
	return b
}

func TestApplyOrderMattersAndIsSequential(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "concatenate_columns", Args: map[string]string{"target_column": "full_name", "columns": "first,last", "separator": " "}},
		{Kind: "drop_column", Args: map[string]string{"column": "first"}},
		{Kind: "apply_function", Args: map[string]string{"column": "full_name", "function": "upper"}},
	}
	out, err := Apply(context.Background(), b, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, -1, out.ColumnIndex("first"))
	idx := out.ColumnIndex("full_name")
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "ADA LOVELACE", out.Rows[0][idx])
	assert.Equal(t, "ALAN TURING", out.Rows[1][idx])
}

func TestAddColumnDuplicateNameFails(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "add_column", Args: map[string]string{"column": "id", "value": "x"}},
	}
	_, err := Apply(context.Background(), b, specs, nil)
	assert.Error(t, err)
}

func TestRenameAndDropAreNoOpWhenColumnAbsent(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "rename_column", Args: map[string]string{"from": "missing", "to": "whatever"}},
		{Kind: "drop_column", Args: map[string]string{"column": "missing"}},
	}
	out, err := Apply(context.Background(), b, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, len(out.Columns))
}

func TestFilterRowsWithInOperator(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "filter_rows", Args: map[string]string{"column": "first", "operator": "in", "value": "Ada,Grace"}},
	}
	out, err := Apply(context.Background(), b, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, "Ada", out.Rows[0][1])
}

func TestCastTypeInt64(t *testing.T) {
	b := rowbatch.New([]rowbatch.ColumnSpec{{Name: "n", Type: "string"}})
	b.Rows = [][]any{{"42"}}
	specs := []model.TransformSpec{
		{Kind: "cast_type", Args: map[string]string{"column": "n", "target_type": "int64"}},
	}
	out, err := Apply(context.Background(), b, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.Rows[0][0])
}

func TestSplitColumnProducesNTargets(t *testing.T) {
	b := rowbatch.New([]rowbatch.ColumnSpec{{Name: "full", Type: "string"}})
	b.Rows = [][]any{{"a|b|c"}}
	specs := []model.TransformSpec{
		{Kind: "split_column", Args: map[string]string{"column": "full", "separator": "|", "target_columns": "p1,p2,p3"}},
	}
	out, err := Apply(context.Background(), b, specs, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", out.Rows[0][out.ColumnIndex("p1")])
	assert.Equal(t, "b", out.Rows[0][out.ColumnIndex("p2")])
	assert.Equal(t, "c", out.Rows[0][out.ColumnIndex("p3")])
}

func TestApplyFunctionRejectsArbitraryName(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "apply_function", Args: map[string]string{"column": "first", "function": "os.Exec"}},
	}
	_, err := Apply(context.Background(), b, specs, nil)
	assert.Error(t, err)
}

func TestUnknownTransformKindFails(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{{Kind: "delete_everything"}}
	_, err := Apply(context.Background(), b, specs, nil)
	assert.Error(t, err)
}

type staticResolver struct{ out string }

func (s staticResolver) Resolve(context.Context, string) string { return s.out }

func TestAddColumnValueIsVariableResolved(t *testing.T) {
	b := sampleBatch()
	specs := []model.TransformSpec{
		{Kind: "add_column", Args: map[string]string{"column": "batch_tag", "value": "$ignored"}},
	}
	out, err := Apply(context.Background(), b, specs, staticResolver{out: "resolved-value"})
	require.NoError(t, err)
	idx := out.ColumnIndex("batch_tag")
	assert.Equal(t, "resolved-value", out.Rows[0][idx])
}
