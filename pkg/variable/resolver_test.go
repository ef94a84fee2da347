package variable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dtaas-io/engine/pkg/model"
)

type fakeExecutor struct {
	calls   []string
	args    [][]any
	results []string
}

func (f *fakeExecutor) QueryValue(ctx context.Context, query string, args []any) (string, error) {
	f.calls = append(f.calls, query)
	f.args = append(f.args, args)
	if len(f.results) == 0 {
		return "", nil
	}
	v := f.results[0]
	f.results = f.results[1:]
	return v, nil
}

type recordingWarn struct {
	warnings []string
}

func (r *recordingWarn) Warnf(format string, args ...any) {
	r.warnings = append(r.warnings, format)
}

func TestResolveContextVariablesCaseInsensitive(t *testing.T) {
	r := New(Context{TableName: "orders", TaskID: "t-1"}, nil, nil, nil, nil, nil)
	assert.Equal(t, "orders/t-1", r.Resolve(context.Background(), "$TableName/$taskId"))
}

func TestResolveBuiltinUUIDIsFreshEachCall(t *testing.T) {
	r := New(Context{}, nil, nil, nil, nil, nil)
	a := r.Resolve(context.Background(), "$uuid")
	b := r.Resolve(context.Background(), "$uuid")
	assert.NotEqual(t, a, b)
}

func TestResolveUndefinedVariableFallsBackToUnknown(t *testing.T) {
	warn := &recordingWarn{}
	r := New(Context{}, nil, nil, nil, nil, warn)
	assert.Equal(t, "unknown", r.Resolve(context.Background(), "$neverDefined"))
	assert.Len(t, warn.warnings, 1)
}

func TestResolveGlobalStaticIsMemoized(t *testing.T) {
	r := New(Context{}, []model.GlobalVariable{
		{Name: "Env", Kind: model.GlobalStatic, Static: "prod", IsActive: true},
	}, nil, nil, nil, nil)
	assert.Equal(t, "prod", r.Resolve(context.Background(), "$Env"))
	assert.Equal(t, "prod-prod", r.Resolve(context.Background(), "$Env-$Env"))
}

func TestResolveInactiveGlobalIsUndefined(t *testing.T) {
	r := New(Context{}, []model.GlobalVariable{
		{Name: "Env", Kind: model.GlobalStatic, Static: "prod", IsActive: false},
	}, nil, nil, nil, nil)
	assert.Equal(t, "unknown", r.Resolve(context.Background(), "$Env"))
}

func TestResolveInlineStaticBinding(t *testing.T) {
	r := New(Context{}, nil, nil, nil, nil, nil)
	got := r.Resolve(context.Background(), "$Region/file.csv where $Region = us-east-1")
	assert.Equal(t, "us-east-1/file.csv", got)
}

func TestResolveInlineExpressionBinding(t *testing.T) {
	r := New(Context{TaskID: "42"}, nil, nil, nil, nil, nil)
	got := r.Resolve(context.Background(), "$Prefix-out.csv where $Prefix = run-$taskId")
	assert.Equal(t, "run-42-out.csv", got)
}

func TestResolveInlineDBQueryBinding(t *testing.T) {
	exec := &fakeExecutor{results: []string{"acme-corp"}}
	r := New(Context{}, nil, exec, nil, nil, nil)
	got := r.Resolve(context.Background(), "$tenant/orders.csv where $tenant = SELECT slug FROM tenants WHERE id = 1")
	assert.Equal(t, "acme-corp/orders.csv", got)
	assert.Len(t, exec.calls, 1)
	assert.Contains(t, exec.args[0], "1")
}

func TestResolveGlobalDBQueryWithWhereConditionsAndIN(t *testing.T) {
	exec := &fakeExecutor{results: []string{"east"}}
	r := New(Context{}, []model.GlobalVariable{
		{
			Name: "Region", Kind: model.GlobalDBQuery, IsActive: true,
			DBQuery: &model.DBQueryConfig{
				Schema: "dbo", Table: "regions", Column: "name",
				WhereConditions: []model.WhereCondition{
					{Field: "status", Operator: model.OpIn, Value: "active,pending"},
				},
			},
		},
	}, exec, nil, nil, nil)
	got := r.Resolve(context.Background(), "$Region")
	assert.Equal(t, "east", got)
	assert.Equal(t, []any{"active", "pending"}, exec.args[0])
	assert.Contains(t, exec.calls[0], `IN (?, ?)`)
}

func TestDBQueryRejectsUnsafeIdentifiers(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(Context{}, nil, exec, nil, nil, nil)
	_, err := r.runDBQuery(context.Background(), &model.DBQueryConfig{
		Column: "name; DROP TABLE users;--", Table: "regions",
	})
	assert.Error(t, err)
	assert.Empty(t, exec.calls)
}

func TestRawQueryFallbackForUnparseableSelect(t *testing.T) {
	exec := &fakeExecutor{results: []string{"v"}}
	r := New(Context{}, nil, exec, nil, nil, nil)
	got := r.Resolve(context.Background(), "$x where $x = SELECT TOP 1 name FROM dbo.regions ORDER BY id DESC")
	assert.Equal(t, "v", got)
	assert.Equal(t, "SELECT TOP 1 name FROM dbo.regions ORDER BY id DESC", exec.calls[0])
	assert.Nil(t, exec.args[0])
}

func TestSplitInlineClause(t *testing.T) {
	body, inline := splitInlineClause("$a/$b.csv where $a = 1, $b = SELECT x FROM t WHERE y IN (1,2)")
	assert.Equal(t, "$a/$b.csv", body)
	assert.Equal(t, "$a = 1, $b = SELECT x FROM t WHERE y IN (1,2)", inline)
}

func TestSplitInlineClauseNoClause(t *testing.T) {
	body, inline := splitInlineClause("$a/$b.csv")
	assert.Equal(t, "$a/$b.csv", body)
	assert.Equal(t, "", inline)
}
