package variable

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dtaas-io/engine/pkg/model"
)

var safeIdentifier = regexp.MustCompile(`^\w+$`)

// runDBQuery builds and executes a parameterized lookup query for a
// db_query global/inline variable (spec §4.3). Every identifier (schema,
// table, column, where field) is whitelisted against \w before being
// concatenated into the query text; every value is passed as a bound
// parameter, never interpolated, so db_query can never be an injection
// vector (spec §8 testable property 8).
func (r *Resolver) runDBQuery(ctx context.Context, dq *model.DBQueryConfig) (string, error) {
	if dq == nil {
		return "", fmt.Errorf("db_query variable has no configuration")
	}
	exec, err := r.queryExecutorFor(ctx, dq)
	if err != nil {
		return "", err
	}

	if dq.RawQuery != "" && dq.Column == "" && dq.Table == "" {
		return exec.QueryValue(ctx, dq.RawQuery, nil)
	}

	if !safeIdentifier.MatchString(dq.Column) || !safeIdentifier.MatchString(dq.Table) {
		return "", fmt.Errorf("db_query references an unsafe identifier")
	}
	if dq.Schema != "" && !safeIdentifier.MatchString(dq.Schema) {
		return "", fmt.Errorf("db_query references an unsafe identifier")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(r.quoteIdent(dq.Column))
	b.WriteString(" FROM ")
	if dq.Schema != "" {
		b.WriteString(r.quoteIdent(dq.Schema))
		b.WriteString(".")
	}
	b.WriteString(r.quoteIdent(dq.Table))

	var args []any
	if len(dq.WhereConditions) > 0 {
		b.WriteString(" WHERE ")
		for i, cond := range dq.WhereConditions {
			if i > 0 {
				b.WriteString(" AND ")
			}
			if !safeIdentifier.MatchString(cond.Field) {
				return "", fmt.Errorf("db_query references an unsafe identifier")
			}
			b.WriteString(r.quoteIdent(cond.Field))
			clauseArgs, err := r.appendCondition(ctx, &b, cond)
			if err != nil {
				return "", err
			}
			args = append(args, clauseArgs...)
		}
	}
	return exec.QueryValue(ctx, b.String(), args)
}

// appendCondition writes the operator and placeholder(s) for cond to b and
// returns the bound argument values, resolving any $variable reference
// within the condition's value first (spec §4.3's inline db_query values
// may themselves reference other variables).
func (r *Resolver) appendCondition(ctx context.Context, b *strings.Builder, cond model.WhereCondition) ([]any, error) {
	switch cond.Operator {
	case model.OpIn:
		values := strings.Split(cond.Value, ",")
		placeholders := make([]string, len(values))
		args := make([]any, len(values))
		for i, v := range values {
			resolved := r.Resolve(ctx, strings.TrimSpace(v))
			placeholders[i] = "?"
			args[i] = resolved
		}
		b.WriteString(" IN (")
		b.WriteString(strings.Join(placeholders, ", "))
		b.WriteString(")")
		return args, nil
	default:
		b.WriteString(" ")
		b.WriteString(string(cond.Operator))
		b.WriteString(" ?")
		return []any{r.Resolve(ctx, cond.Value)}, nil
	}
}

// queryExecutorFor returns the connection a db_query runs against: the
// task's default source connection, or a freshly opened scoped connection
// when the variable specifies its own server/database/credentials.
func (r *Resolver) queryExecutorFor(ctx context.Context, dq *model.DBQueryConfig) (QueryExecutor, error) {
	if dq.Server == "" && dq.Database == "" {
		if r.def == nil {
			return nil, fmt.Errorf("no default connection available for db_query")
		}
		return r.def, nil
	}
	if r.opener == nil {
		return nil, fmt.Errorf("db_query specifies its own connection but no connection opener is configured")
	}
	return r.opener.Open(ctx, dq.Server, dq.Database, dq.Username, dq.Password)
}
