// Package variable implements the templated $identifier substitution
// language used in destination path templates and transformation arguments
// (spec §4.3). Resolution order, first match wins: built-in dynamic,
// context, inline (same-template "where $Name = expr" bindings), then
// global variables loaded once per resolver instance.
package variable

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dtaas-io/engine/pkg/model"
)

var identifierToken = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// WarnSink receives a warning whenever resolution falls back to "unknown"
// (spec §4.3 failure policy), so it can be surfaced via the progress sink.
type WarnSink interface {
	Warnf(format string, args ...any)
}

// QueryExecutor runs a single parameterized query and returns the first
// column of the first row as a string, or "" if there were no rows.
type QueryExecutor interface {
	QueryValue(ctx context.Context, query string, args []any) (string, error)
}

// ConnectionOpener opens a scoped QueryExecutor against an auxiliary
// database, used when a db_query global variable specifies its own
// connection fields (spec §4.3).
type ConnectionOpener interface {
	Open(ctx context.Context, server, database, username, password string) (QueryExecutor, error)
}

// Context is the set of context variables available for a given batch
// (spec §4.3 point 2), matched case-insensitively.
type Context struct {
	SourceDatabaseName string
	TableName          string // aliased to sourceTableName
	TaskName           string
	TaskID             string
	ConnectorName      string
	Server             string // aliased to serverName
	Port               string
}

func (c Context) lookup(nameLower string) (string, bool) {
	switch nameLower {
	case "sourcedatabasename":
		return c.SourceDatabaseName, true
	case "tablename", "sourcetablename":
		return c.TableName, true
	case "taskname":
		return c.TaskName, true
	case "taskid":
		return c.TaskID, true
	case "connectorname":
		return c.ConnectorName, true
	case "server", "servername":
		return c.Server, true
	case "port":
		return c.Port, true
	}
	return "", false
}

// Resolver resolves $identifier tokens within a single batch's lifetime.
// It is not safe for concurrent use (spec §5: "the Variable Resolver
// instance is per-batch; its cache has a single-writer scope").
type Resolver struct {
	ctx        Context
	globals    map[string]model.GlobalVariable
	def        QueryExecutor
	opener     ConnectionOpener
	quoteIdent func(string) string
	warn       WarnSink
	memo       map[string]string
	nowFn      func() time.Time
	newUUID    func() string
}

// New constructs a Resolver. defaultExec is reused by db_query globals that
// do not specify their own connection (the task's source connection);
// opener is used to open a scoped connection when they do. quoteIdent quotes
// a bare identifier in the source dialect (e.g. backticks for MySQL,
// double quotes for Postgres/Oracle, brackets for SQL Server); if nil, the
// ANSI double-quote form is used.
func New(ctx Context, globals []model.GlobalVariable, defaultExec QueryExecutor, opener ConnectionOpener, quoteIdent func(string) string, warn WarnSink) *Resolver {
	gm := make(map[string]model.GlobalVariable, len(globals))
	for _, g := range globals {
		if g.IsActive {
			gm[g.Name] = g
		}
	}
	if quoteIdent == nil {
		quoteIdent = func(ident string) string { return `"` + ident + `"` }
	}
	return &Resolver{
		ctx:        ctx,
		globals:    gm,
		def:        defaultExec,
		opener:     opener,
		quoteIdent: quoteIdent,
		warn:       warn,
		memo:       make(map[string]string),
		nowFn:      time.Now,
		newUUID:    func() string { return uuid.New().String() },
	}
}

// Resolve substitutes every $identifier in template, per the resolution
// order in spec §4.3. Resolution failures never propagate an error: the
// literal string "unknown" is substituted and a warning is surfaced,
// matching the failure policy.
func (r *Resolver) Resolve(ctx context.Context, template string) string {
	body, inline := splitInlineClause(template)
	inlineVars := r.parseInlineDefs(inline)
	return identifierToken.ReplaceAllStringFunc(body, func(tok string) string {
		name := tok[1:]
		val, err := r.resolveName(ctx, name, inlineVars)
		if err != nil {
			if r.warn != nil {
				r.warn.Warnf("variable resolution failed for $%s: %v", name, err)
			}
			return "unknown"
		}
		return val
	})
}

func (r *Resolver) resolveName(ctx context.Context, name string, inline map[string]inlineDef) (string, error) {
	// 1. Built-in dynamic: always fresh, never cached.
	switch name {
	case "timestamp":
		return r.nowFn().UTC().Format("20060102_150405"), nil
	case "date":
		return r.nowFn().UTC().Format("20060102"), nil
	case "uuid":
		return r.newUUID(), nil
	}

	// 2. Context, case-insensitive.
	if val, ok := r.ctx.lookup(strings.ToLower(name)); ok {
		return val, nil
	}

	// 3. Inline, exact name.
	if def, ok := inline[name]; ok {
		return r.resolveInline(ctx, name, def)
	}

	// 4. Global, exact name, memoized.
	if cached, ok := r.memo[name]; ok {
		return cached, nil
	}
	if gv, ok := r.globals[name]; ok {
		val, err := r.resolveGlobal(ctx, gv)
		if err != nil {
			return "", err
		}
		r.memo[name] = val
		return val, nil
	}
	return "", fmt.Errorf("undefined variable")
}

func (r *Resolver) resolveGlobal(ctx context.Context, gv model.GlobalVariable) (string, error) {
	switch gv.Kind {
	case model.GlobalStatic:
		return gv.Static, nil
	case model.GlobalExpr:
		return r.Resolve(ctx, gv.Expr), nil
	case model.GlobalDBQuery:
		return r.runDBQuery(ctx, gv.DBQuery)
	default:
		return "", fmt.Errorf("unknown global variable kind %q", gv.Kind)
	}
}

func (r *Resolver) resolveInline(ctx context.Context, name string, def inlineDef) (string, error) {
	switch def.kind {
	case model.GlobalStatic:
		return def.static, nil
	case model.GlobalExpr:
		return r.Resolve(ctx, def.expr), nil
	case model.GlobalDBQuery:
		return r.runDBQuery(ctx, def.dbQuery)
	default:
		return "", fmt.Errorf("unresolvable inline variable $%s", name)
	}
}

