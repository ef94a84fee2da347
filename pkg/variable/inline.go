package variable

import (
	"regexp"
	"strings"

	"github.com/dtaas-io/engine/pkg/model"
)

// inlineDef is one parsed "$Name = expr" binding from a template's trailing
// where clause (spec §4.3 point 3, "Inline DSL parsing").
type inlineDef struct {
	kind    model.GlobalVariableKind
	static  string
	expr    string
	dbQuery *model.DBQueryConfig
}

var whereClause = regexp.MustCompile(`(?is)\s+where\s+(\$[A-Za-z_][A-Za-z0-9_]*\s*=.*)$`)

// assignmentSplit finds the top-level boundaries between successive
// "$Name = expr" bindings: it matches a comma together with the
// "$ident =" of the assignment that follows it. Commas embedded inside an
// expr (e.g. an IN (...) list) are not followed by "$ident =" and are left
// untouched. parseInlineDefs cuts at the comma only, so each part keeps
// its own "$Name =".
var assignmentSplit = regexp.MustCompile(`,\s*\$[A-Za-z_][A-Za-z0-9_]*\s*=`)

var assignmentPattern = regexp.MustCompile(`(?s)^\$([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)$`)

var selectKeyword = regexp.MustCompile(`(?i)^\s*SELECT\b`)

var identifierRef = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// splitInlineClause separates a path/argument template into its body and
// trailing " where $Name = expr, ..." clause, per the path template grammar
// (spec §6). If there is no such clause, inline is "".
func splitInlineClause(template string) (body, inline string) {
	loc := whereClause.FindStringSubmatchIndex(template)
	if loc == nil {
		return template, ""
	}
	return template[:loc[0]], template[loc[2]:loc[3]]
}

// parseInlineDefs parses the comma-separated "$Name = expr" bindings of an
// inline clause, classifying each per spec §4.3's "Inline DSL parsing":
// an expr whose uppercase form starts with SELECT is a db_query, parsed by
// a small hand-written recogniser; else an expr containing $... is an
// expression; else it is a static literal.
func (r *Resolver) parseInlineDefs(inline string) map[string]inlineDef {
	defs := make(map[string]inlineDef)
	if strings.TrimSpace(inline) == "" {
		return defs
	}
	var parts []string
	start := 0
	for _, loc := range assignmentSplit.FindAllStringIndex(inline, -1) {
		parts = append(parts, inline[start:loc[0]])
		start = loc[0] + 1 // keep the "$Name =" that follows the comma
	}
	parts = append(parts, inline[start:])
	for _, part := range parts {
		m := assignmentPattern.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		name, expr := m[1], strings.TrimSpace(m[2])
		defs[name] = classifyInlineExpr(expr)
	}
	return defs
}

func classifyInlineExpr(expr string) inlineDef {
	if selectKeyword.MatchString(expr) {
		if dq, ok := recognizeSelect(expr); ok {
			return inlineDef{kind: model.GlobalDBQuery, dbQuery: dq}
		}
		return inlineDef{kind: model.GlobalDBQuery, dbQuery: &model.DBQueryConfig{RawQuery: expr}}
	}
	if identifierRef.MatchString(expr) {
		return inlineDef{kind: model.GlobalExpr, expr: expr}
	}
	return inlineDef{kind: model.GlobalStatic, static: expr}
}

// selectShape matches a restricted SELECT grammar:
//
//	SELECT <column> FROM [<schema>.]<table> [WHERE <cond> [AND <cond>]...]
//
// Anything outside this shape is left for the raw_query fallback.
var selectShape = regexp.MustCompile(`(?is)^\s*SELECT\s+([A-Za-z_][A-Za-z0-9_]*)\s+FROM\s+(?:([A-Za-z_][A-Za-z0-9_]*)\.)?([A-Za-z_][A-Za-z0-9_]*)\s*(?:WHERE\s+(.*))?$`)

var condPattern = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(=|!=|>=|<=|>|<|LIKE|IN)\s*(.*?)\s*$`)

// recognizeSelect is the small hand-written SELECT recogniser called for
// by spec §9 ("a small hand-written recogniser over a restricted grammar").
func recognizeSelect(expr string) (*model.DBQueryConfig, bool) {
	m := selectShape.FindStringSubmatch(expr)
	if m == nil {
		return nil, false
	}
	dq := &model.DBQueryConfig{Column: m[1], Schema: m[2], Table: m[3]}
	whereText := strings.TrimSpace(m[4])
	if whereText == "" {
		return dq, true
	}
	for _, clause := range splitAnd(whereText) {
		cm := condPattern.FindStringSubmatch(strings.TrimSpace(clause))
		if cm == nil {
			return nil, false
		}
		dq.WhereConditions = append(dq.WhereConditions, model.WhereCondition{
			Field:    cm[1],
			Operator: model.WhereOperator(strings.ToUpper(cm[2])),
			Value:    strings.Trim(cm[3], "'\""),
		})
	}
	return dq, true
}

var andSplit = regexp.MustCompile(`(?i)\s+AND\s+`)

func splitAnd(s string) []string {
	return andSplit.Split(s, -1)
}
