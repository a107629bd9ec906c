package dialect

import (
	"strconv"
	"strings"
)

// postgres implements Dialect for PostgreSQL.
type postgres struct{}

// PG is the shared PostgreSQL Dialect instance.
var PG Dialect = postgres{}

func (postgres) Name() string { return Postgres }

func (postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d postgres) BuildTableReference(schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

func (postgres) PlaceholderFor(position int) string {
	return "$" + strconv.Itoa(position)
}

// InArray renders `expr = ANY($N)`; PostgreSQL binds the whole list as one
// array-typed parameter, so phs always holds exactly one placeholder.
func (postgres) InArray(expr string, phs []string) string {
	return expr + " = ANY(" + phs[0] + ")"
}

func (postgres) NotInArray(expr string, phs []string) string {
	return "NOT (" + expr + " = ANY(" + phs[0] + "))"
}

func (postgres) ArrayContains(expr, ph string) string    { return expr + " @> " + ph }
func (postgres) ArrayOverlaps(expr, ph string) string     { return expr + " && " + ph }
func (postgres) ArrayContainsAll(expr, ph string) string  { return expr + " @> " + ph }
func (postgres) ArrayIsEmpty(expr string) string          { return "COALESCE(array_length(" + expr + ", 1), 0) = 0" }
func (postgres) ArrayIsNotEmpty(expr string) string       { return "COALESCE(array_length(" + expr + ", 1), 0) > 0" }
func (postgres) ArrayEquals(expr, ph string) string       { return expr + " = " + ph }

func (postgres) JSONExtractText(expr, path string) string {
	return expr + " #>> " + path
}

func (postgres) JSONExtractNumeric(expr, path string) string {
	return "(" + expr + " #>> " + path + ")::numeric"
}

func (postgres) JSONToText(expr string) string {
	return expr + "::text"
}

func (postgres) CaseInsensitiveLike(expr, ph string) string {
	return expr + " ILIKE " + ph
}

func (postgres) CaseInsensitiveEquals(expr, ph string) string {
	return "LOWER(" + expr + ") = LOWER(" + ph + ")"
}

// InlineINCutoff is meaningless for PostgreSQL: InArray always uses
// = ANY($1) regardless of list length.
func (postgres) InlineINCutoff() int { return -1 }

// MaxParams is PostgreSQL's practical bound on bound parameters per
// statement (the wire protocol's int16 parameter count, minus headroom).
func (postgres) MaxParams() int { return 32000 }
