// Package dialect provides the database-dialect abstraction the query
// compiler builds on.
//
// A [Dialect] is the seam that keeps every other component of the compiler
// (the WHERE/HAVING builders, the SELECT/aggregate builders, the operator
// modules) free of any `if postgres { } else { }` branching: each emits a
// named fragment by calling the Dialect, never by string-switching on the
// dialect name itself.
//
// # Supported dialects
//
//	dialect.Postgres = "postgres"
//	dialect.SQLite   = "sqlite"
//
// # Driver interface
//
// The package also defines the thin Driver/Tx/ExecQuerier contract the
// compiler's executors (query/fetch, query/batch) run compiled statements
// through. It says nothing about connection pooling or transaction
// isolation beyond what's needed to sequence a handful of queries; that is
// deliberate, see spec.md's non-goals.
package dialect

import "context"

// Supported dialect names.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Dialect emits dialect-specific SQL fragments given already-quoted
// identifiers and already-allocated placeholder tokens. Implementations
// never see raw user values — those always flow through a parameter store
// binding — so a Dialect method can never be the place an injection slips
// in.
type Dialect interface {
	// Name returns the dialect constant (Postgres or SQLite).
	Name() string

	// QuoteIdent double-quotes name, doubling any embedded quote.
	QuoteIdent(name string) string

	// BuildTableReference returns the FROM-clause reference for a table,
	// optionally schema-qualified. SQLite ignores schema.
	BuildTableReference(schema, table string) string

	// PlaceholderFor returns the placeholder token for the given 1-based
	// parameter position. PostgreSQL: "$N". SQLite: "?".
	PlaceholderFor(position int) string

	// InArray and NotInArray render `expr IN (...)`/`expr NOT IN (...)`
	// equivalents. ph is the already-allocated placeholder token(s); for
	// PostgreSQL a single placeholder bound to an array value is used
	// (`= ANY($1)`), for SQLite either inline placeholders or a
	// json_each expansion depending on how many were allocated.
	InArray(expr string, phs []string) string
	NotInArray(expr string, phs []string) string

	// Array predicates for array-typed columns.
	ArrayContains(expr, ph string) string
	ArrayOverlaps(expr, ph string) string
	ArrayContainsAll(expr, ph string) string
	ArrayIsEmpty(expr string) string
	ArrayIsNotEmpty(expr string) string
	ArrayEquals(expr, ph string) string

	// JSON path extraction. path is a placeholder bound to the already
	// normalized path value (PostgreSQL: text[]; SQLite: "$.a.b.c").
	JSONExtractText(expr, path string) string
	JSONExtractNumeric(expr, path string) string
	JSONToText(expr string) string

	// Case-insensitive comparisons.
	CaseInsensitiveLike(expr, ph string) string
	CaseInsensitiveEquals(expr, ph string) string

	// InlineINCutoff returns the largest list length SQLite renders as
	// inline placeholders before switching to a JSON-array expansion.
	// PostgreSQL ignores this (it always uses ANY($1)).
	InlineINCutoff() int

	// MaxParams returns the driver's maximum bindable parameter count,
	// used by the WHERE-IN executor to chunk parent keys.
	MaxParams() int
}

// ExecQuerier wraps the two operations a compiled query needs to run.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is a dialect-aware ExecQuerier that can also start transactions.
type Driver interface {
	ExecQuerier
	Tx(ctx context.Context) (Tx, error)
	Close() error
	Dialect() string
}

// Tx extends Driver with transaction control.
type Tx interface {
	Driver
	Commit() error
	Rollback() error
}
