// Package sql provides the SQL string-assembly primitives the compiler's
// builders are written against: a placeholder-aware [Builder], predicate
// constructors, and a [Selector] for SELECT/aggregate statements. It also
// carries the ambient database/sql driver wrapper (see driver.go) and the
// statistics/debug decorators (see stats.go).
//
// Every predicate constructor in this package funnels user values through
// a shared [Builder]'s argument list; no value is ever concatenated into
// the SQL text. Bare column names are auto-quoted; any expression that
// already contains a double quote (produced by [Selector.C] or a nested
// subquery) is passed through untouched.
package sql

import (
	"strings"

	"github.com/arjunmenon/qcompile/dialect"
)

// Builder assembles SQL text and collects the positional argument values
// referenced by placeholders written into that text. A tree of Predicates
// evaluated against one Builder shares a single running placeholder
// counter, so the final, top-level Query() call sees a dense, gapless
// $1..$N (or one "?" per occurrence for SQLite).
type Builder struct {
	dialect dialect.Dialect
	sb      strings.Builder
	args    []any
	total   *int
}

// NewBuilder returns a Builder rooted at d with a fresh placeholder
// counter.
func NewBuilder(d dialect.Dialect) *Builder {
	total := 0
	return &Builder{dialect: d, total: &total}
}

// fork returns a Builder that writes into a new buffer and keeps its own
// argument list but shares this Builder's dialect and placeholder counter,
// so fragments built independently (e.g. a subquery) still number
// placeholders consistently within the whole statement once joined back in.
func (b *Builder) fork() *Builder {
	return &Builder{dialect: b.dialect, total: b.total}
}

// Dialect returns the Builder's Dialect.
func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

// WriteString appends s verbatim; callers must never pass user-controlled
// text here, only structural SQL tokens.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Ident quotes name as an identifier.
func (b *Builder) Ident(name string) *Builder {
	b.sb.WriteString(b.dialect.QuoteIdent(name))
	return b
}

// autoQuote quotes expr as a bare identifier unless it already looks like
// a pre-built, quoted expression (contains a double quote) or a raw SQL
// fragment (contains a space or parenthesis).
func (b *Builder) autoQuote(expr string) string {
	if strings.ContainsAny(expr, `"( `) {
		return expr
	}
	return b.dialect.QuoteIdent(expr)
}

// Arg allocates the next placeholder position, records value as its
// argument, writes the placeholder token into the buffer, and returns
// the token (some callers need it twice, e.g. ANY($1) array binds).
func (b *Builder) Arg(value any) string {
	*b.total++
	ph := b.dialect.PlaceholderFor(*b.total)
	b.sb.WriteString(ph)
	b.args = append(b.args, value)
	return ph
}

// ArgPlaceholder is like Arg but does not write the token into the
// buffer; the caller splices it in manually (used when a fragment needs
// the same placeholder at more than one textual position).
func (b *Builder) ArgPlaceholder(value any) string {
	*b.total++
	ph := b.dialect.PlaceholderFor(*b.total)
	b.args = append(b.args, value)
	return ph
}

// String returns the accumulated SQL text.
func (b *Builder) String() string { return b.sb.String() }

// Args returns the accumulated positional arguments.
func (b *Builder) Args() []any { return append([]any(nil), b.args...) }

// Total returns the number of placeholders allocated so far.
func (b *Builder) Total() int { return *b.total }

// Querier is implemented by anything that can render itself (and its
// arguments) into SQL text, independent of any particular Builder (used
// for subqueries embedded in a predicate).
type Querier interface {
	Query() (string, []any)
}
