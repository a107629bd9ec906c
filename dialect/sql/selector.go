package sql

import (
	"strings"

	"github.com/arjunmenon/qcompile/dialect"
)

// Predicate renders a boolean SQL condition into a Builder that already
// owns the statement's placeholder counter and argument list.
type Predicate func(*Builder)

// query renders the Predicate into b and returns b's accumulated text and
// arguments.
func (p Predicate) query(b *Builder) (string, []any) {
	p(b)
	return b.String(), b.args
}

func wrap(inner Predicate) Predicate {
	return func(b *Builder) {
		b.WriteByte('(')
		inner(b)
		b.WriteByte(')')
	}
}

func binary(column, op string, value any) Predicate {
	return func(b *Builder) {
		b.WriteString(b.autoQuote(column))
		b.WriteString(" " + op + " ")
		b.Arg(value)
	}
}

// EQ renders `column = value`, except a literal bool true/false compares
// against a boolean column without a placeholder: `column` / `NOT column`.
func EQ(column string, value any) Predicate {
	if bv, ok := value.(bool); ok {
		if bv {
			return func(b *Builder) { b.WriteString(b.autoQuote(column)) }
		}
		return func(b *Builder) {
			b.WriteString("NOT ")
			b.WriteString(b.autoQuote(column))
		}
	}
	return binary(column, "=", value)
}

func NEQ(column string, value any) Predicate {
	if bv, ok := value.(bool); ok {
		return EQ(column, !bv)
	}
	return binary(column, "<>", value)
}
func GT(column string, value any) Predicate  { return binary(column, ">", value) }
func GTE(column string, value any) Predicate { return binary(column, ">=", value) }
func LT(column string, value any) Predicate  { return binary(column, "<", value) }
func LTE(column string, value any) Predicate { return binary(column, "<=", value) }

// IsNull renders `column IS NULL`.
func IsNull(column string) Predicate {
	return func(b *Builder) {
		b.WriteString(b.autoQuote(column))
		b.WriteString(" IS NULL")
	}
}

// NotNull renders `column IS NOT NULL`.
func NotNull(column string) Predicate {
	return func(b *Builder) {
		b.WriteString(b.autoQuote(column))
		b.WriteString(" IS NOT NULL")
	}
}

// Like renders `column LIKE pattern` using a case-sensitive match; case
// insensitivity is the caller's responsibility via the active Dialect's
// CaseInsensitiveLike (see query/where.go's compileLike).
func Like(column string, pattern any) Predicate {
	return func(b *Builder) {
		b.WriteString(b.autoQuote(column))
		b.WriteString(" LIKE ")
		b.Arg(pattern)
	}
}

// In renders `column IN (v1, v2, ...)` as one placeholder per value. For
// dialects that prefer a single array-typed bind (PostgreSQL's = ANY),
// callers should use the dialect's InArray fragment directly instead.
func In(column string, values ...any) Predicate {
	return func(b *Builder) {
		if len(values) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.WriteString(b.autoQuote(column))
		b.WriteString(" IN (")
		for i, v := range values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Arg(v)
		}
		b.WriteByte(')')
	}
}

func NotIn(column string, values ...any) Predicate {
	return func(b *Builder) {
		if len(values) == 0 {
			b.WriteString("1 = 1")
			return
		}
		b.WriteString("NOT (")
		In(column, values...)(b)
		b.WriteByte(')')
	}
}

// And conjoins predicates; an empty list renders the always-true
// sentinel `1=1`.
func And(preds ...Predicate) Predicate {
	return func(b *Builder) {
		if len(preds) == 0 {
			b.WriteString("1=1")
			return
		}
		if len(preds) == 1 {
			preds[0](b)
			return
		}
		b.WriteByte('(')
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			p(b)
		}
		b.WriteByte(')')
	}
}

// Or disjoins predicates; an empty list renders the always-false
// sentinel `0=1`.
func Or(preds ...Predicate) Predicate {
	return func(b *Builder) {
		if len(preds) == 0 {
			b.WriteString("0=1")
			return
		}
		if len(preds) == 1 {
			preds[0](b)
			return
		}
		b.WriteByte('(')
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			p(b)
		}
		b.WriteByte(')')
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(b *Builder) {
		b.WriteString("NOT ")
		wrap(p)(b)
	}
}

// Raw wraps a pre-built expression (e.g. one produced by a dialect's
// array/JSON fragment methods) as a Predicate, with no further quoting.
func Raw(expr string) Predicate {
	return func(b *Builder) { b.WriteString(expr) }
}

// ColumnsCompare renders `left op right` comparing two already-qualified
// column expressions directly, with no parameter binding.
func ColumnsCompare(left, op, right string) Predicate {
	return func(b *Builder) {
		b.WriteString(left)
		b.WriteString(" " + op + " ")
		b.WriteString(right)
	}
}

// SelectTable names a FROM/JOIN target, optionally schema-qualified and
// aliased.
type SelectTable struct {
	schema string
	name   string
	as     string
}

// Table names an unqualified table.
func Table(name string) *SelectTable { return &SelectTable{name: name} }

// TableSchema names a schema-qualified table.
func TableSchema(schema, name string) *SelectTable {
	return &SelectTable{schema: schema, name: name}
}

// As sets the table's alias.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// Alias returns the effective alias: the explicit one if set, else the
// table's own name.
func (t *SelectTable) Alias() string {
	if t.as != "" {
		return t.as
	}
	return t.name
}

func (t *SelectTable) ref(b *Builder) string {
	base := b.dialect.BuildTableReference(t.schema, t.name)
	if t.as == "" {
		return base
	}
	return base + " AS " + b.dialect.QuoteIdent(t.as)
}

type joinClause struct {
	kind  string // "JOIN", "LEFT JOIN", ...
	table *SelectTable
	on    Predicate
}

type orderTerm struct {
	expr string
	desc bool
}

// Selector builds a SELECT statement. Its zero value is not usable;
// start from Dialect(name).Select(...).
type Selector struct {
	d              dialect.Dialect
	columns        []string
	distinct       bool
	from           *SelectTable
	joins          []joinClause
	where          Predicate
	whereCompound  bool
	groupBy        []string
	having         Predicate
	havingCompound bool
	orderBy        []orderTerm
	limit          *int
	offset         *int
	fromAlias      string
}

// DialectBuilder resolves a dialect name before handing off to Select.
type DialectBuilder struct {
	d   dialect.Dialect
	err error
}

// Dialect starts a builder chain bound to the named dialect ("postgres"
// or "sqlite"). A bad name surfaces as a panic on first Select call
// rather than a nil dialect, since it indicates a programming error (an
// unregistered dialect name reaching the compiler), not a request-shaped
// error a caller would want to recover from mid-chain.
func Dialect(name string) *DialectBuilder {
	d, err := dialect.For(name)
	return &DialectBuilder{d: d, err: err}
}

func (db *DialectBuilder) Select(columns ...string) *Selector {
	if db.err != nil {
		panic(db.err)
	}
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &Selector{d: db.d, columns: columns}
}

func (s *Selector) From(t *SelectTable) *Selector {
	s.from = t
	s.fromAlias = t.Alias()
	return s
}

// TableAlias returns the alias of the Selector's FROM table, for
// building qualified column references via C.
func (s *Selector) TableAlias() string { return s.fromAlias }

// Dialect returns the Selector's bound Dialect.
func (s *Selector) Dialect() dialect.Dialect { return s.d }

// C qualifies name with the Selector's current table alias and quotes
// both parts, producing a fragment safe to pass straight into a
// predicate constructor without re-quoting.
func (s *Selector) C(name string) string {
	return s.d.QuoteIdent(s.fromAlias) + "." + s.d.QuoteIdent(name)
}

// AddColumns appends further projection columns onto a Selector after
// construction, for callers (e.g. an include planner) that only learn
// about additional embedded columns once they've started building joins.
func (s *Selector) AddColumns(cols ...string) *Selector {
	s.columns = append(s.columns, cols...)
	return s
}

func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

func (s *Selector) Join(t *SelectTable, on Predicate) *Selector {
	s.joins = append(s.joins, joinClause{kind: "JOIN", table: t, on: on})
	return s
}

func (s *Selector) LeftJoin(t *SelectTable, on Predicate) *Selector {
	s.joins = append(s.joins, joinClause{kind: "LEFT JOIN", table: t, on: on})
	return s
}

// Where ANDs p onto the Selector's filter. Each call after the first
// joins flatly with the previous one; once a third (or later) call
// arrives, the predicate accumulated so far is parenthesized before the
// new term is appended, so a left-deep chain of Where calls never
// changes meaning as more terms are added.
func (s *Selector) Where(p Predicate) *Selector {
	s.where, s.whereCompound = accumulate(s.where, s.whereCompound, p)
	return s
}

func (s *Selector) GroupBy(exprs ...string) *Selector {
	s.groupBy = append(s.groupBy, exprs...)
	return s
}

// Having ANDs p onto the Selector's post-aggregation filter, with the
// same incremental-wrapping behavior as Where.
func (s *Selector) Having(p Predicate) *Selector {
	s.having, s.havingCompound = accumulate(s.having, s.havingCompound, p)
	return s
}

// HasWhere reports whether a predicate has already been accumulated on
// the Selector, for callers that need to decide whether adding another
// one constitutes an AND-combination or stands alone.
func (s *Selector) HasWhere() bool { return s.where != nil }

// HasHaving is HasWhere's HAVING-clause counterpart.
func (s *Selector) HasHaving() bool { return s.having != nil }

func accumulate(existing Predicate, compound bool, p Predicate) (Predicate, bool) {
	if existing == nil {
		return p, false
	}
	left := existing
	if compound {
		left = wrap(existing)
	}
	return flatAnd(left, p), true
}

func flatAnd(a, b Predicate) Predicate {
	return func(bld *Builder) {
		a(bld)
		bld.WriteString(" AND ")
		b(bld)
	}
}

func (s *Selector) OrderBy(expr string) *Selector {
	s.orderBy = append(s.orderBy, orderTerm{expr: expr})
	return s
}

func (s *Selector) OrderByDesc(expr string) *Selector {
	s.orderBy = append(s.orderBy, orderTerm{expr: expr, desc: true})
	return s
}

func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Query renders the full statement and its positional arguments.
func (s *Selector) Query() (string, []any) {
	b := NewBuilder(s.d)
	s.writeTo(b)
	return b.String(), b.args
}

func (s *Selector) writeTo(b *Builder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(s.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.from.ref(b))
	for _, j := range s.joins {
		b.WriteString(" " + j.kind + " ")
		b.WriteString(j.table.ref(b))
		b.WriteString(" ON ")
		j.on(b)
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where(b)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having(b)
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.orderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.expr)
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ")
		b.Arg(*s.limit)
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ")
		b.Arg(*s.offset)
	}
}

// query lets *Selector satisfy Querier so it can be embedded as a
// subquery inside another statement (e.g. an EXISTS clause).
func (s *Selector) query(b *Builder) (string, []any) {
	s.writeTo(b)
	return b.String(), b.args
}

// AsSubquery wraps the Selector in parentheses for use inside a larger
// predicate (EXISTS, IN, scalar subselect).
func (s *Selector) AsSubquery() Predicate {
	return func(b *Builder) {
		b.WriteByte('(')
		s.writeTo(b)
		b.WriteByte(')')
	}
}

// Exists wraps a subquery as an EXISTS predicate, and NotExists its
// negation; both are how relation-filter (some/none/every) and has-edge
// predicates are compiled.
func Exists(sub *Selector) Predicate {
	return func(b *Builder) {
		b.WriteString("EXISTS ")
		sub.AsSubquery()(b)
	}
}

func NotExists(sub *Selector) Predicate {
	return func(b *Builder) {
		b.WriteString("NOT EXISTS ")
		sub.AsSubquery()(b)
	}
}

// InSubquery renders `column IN (subquery)`, used by SQLite's parent-key
// pagination (query/compile.go's compileParentKeySubselect) where the
// candidate set comes from an inner SELECT rather than a literal value list.
func InSubquery(column string, sub *Selector) Predicate {
	return func(b *Builder) {
		b.WriteString(column)
		b.WriteString(" IN ")
		sub.AsSubquery()(b)
	}
}
