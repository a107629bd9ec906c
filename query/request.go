// Package query compiles a [QueryRequest] into a [CompiledQuery]: SQL text
// for one of two dialects, an ordered parameter vector, and (for the find
// methods) an [IncludePlan] the row reducer needs to turn the flat result
// set back into nested records.
//
// Filter shapes are modeled as a tagged variant (Filter / FilterOp), per
// the design note in spec.md §9 against carrying the source's untyped
// string-keyed dispatch table forward: every node is a concrete Go type,
// every dispatch is an exhaustive type switch, and an operator the
// compiler has no case for cannot be constructed at all. Field names and
// operator/field-type fit are checked by the compiler.
package query

import "github.com/arjunmenon/qcompile/schema"

// Method is the query operation requested, mirroring spec.md §6.
type Method uint8

const (
	FindMany Method = iota
	FindFirst
	FindUnique
	Count
	Aggregate
	GroupBy
)

// String returns the method's wire name.
func (m Method) String() string {
	switch m {
	case FindMany:
		return "findMany"
	case FindFirst:
		return "findFirst"
	case FindUnique:
		return "findUnique"
	case Count:
		return "count"
	case Aggregate:
		return "aggregate"
	case GroupBy:
		return "groupBy"
	default:
		return "unknown"
	}
}

// SortDir is an ORDER BY direction.
type SortDir uint8

const (
	Asc SortDir = iota
	Desc
)

// Nulls places NULLs first or last within a sort; the zero value means
// "dialect default" (no NULLS FIRST/LAST clause emitted).
type Nulls uint8

const (
	NullsDefault Nulls = iota
	NullsFirst
	NullsLast
)

// OrderTerm is a single `{ field: 'asc'|'desc', nulls?: ... }` entry.
type OrderTerm struct {
	Field string
	Dir   SortDir
	Nulls Nulls
}

// Arg is a take/skip argument: either a static non-negative integer or a
// named dynamic parameter resolved at execution time.
type Arg struct {
	Static  int
	Dynamic string // non-empty means this Arg is dynamic; Static is ignored
}

// StaticArg returns a static pagination argument.
func StaticArg(n int) Arg { return Arg{Static: n} }

// DynamicArg returns a pagination argument resolved at execution time.
func DynamicArg(name string) Arg { return Arg{Dynamic: name} }

// IsDynamic reports whether a carries a runtime-resolved value.
func (a Arg) IsDynamic() bool { return a.Dynamic != "" }

// AggregateSpec names the aggregate projections an `aggregate` or
// `groupBy` request asks for (spec.md §4.9).
type AggregateSpec struct {
	CountAll    bool
	CountFields []string
	Sum         []string
	Avg         []string
	Min         []string
	Max         []string
}

// Empty reports whether no aggregate projection was requested.
func (a *AggregateSpec) Empty() bool {
	return a == nil || (!a.CountAll && len(a.CountFields) == 0 &&
		len(a.Sum) == 0 && len(a.Avg) == 0 && len(a.Min) == 0 && len(a.Max) == 0)
}

// IncludeSpec names one relation to fetch alongside the main rows, with
// its own nested select/include/where/orderBy/take/skip, mirroring the
// recursive shape spec.md §6 describes for `include`.
type IncludeSpec struct {
	Select  []string
	Include map[string]*IncludeSpec
	Where   Filter
	OrderBy []OrderTerm
	Take    *Arg
	Skip    *Arg
}

// QueryRequest is the compiler's single input type (spec.md §3, §6).
// Identity for caching purposes is (Model, Method, canonicalized fields);
// a QueryRequest is never mutated after it's handed to Compile.
type QueryRequest struct {
	Model  string
	Method Method

	Where Filter

	Select  []string
	Include map[string]*IncludeSpec

	OrderBy []OrderTerm
	Take    *Arg
	Skip    *Arg
	Cursor  map[string]any

	Distinct []string

	GroupByFields []string
	Having        Filter

	Aggregate *AggregateSpec
}

// Options bundles the compiler's tunable resource limits and planner
// thresholds (spec.md §4.5, §4.8, §5) into one functional-options struct,
// the same WithXxx(...) Option idiom dialect/sql/stats.go uses for
// StatsOption/DebugOption.
type Options struct {
	MaxDepth            int
	MaxArraySize        int
	MaxJSONPathSegments int
	MaxJSONPathSegLen   int
	SQLiteInlineINCutoff int
	MaxConcurrency      int
	FetchBatchSize      int
	// EmbedMaxAvgChildren bounds coverage*avg below which a to-many
	// relation embeds via LEFT JOIN instead of a WHERE-IN follow-up.
	EmbedMaxAvgChildren float64
	// EmbedMaxP99 additionally bounds the relation's p99 cardinality; a
	// relation that's usually small but occasionally huge still follows up.
	EmbedMaxP99 float64
}

// Option configures Options.
type Option func(*Options)

// DefaultOptions returns the compiler's default resource limits, matching
// the literal bounds spec.md §5 and §4.5 name.
func DefaultOptions() *Options {
	return &Options{
		MaxDepth:             50,
		MaxArraySize:         10_000,
		MaxJSONPathSegments:  100,
		MaxJSONPathSegLen:    255,
		SQLiteInlineINCutoff: 30,
		MaxConcurrency:       10,
		FetchBatchSize:       100,
		EmbedMaxAvgChildren:  5,
		EmbedMaxP99:          20,
	}
}

// WithMaxDepth overrides the WHERE/NOT/include recursion depth limit.
func WithMaxDepth(n int) Option { return func(o *Options) { o.MaxDepth = n } }

// WithMaxArraySize overrides the in/notIn/has* list size limit.
func WithMaxArraySize(n int) Option { return func(o *Options) { o.MaxArraySize = n } }

// WithMaxConcurrency overrides query/fetch's bounded-concurrency limit.
func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

// WithFetchBatchSize overrides query/fetch's parent-key batch size.
func WithFetchBatchSize(n int) Option { return func(o *Options) { o.FetchBatchSize = n } }

// WithEmbedThresholds overrides the planner's embed-vs-WHERE-IN cutoffs.
func WithEmbedThresholds(maxAvg, maxP99 float64) Option {
	return func(o *Options) { o.EmbedMaxAvgChildren = maxAvg; o.EmbedMaxP99 = maxP99 }
}

func (o *Options) apply(opts []Option) *Options {
	c := *o
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Schema is the subset of schema.Cache the compiler needs: field
// resolution and relation stats. Kept as a narrow interface so tests can
// supply a fake without constructing a full schema.Cache.
type Schema interface {
	Model(name string) (*schema.Model, error)
	GetFieldByName(model, name string) (schema.Field, bool)
	IsRelation(model, name string) bool
	IsScalar(model, name string) bool
	IsJSONType(model, name string) bool
	IsArrayType(model, name string) bool
	IsNumeric(model, name string) bool
	GetPrimaryKeyFields(model string) ([]schema.Field, error)
}

// Stats is the subset of schema.RelationStats the include planner
// consults to decide embed-vs-WHERE-IN for a to-many relation.
type Stats interface {
	Lookup(parent, relation string) (schema.RelationStat, bool)
}

