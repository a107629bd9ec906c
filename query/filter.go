package query

// Filter is a node of the WHERE/HAVING filter tree (spec.md §4.6). It's a
// closed sum type: And, Or, Not, FieldFilter, RelationFilter, and the
// HAVING-only AggregateFilter are the only implementations, and the WHERE
// and HAVING compilers' type switches over it are exhaustive.
type Filter interface{ isFilter() }

// And conjoins Children. An empty And compiles to the literal `1=1`.
type And struct{ Children []Filter }

// Or disjoins Children. An empty Or compiles to the literal `0=1`.
type Or struct{ Children []Filter }

// Not negates its single Child as `NOT (<child>)`; several conditions are
// negated together by passing an And (or Or) as Child.
type Not struct{ Child Filter }

// FieldFilter compares one scalar field. Op is nil to mean "field IS
// NULL" (the null-shorthand spec.md §4.6 describes); otherwise Op names
// the comparison.
type FieldFilter struct {
	Field string
	Op    FilterOp
}

// RelationFilter descends into a relation field. For a to-many relation
// exactly one of Some/Every/None should be set; for a to-one relation
// exactly one of Is/IsNot.
type RelationFilter struct {
	Field string
	Some  Filter
	Every Filter
	None  Filter
	Is    Filter
	IsNot Filter
}

// AggFunc names the aggregate function an AggregateFilter applies before
// comparing, mirroring AggregateSpec's projection kinds.
type AggFunc uint8

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// String returns the SQL function name (e.g. "SUM"), used both to render
// the HAVING expression and in error messages.
func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// AggregateFilter is a HAVING-only filter node comparing an aggregate
// expression against Op's operand: `SUM(points) > 10`, `COUNT(*) > 5`, and
// so on (spec.md §4.9's aggregate-first and field-first HAVING shapes both
// compile down to this one node). Field is ignored when Fn is AggCount and
// CountAll is true. Op is restricted to the comparison set HAVING allows:
// Equals, NotEquals, GT, GTE, LT, LTE, In, NotIn, optionally wrapped in
// NotOpWrapper.
type AggregateFilter struct {
	Fn       AggFunc
	Field    string
	CountAll bool
	Op       FilterOp
}

func (*And) isFilter()             {}
func (*Or) isFilter()              {}
func (*Not) isFilter()             {}
func (*FieldFilter) isFilter()     {}
func (*RelationFilter) isFilter()  {}
func (*AggregateFilter) isFilter() {}

// FilterOp is a scalar/array/JSON comparison operator, dispatched on by
// the operator modules (spec.md §4.5). Like Filter, it's a closed sum
// type matched exhaustively by compileOp.
type FilterOp interface{ isFilterOp() }

// Mode is the case-sensitivity mode for string-shaped operators.
type Mode uint8

const (
	Sensitive Mode = iota
	Insensitive
)

// NotOpWrapper negates a single operator in place, e.g. `not: { gt: 5 }`.
// It's named distinctly from the Filter-level Not so the two negations
// (boolean-tree Not vs. per-operator not) aren't confused at a call site.
type NotOpWrapper struct{ Op FilterOp }

func (NotOpWrapper) isFilterOp() {}

// Equals compares for equality; a nil Value means IS NULL.
type Equals struct{ Value any }

// NotEquals compares for inequality; a nil Value means IS NOT NULL.
type NotEquals struct{ Value any }

// GT, GTE, LT, LTE are ordering comparisons, valid only on numeric
// (spec.md §4.5: integer/floating/decimal/big-integer/date-time) fields.
type (
	GT  struct{ Value any }
	GTE struct{ Value any }
	LT  struct{ Value any }
	LTE struct{ Value any }
)

// In/NotIn test set membership. An empty Values list on In compiles to
// the literal `0=1`; on NotIn, to `1=1`.
type (
	In    struct{ Values []any }
	NotIn struct{ Values []any }
)

// Contains, StartsWith, EndsWith are LIKE-family string operators.
type (
	Contains   struct {
		Value string
		Mode  Mode
	}
	StartsWith struct {
		Value string
		Mode  Mode
	}
	EndsWith struct {
		Value string
		Mode  Mode
	}
)

// Has reports whether an array field contains Value.
type Has struct{ Value any }

// HasSome reports whether an array field has non-empty overlap with Values.
type HasSome struct{ Values []any }

// HasEvery reports whether an array field is a superset of Values.
type HasEvery struct{ Values []any }

// IsEmptyOp reports whether an array field is (or isn't) empty.
type IsEmptyOp struct{ Value bool }

// JSONPath compares the value at Path within a JSON field using Cmp, one
// of Equals/GT/GTE/LT/LTE. Numeric comparisons dispatch to
// jsonExtractNumeric; Equals with a non-numeric Value dispatches to
// jsonExtractText.
type JSONPath struct {
	Path []string
	Cmp  FilterOp
}

// JSONStringContains, JSONStringStartsWith, JSONStringEndsWith apply a
// LIKE-family comparison over the JSON value at Path cast to text.
type (
	JSONStringContains struct {
		Path  []string
		Value string
		Mode  Mode
	}
	JSONStringStartsWith struct {
		Path  []string
		Value string
		Mode  Mode
	}
	JSONStringEndsWith struct {
		Path  []string
		Value string
		Mode  Mode
	}
)

func (Equals) isFilterOp()               {}
func (NotEquals) isFilterOp()            {}
func (GT) isFilterOp()                   {}
func (GTE) isFilterOp()                  {}
func (LT) isFilterOp()                   {}
func (LTE) isFilterOp()                  {}
func (In) isFilterOp()                   {}
func (NotIn) isFilterOp()                {}
func (Contains) isFilterOp()             {}
func (StartsWith) isFilterOp()           {}
func (EndsWith) isFilterOp()             {}
func (Has) isFilterOp()                  {}
func (HasSome) isFilterOp()              {}
func (HasEvery) isFilterOp()             {}
func (IsEmptyOp) isFilterOp()            {}
func (JSONPath) isFilterOp()             {}
func (JSONStringContains) isFilterOp()   {}
func (JSONStringStartsWith) isFilterOp() {}
func (JSONStringEndsWith) isFilterOp()   {}

// Eq is shorthand for &FieldFilter{Field: field, Op: Equals{Value: v}}.
func Eq(field string, v any) Filter { return &FieldFilter{Field: field, Op: Equals{Value: v}} }

// IsNull is shorthand for a field-is-null filter.
func IsNull(field string) Filter { return &FieldFilter{Field: field} }
