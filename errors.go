// Package qcompile compiles structured query requests into dialect-specific
// SQL and reshapes the resulting rows back into nested object graphs. See
// query.Compile for the entrypoint and Error for the error type every
// compiler stage returns.
package qcompile

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the two failure modes that indicate a bug in
// the compiler itself rather than a malformed request: a mismatch between
// placeholders and bound arguments, or a parameter-store invariant broken
// mid-compilation. Both are always fatal; neither is expected to occur on a
// correct request.
var (
	// ErrPlaceholderMismatch is returned when the number of bound arguments
	// does not match the number of placeholders emitted for a query.
	ErrPlaceholderMismatch = errors.New("qcompile: placeholder/argument count mismatch")

	// ErrStateCorruption is returned when the parameter store or reducer
	// encounters state that contradicts the plan it was built from (e.g. a
	// join key column the planner promised would be present).
	ErrStateCorruption = errors.New("qcompile: internal state contradicts compiled plan")
)

// Kind classifies why compilation failed. The set is exhaustive: every error
// the compiler returns carries exactly one Kind.
type Kind uint8

const (
	// KindUnknownField means a path referenced a field the model cache has
	// no entry for.
	KindUnknownField Kind = iota
	// KindUnknownRelation means a path referenced a relation the model
	// cache has no entry for.
	KindUnknownRelation
	// KindUnknownOperator means a filter node used an operator name the
	// operator dispatch table doesn't recognize.
	KindUnknownOperator
	// KindInvalidArgument means an operator's argument failed shape
	// validation (wrong arity, wrong element type, out-of-range value).
	KindInvalidArgument
	// KindInvalidOperatorForType means the operator doesn't apply to the
	// field's base type (e.g. contains on an int field).
	KindInvalidOperatorForType
	// KindInvalidOption means a compiler or query option value is
	// unusable (e.g. an unknown dialect name, or a negative statement
	// timeout).
	KindInvalidOption
	// KindDepthExceeded means the filter or include tree nests past the
	// configured maximum depth.
	KindDepthExceeded
	// KindCycleDetected means a WHERE or HAVING filter node appears again
	// among its own descendants (a cyclic filter tree).
	KindCycleDetected
	// KindResourceLimit means a configured size ceiling was exceeded (array
	// length, JSON path segment count, parameter count).
	KindResourceLimit
	// KindUnsupported means the request asks for a combination the active
	// dialect or operation cannot express (e.g. batch on SQLite).
	KindUnsupported
	// KindPlaceholderMismatch mirrors ErrPlaceholderMismatch as a Kind, for
	// callers that switch on Kind rather than using errors.Is.
	KindPlaceholderMismatch
	// KindStateCorruption mirrors ErrStateCorruption as a Kind.
	KindStateCorruption
)

// String returns the kind's canonical name, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindUnknownField:
		return "UnknownField"
	case KindUnknownRelation:
		return "UnknownRelation"
	case KindUnknownOperator:
		return "UnknownOperator"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidOperatorForType:
		return "InvalidOperatorForType"
	case KindInvalidOption:
		return "InvalidOption"
	case KindDepthExceeded:
		return "DepthExceeded"
	case KindCycleDetected:
		return "CycleDetected"
	case KindResourceLimit:
		return "ResourceLimit"
	case KindUnsupported:
		return "Unsupported"
	case KindPlaceholderMismatch:
		return "PlaceholderMismatch"
	case KindStateCorruption:
		return "StateCorruption"
	default:
		return "Unknown"
	}
}

// Error is the single tagged error type every compiler stage returns. Path
// is the breadcrumb of keys from the request root (e.g. "where.OR[1].email")
// and is included to help a caller locate the offending node in a large
// request without re-walking it themselves. Model, Field, Operator and Value
// are populated when the failure pins down to one of them; callers that only
// care about the category can switch on Kind and ignore the rest.
type Error struct {
	Kind     Kind
	Message  string
	Path     string
	Model    string
	Field    string
	Operator string
	Value    any
}

// Error returns the error string.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("qcompile: %s: %s (at %s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("qcompile: %s: %s", e.Kind, e.Message)
}

// Is reports whether target is the sentinel matching e's Kind, so that
// errors.Is(err, ErrPlaceholderMismatch) and errors.Is(err, ErrStateCorruption)
// work against an *Error the same way they would against the bare sentinel.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindPlaceholderMismatch:
		return target == ErrPlaceholderMismatch
	case KindStateCorruption:
		return target == ErrStateCorruption
	default:
		return false
	}
}

// NewError returns a new *Error of the given kind with a formatted message.
func NewError(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// WithModel returns a copy of e with Model set, for chaining at the call
// site that first knows which model the failure belongs to.
func (e *Error) WithModel(model string) *Error {
	c := *e
	c.Model = model
	return &c
}

// WithField returns a copy of e with Field set.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithOperator returns a copy of e with Operator set.
func (e *Error) WithOperator(op string) *Error {
	c := *e
	c.Operator = op
	return &c
}

// WithValue returns a copy of e with Value set.
func (e *Error) WithValue(v any) *Error {
	c := *e
	c.Value = v
	return &c
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
