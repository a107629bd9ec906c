package sql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arjunmenon/qcompile/dialect"
)

// MaxParamPosition is the resource limit from spec.md §5: a parameter
// store refuses to grow past this many bindings.
const MaxParamPosition = 1<<53 - 1 - 1000

// dynamicMarker is the sentinel value addAuto recognizes and decodes into
// a named dynamic binding instead of a static one.
type dynamicMarker struct{ name string }

// Dynamic wraps name as a dynamic-parameter marker: a placeholder whose
// value is supplied at execution time, not compile time.
func Dynamic(name string) any { return dynamicMarker{name: name} }

// Binding is exactly one of a literal value or a dynamic parameter name,
// never both, at a given 1-based position.
type Binding struct {
	Position     int
	LiteralValue any
	DynamicName  string
}

// IsDynamic reports whether this binding is a named runtime parameter.
func (b Binding) IsDynamic() bool { return b.DynamicName != "" }

// Snapshot is an immutable, shareable view of a parameter store at a
// point in time: the position the next binding would take, and the
// ordered bindings collected so far.
type Snapshot struct {
	NextPosition int
	Bindings     []Binding
}

// Params returns the ordered literal/placeholder values ready to pass to
// a database driver: static bindings yield their literal value, dynamic
// bindings yield their own dynamicMarker (the caller resolves it before
// execution).
func (s Snapshot) Params() []any {
	out := make([]any, len(s.Bindings))
	for i, b := range s.Bindings {
		if b.IsDynamic() {
			out[i] = Dynamic(b.DynamicName)
			continue
		}
		out[i] = b.LiteralValue
	}
	return out
}

// ParamStore appends static/dynamic parameter bindings for one
// compilation and returns the placeholder token to splice into SQL text.
// A store is not thread-safe and must not be shared across concurrent
// compilations (spec.md §5).
type ParamStore struct {
	dialect    dialect.Dialect
	startIndex int
	bindings   []Binding
	byName     map[string]int // dynamic name -> position, for dedup
}

// NewParamStore creates a fresh store starting at position 1.
func NewParamStore(d dialect.Dialect) *ParamStore {
	return NewContinuedParamStore(d, 1)
}

// NewContinuedParamStore creates a store that continues numbering from
// startIndex, enabling composition (e.g. a HAVING fragment built after a
// WHERE fragment that already claimed positions 1..k).
func NewContinuedParamStore(d dialect.Dialect, startIndex int) *ParamStore {
	return &ParamStore{dialect: d, startIndex: startIndex, byName: map[string]int{}}
}

// FromSnapshot resumes a store from a previously captured Snapshot,
// preserving its dynamic-name dedup table.
func FromSnapshot(d dialect.Dialect, snap Snapshot) *ParamStore {
	ps := &ParamStore{
		dialect:    d,
		startIndex: snap.NextPosition - len(snap.Bindings),
		bindings:   append([]Binding(nil), snap.Bindings...),
		byName:     map[string]int{},
	}
	for _, b := range ps.bindings {
		if b.IsDynamic() {
			ps.byName[b.DynamicName] = b.Position
		}
	}
	return ps
}

func (p *ParamStore) nextPosition() int {
	return p.startIndex + len(p.bindings)
}

// placeholderAt renders the dialect placeholder token for position.
func (p *ParamStore) placeholderAt(position int) string {
	return p.dialect.PlaceholderFor(position)
}

// AddStatic appends a new binding for value at the next position and
// returns its placeholder token.
func (p *ParamStore) AddStatic(value any) (string, error) {
	pos := p.nextPosition()
	if pos > MaxParamPosition {
		return "", &LimitError{Kind: "ResourceLimit", Message: "parameter store exceeded MAX_SAFE_INTEGER-1000 positions"}
	}
	p.bindings = append(p.bindings, Binding{Position: pos, LiteralValue: normalize(value)})
	return p.placeholderAt(pos), nil
}

// AddDynamic appends (or reuses) a binding for a named runtime parameter.
// Calling AddDynamic(name) twice in one compilation always returns the
// same placeholder token.
func (p *ParamStore) AddDynamic(name string) (string, error) {
	if name == "" {
		return "", &LimitError{Kind: "InvalidArgument", Message: "dynamic parameter name must not be empty"}
	}
	if pos, ok := p.byName[name]; ok {
		return p.placeholderAt(pos), nil
	}
	pos := p.nextPosition()
	if pos > MaxParamPosition {
		return "", &LimitError{Kind: "ResourceLimit", Message: "parameter store exceeded MAX_SAFE_INTEGER-1000 positions"}
	}
	p.bindings = append(p.bindings, Binding{Position: pos, DynamicName: name})
	p.byName[name] = pos
	return p.placeholderAt(pos), nil
}

// AddAuto decodes value: if it carries a dynamic-parameter marker
// (produced by Dynamic), it's routed to AddDynamic; otherwise AddStatic.
func (p *ParamStore) AddAuto(value any) (string, error) {
	if m, ok := value.(dynamicMarker); ok {
		return p.AddDynamic(m.name)
	}
	return p.AddStatic(value)
}

// Snapshot captures the store's state as an immutable value object.
func (p *ParamStore) Snapshot() Snapshot {
	return Snapshot{
		NextPosition: p.nextPosition(),
		Bindings:     append([]Binding(nil), p.bindings...),
	}
}

// LimitError reports a resource-limit or argument violation raised while
// growing a parameter store.
type LimitError struct {
	Kind    string
	Message string
}

func (e *LimitError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// normalize converts a value into its canonical stored form: time.Time
// becomes an ISO-8601 string, slices/arrays are normalized recursively.
func normalize(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000Z")
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	default:
		return value
	}
}

// NormalizeJSON returns the canonical JSON text for value, used when
// binding array parameters for dialects (SQLite) that compare JSON text
// directly and when expanding IN-lists through json_each.
func NormalizeJSON(value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
