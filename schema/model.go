// Package schema holds the model/field cache (C4) and the identifier/alias
// utilities (C3) the rest of the compiler builds its SQL against. A [Model]
// is loaded once from schema metadata and never mutated; everything this
// package exposes beyond the raw struct fields is a memoized index over
// that fixed data, computed on first use and reused for the model's
// lifetime.
package schema

import "github.com/arjunmenon/qcompile/schema/field"

// Locality records which side of a relation holds the foreign-key column.
type Locality uint8

const (
	// LocalityNone applies to non-relation fields.
	LocalityNone Locality = iota
	// LocalityOwner means this Field's Model's table carries the FK.
	LocalityOwner
	// LocalityInverse means the related model's table carries the FK.
	LocalityInverse
)

// Field is one column (scalar or relation) of a Model, as described by
// spec.md §3.
type Field struct {
	// Name is the logical field name queries reference.
	Name string
	// Column is the physical column name. Empty for a pure relation field
	// that has no own column (the FK lives on the related side).
	Column string
	// Type is the field's base scalar kind. Zero value (field.TypeOther)
	// for relation fields.
	Type field.Type
	// Nullable reports whether the column accepts NULL.
	Nullable bool
	// Array reports whether the column holds a list of Type rather than a
	// single value.
	Array bool

	// Relation fields only, below. IsRelation is the discriminant; every
	// other Relation* field is meaningless when it is false.
	IsRelation bool
	// RelationName pairs this field with its mirror field on the related
	// model (both sides of one logical relation share a RelationName).
	RelationName string
	// RelatedModel is the logical name of the model this field points to.
	RelatedModel string
	// Many reports whether this end of the relation is to-many (true) or
	// to-one (false).
	Many bool
	// ForeignKeyColumns are the FK columns on the locality-owning side.
	ForeignKeyColumns []string
	// ReferenceColumns are the columns ForeignKeyColumns point at on the
	// other side, matched up positionally.
	ReferenceColumns []string
	// Locality records which side holds the FK.
	Locality Locality
	// JoinTable is set for many-to-many relations: the name of the
	// association table neither model owns directly.
	JoinTable string
}

// Model is a named relation backed by a physical table (spec.md §3).
// Immutable once constructed; [Cache] wraps a Model with the memoized
// per-model indices the compiler consults on every filter/select/order
// clause.
type Model struct {
	// Name is the logical model name (e.g. "User").
	Name string
	// Schema names the database schema Table lives in. The query compiler
	// does not read it: every statement it emits names Table unqualified.
	Schema string
	// Table is the physical table name.
	Table string
	// Fields is the ordered list of the model's fields, scalar and
	// relation alike.
	Fields []Field
}

// FieldByName returns the field with the given logical name, or false if
// none exists. Callers in hot paths should prefer a *Cache, which memoizes
// this lookup; Model itself does a linear scan.
func (m *Model) FieldByName(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
