// Package field names the base scalar types a model's fields can carry,
// used by the schema cache and the WHERE compiler to decide which
// operators and dialect casts apply to a given column.
package field

// Type enumerates the base scalar kinds the compiler reasons about. It
// deliberately stays coarser than either database's native type system:
// all integer widths collapse to TypeInt, all floating widths to
// TypeFloat64, since the compiler never needs to distinguish them to
// generate correct SQL.
type Type uint8

const (
	TypeOther Type = iota
	TypeBool
	TypeInt
	TypeFloat64
	TypeString
	TypeTime
	TypeJSON
	TypeBytes
	TypeEnum
	TypeUUID
)

// String returns the type's canonical name, used in error messages.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeTime:
		return "time"
	case TypeJSON:
		return "json"
	case TypeBytes:
		return "bytes"
	case TypeEnum:
		return "enum"
	case TypeUUID:
		return "uuid"
	default:
		return "other"
	}
}

// Numeric reports whether comparison operators (gt/gte/lt/lte) apply.
func (t Type) Numeric() bool {
	switch t {
	case TypeInt, TypeFloat64, TypeTime:
		return true
	default:
		return false
	}
}

// Textual reports whether string operators (contains, hasPrefix,
// hasSuffix, mode: insensitive) apply.
func (t Type) Textual() bool {
	return t == TypeString || t == TypeEnum || t == TypeUUID
}
