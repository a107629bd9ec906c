// Package queryerr classifies the underlying driver error a CompiledQuery's
// execution returns, for callers that want to distinguish a genuine
// constraint failure from a cancellation or a transient connection error.
// Constraint violations only ever occur on mutating statements, which this
// module's own compiler never produces; the helpers here are for callers
// that run such statements on the same connection. query/fetch and
// query/batch do not use them: they return driver errors unclassified.
package queryerr

import (
	"errors"
	"strings"
)

// errorCoder is implemented by pq.Error and modernc.org/sqlite's error type.
type errorCoder interface {
	Code() string
}

// sqlStateError is implemented by pq.Error and pgx's error type.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// IsConstraintError reports whether err resulted from any database
// constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports whether err resulted from a uniqueness
// constraint violation, e.g. a duplicate value in a unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgUniqueViolation {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgUniqueViolation {
		return true
	}
	return containsAny(err.Error(),
		"violates unique constraint", // PostgreSQL
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports whether err resulted from a
// foreign-key constraint violation, e.g. a referenced parent row missing.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgForeignKeyViolation {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgForeignKeyViolation {
		return true
	}
	return containsAny(err.Error(),
		"violates foreign key constraint", // PostgreSQL
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports whether err resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgCheckViolation {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgCheckViolation {
		return true
	}
	return containsAny(err.Error(),
		"violates check constraint", // PostgreSQL
		"CHECK constraint failed",   // SQLite
	)
}

func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
