package queryerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arjunmenon/qcompile/query/queryerr"
)

// pqLikeError mimics pq.Error/pgx's shape: a Code() and SQLState() method
// returning the same SQLSTATE string.
type pqLikeError struct{ code string }

func (e pqLikeError) Error() string    { return "pq: constraint violation" }
func (e pqLikeError) Code() string     { return e.code }
func (e pqLikeError) SQLState() string { return e.code }

func TestIsUniqueConstraintError(t *testing.T) {
	assert.True(t, queryerr.IsUniqueConstraintError(pqLikeError{code: "23505"}))
	assert.True(t, queryerr.IsUniqueConstraintError(errors.New(`pq: duplicate key value violates unique constraint "users_email_key"`)))
	assert.True(t, queryerr.IsUniqueConstraintError(errors.New("UNIQUE constraint failed: users.email")))
	assert.False(t, queryerr.IsUniqueConstraintError(pqLikeError{code: "23503"}))
	assert.False(t, queryerr.IsUniqueConstraintError(nil))

	wrapped := fmt.Errorf("executing query: %w", pqLikeError{code: "23505"})
	assert.True(t, queryerr.IsUniqueConstraintError(wrapped))
}

func TestIsForeignKeyConstraintError(t *testing.T) {
	assert.True(t, queryerr.IsForeignKeyConstraintError(pqLikeError{code: "23503"}))
	assert.True(t, queryerr.IsForeignKeyConstraintError(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, queryerr.IsForeignKeyConstraintError(pqLikeError{code: "23505"}))
}

func TestIsCheckConstraintError(t *testing.T) {
	assert.True(t, queryerr.IsCheckConstraintError(pqLikeError{code: "23514"}))
	assert.True(t, queryerr.IsCheckConstraintError(errors.New("new row violates check constraint \"price_nonneg\"")))
	assert.False(t, queryerr.IsCheckConstraintError(pqLikeError{code: "23505"}))
}

func TestIsConstraintError(t *testing.T) {
	assert.True(t, queryerr.IsConstraintError(pqLikeError{code: "23505"}))
	assert.True(t, queryerr.IsConstraintError(pqLikeError{code: "23503"}))
	assert.True(t, queryerr.IsConstraintError(pqLikeError{code: "23514"}))
	assert.False(t, queryerr.IsConstraintError(errors.New("connection refused")))
	assert.False(t, queryerr.IsConstraintError(nil))
}
