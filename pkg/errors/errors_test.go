package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClonesMatchSentinel(t *testing.T) {
	err := Clone(ErrNotFound, "generation not found")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestWrapAsKeepsCause(t *testing.T) {
	err := WrapAs(sql.ErrNoRows, ErrValidation, "")
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "validation failed: sql: no rows in result set", err.Error())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidationf(t *testing.T) {
	err := Validationf("invalid %s id", "teacher")
	assert.Equal(t, "invalid teacher id", err.Message)
	assert.Equal(t, ErrValidation.Code, err.Code)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	wrapped := fmt.Errorf("queue: %w", ErrUnavailable)
	assert.Same(t, ErrUnavailable, FromError(wrapped))

	internal := FromError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.Equal(t, ErrInternal.Code, internal.Code)
}
