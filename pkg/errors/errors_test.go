package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrNotFound, "appointment not found")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "appointment not found", err.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestFromErrorHidesForeignCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")

	err := FromError(cause)

	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, ErrInternal.Message, err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestInternalWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause, "failed to load appointment")

	assert.Equal(t, "INTERNAL_ERROR", CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, "", CodeOf(nil))
}
