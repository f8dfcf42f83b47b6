package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrNotFound, "document not found")

	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "document not found", err.Error())
	assert.Nil(t, err.Cause)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrBackendUnavailable, "backend request failed")

	assert.Equal(t, ErrBackendUnavailable, err.Code)
	assert.Equal(t, "backend request failed: connection refused", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternal, "should be nil"))
}

func TestWithDetails(t *testing.T) {
	base := New(ErrConflict, "document update conflict")
	detailed := base.WithDetails("user_abc")

	assert.Equal(t, "user_abc", detailed.Details)
	// Исходная ошибка не меняется
	assert.Empty(t, base.Details)
	assert.Equal(t, base.Code, detailed.Code)
}

func TestWithFields(t *testing.T) {
	err := New(ErrImmutableField, "patch touches protected fields").WithFields("ownerId", "type")

	assert.Equal(t, []string{"ownerId", "type"}, err.Fields)
}

func TestIs_MatchesByCode(t *testing.T) {
	err := New(ErrForbidden, "not an owner")

	assert.True(t, stderrors.Is(err, New(ErrForbidden, "any message")))
	assert.False(t, stderrors.Is(err, New(ErrNotFound, "any message")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrMalformedID, CodeOf(New(ErrMalformedID, "bad id")))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain error")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestIsCode(t *testing.T) {
	err := New(ErrConflict, "conflict")

	assert.True(t, IsCode(err, ErrConflict))
	assert.False(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrConflict))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{ErrImmutableField, http.StatusBadRequest},
		{ErrMalformedID, http.StatusBadRequest},
		{ErrValidation, http.StatusBadRequest},
		{ErrConflict, http.StatusConflict},
		{ErrBackendUnavailable, http.StatusBadGateway},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			require.Equal(t, tt.status, New(tt.code, "msg").HTTPStatus())
		})
	}
}
