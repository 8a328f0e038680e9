package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodesMapToStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:          http.StatusBadRequest,
		CodeInvalidAmount:       http.StatusBadRequest,
		CodePaymentNotCompleted: http.StatusBadRequest,
		CodeUnauthorized:        http.StatusUnauthorized,
		CodeForbidden:           http.StatusForbidden,
		CodeConflict:            http.StatusConflict,
		CodeProviderUnavailable: http.StatusInternalServerError,
		CodeInternal:            http.StatusInternalServerError,
		Code("unknown"):         http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("verify: %w", Wrap(cause, CodeProviderUnavailable, "payment provider unavailable"))

	assert.True(t, HasCode(err, CodeProviderUnavailable))
	assert.ErrorIs(t, err, cause)

	de, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, "connection refused", de.Detail())
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(New(CodeValidation, "bad metadata")))
	assert.False(t, Retryable(New(CodeInvalidAmount, "bad amount")))
	assert.True(t, Retryable(New(CodePaymentNotCompleted, "unpaid")))
	assert.True(t, Retryable(errors.New("plain")))
}
