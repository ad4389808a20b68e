package errors

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hrygo/mindloop/plugin/ai/retry"
)

func TestFromGeneration(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"Canceled", context.Canceled, ErrCodeContextCanceled},
		{"Deadline", errors.Wrap(context.DeadlineExceeded, "stream"), ErrCodeTimeout},
		{"Transient", &retry.HTTPError{Status: http.StatusServiceUnavailable}, ErrCodeLLMUnavailable},
		{"RateLimited", &retry.HTTPError{Status: http.StatusTooManyRequests}, ErrCodeLLMUnavailable},
		{"Permanent", &retry.HTTPError{Status: http.StatusUnauthorized}, ErrCodeGenerationFailed},
		{"Plain", stderrors.New("refused"), ErrCodeGenerationFailed},
		{"AlreadyClassified", InvalidArgument("bad"), ErrCodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromGeneration(tt.err)
			assert.Equal(t, tt.want, got.Code)
			assert.True(t, IsCode(got, tt.want))
		})
	}
}

func TestAIError(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, ErrCodeSessionUnavailable, "failed to commit turn").WithContext("user_id", "u1")

	assert.Equal(t, "[SESSION_UNAVAILABLE] failed to commit turn: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "u1", err.Context["user_id"])
	assert.Equal(t, "[INVALID_ARGUMENT] empty", InvalidArgument("empty").Error())

	wrapped := errors.Wrap(err, "turn")
	assert.True(t, IsCode(wrapped, ErrCodeSessionUnavailable))
	assert.Equal(t, ErrCodeSessionUnavailable, GetCodeFromError(wrapped, ErrCodeGenerationFailed))
	assert.Equal(t, ErrCodeGenerationFailed, GetCodeFromError(cause, ErrCodeGenerationFailed))
	assert.False(t, IsCode(cause, ErrCodeSessionUnavailable))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeInvalidArgument:       http.StatusBadRequest,
		ErrCodeLLMUnavailable:        http.StatusServiceUnavailable,
		ErrCodeTimeout:               http.StatusGatewayTimeout,
		ErrCodeContextCanceled:       499,
		ErrCodeGenerationFailed:      http.StatusInternalServerError,
		ErrCodeSessionUnavailable:    http.StatusInternalServerError,
		ErrCodeContextAssemblyFailed: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, (&AIError{Code: code}).HTTPStatus(), code)
	}
}
