package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTimeout, "task still processing").
		WithCause(root).
		WithHTTPStatus(504).
		WithRetryable(true).
		WithProvider("bfl").
		WithTaskID("t1")

	assert.Equal(t, ErrTimeout, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "task t1")
	assert.Contains(t, err.Error(), "[TIMEOUT]")
}

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrRemoteFailure, "provider refused").WithDetails(map[string]any{"status": "Error"})
	wrapped := fmt.Errorf("runner: %w", inner)

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrRemoteFailure, e.Code)
	assert.True(t, IsErrorCode(wrapped, ErrRemoteFailure))
	assert.False(t, IsRetryable(wrapped))
}

func TestAsError_Plain(t *testing.T) {
	t.Parallel()

	_, ok := AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestNewConfigurationError(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError("runway", "no api key")
	assert.Equal(t, ErrConfiguration, err.Code)
	assert.Equal(t, "runway", err.Provider)
}
