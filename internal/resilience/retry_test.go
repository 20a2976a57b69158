package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return NewTransientError(errors.New("http 503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AuthFailureNotRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		attempts++
		return NewAuthError("austin", 401, errors.New("bad token"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsAuth(err))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := NewTransientError(errors.New("http 500"), 500)
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		attempts++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastRetry(), func(context.Context) error {
		attempts++
		cancel()
		return NewTransientError(errors.New("http 500"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	got, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("schema mismatch")))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 429)))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.False(t, IsTransient(NewAuthError("s", 403, errors.New("forbidden"))))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
