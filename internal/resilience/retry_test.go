package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoVal_SucceedsFirstTry(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), RetryConfig{}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	val, err := DoVal(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 503)
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, calls)
}

func TestDoVal_StopsOnPermanentError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("still down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	sentinel := errors.New("retry me")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		ShouldRetry:    func(err error) bool { return errors.Is(err, sentinel) },
	}
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: %w", calls, sentinel)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond}
	_, err := DoVal(ctx, cfg, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("x"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_WrapsDoVal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		func(context.Context) error {
			calls++
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestComputeBackoff_Linear(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, Linear: true})

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, computeBackoff(2, cfg))
}

func TestComputeBackoff_Exponential(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 100 * time.Millisecond, Multiplier: 2})

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
}

func TestComputeBackoff_CappedAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		Linear:         true,
	})
	assert.Equal(t, 2*time.Second, computeBackoff(9, cfg))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient wrapper", NewTransientError(errors.New("x"), 503), true},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransientError(errors.New("x"), 429)), true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"reset string heuristic", errors.New("read tcp: connection reset by peer"), true},
		{"plain error", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
