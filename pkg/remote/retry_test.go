package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	policy := NewRetryPolicy(3, KindNetworkError)
	calls := 0

	result, err := Do(policy, func(attempt int) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesOnRetryableKind(t *testing.T) {
	policy := NewRetryPolicy(3, KindNetworkError)
	calls := 0

	result, err := Do(policy, func(attempt int) (int, error) {
		calls++
		if attempt < 3 {
			return 0, New(KindNetworkError, "t", "m")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableKind(t *testing.T) {
	policy := NewRetryPolicy(3, KindNetworkError)
	calls := 0

	_, err := Do(policy, func(attempt int) (int, error) {
		calls++
		return 0, New(KindAuthError, "t", "m")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := NewRetryPolicy(2, KindNetworkError)
	calls := 0

	_, err := Do(policy, func(attempt int) (int, error) {
		calls++
		return 0, New(KindNetworkError, "t", "m")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryPlainErrors(t *testing.T) {
	policy := NewRetryPolicy(3, KindNetworkError)
	calls := 0

	_, err := Do(policy, func(attempt int) (int, error) {
		calls++
		return 0, assert.AnError
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVoid(t *testing.T) {
	policy := NewRetryPolicy(2, KindServerError)
	calls := 0

	err := DoVoid(policy, func(attempt int) error {
		calls++
		if attempt == 1 {
			return New(KindServerError, "t", "m")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithBackoffClonesPolicy(t *testing.T) {
	policy := NewRetryPolicy(3, KindNetworkError)
	withBackoff := policy.WithBackoff(10 * time.Millisecond)

	assert.Zero(t, policy.Backoff)
	assert.Equal(t, 10*time.Millisecond, withBackoff.Backoff)
}
