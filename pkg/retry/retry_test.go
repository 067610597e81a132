package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/castarena/castarena_service/internal/domain/errors"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	retrier := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := retrier.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return apperrors.TransientError("chain RPC", errors.New("503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierStopsOnNonRetryableError(t *testing.T) {
	retrier := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := retrier.Do(context.Background(), func() error {
		calls++
		return apperrors.ValidationError("address", "missing")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierExhaustsBudget(t *testing.T) {
	retrier := NewRetrier(fastPolicy(), zap.NewNop())

	calls := 0
	err := retrier.Do(context.Background(), func() error {
		calls++
		return apperrors.TransientError("chain RPC", errors.New("503"))
	})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
}

func TestRetrierCustomClassifier(t *testing.T) {
	policy := fastPolicy()
	policy.RetryableFunc = func(err error) bool { return err != nil }
	retrier := NewRetrier(policy, zap.NewNop())

	calls := 0
	err := retrier.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("plain transport error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	retrier := NewRetrier(fastPolicy(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrier.Do(ctx, func() error {
		return apperrors.TransientError("chain RPC", errors.New("503"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	retrier := NewRetrier(fastPolicy(), zap.NewNop())

	result, err := retrier.DoWithResult(context.Background(), func() (interface{}, error) {
		return "0xdeadbeef", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", result)
}

func TestBackoffBoundedByMax(t *testing.T) {
	policy := Policy{
		MaxRetries:     10,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
	backoff := NewBackoff(policy)

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff.Calculate(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.MaxRetries = -1
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.Multiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.MaxBackoff = bad.InitialBackoff - 1
	assert.Error(t, bad.Validate())
}
