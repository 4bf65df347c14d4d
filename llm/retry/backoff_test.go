package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1.0,
	}
}

func TestRetryer_Success(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetryAndSuccess(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_AttemptsExhausted(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	sentinel := errors.New("db down")
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls, "MaxAttempts counts the first call")
}

func TestRetryer_ZeroAttemptsRunsOnce(t *testing.T) {
	r := New(Policy{}, zap.NewNop())

	calls := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryer_Permanent(t *testing.T) {
	r := New(fastPolicy(5), zap.NewNop())

	sentinel := errors.New("not found")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, sentinel, err)
}

func TestRetryer_RetryIf(t *testing.T) {
	retryable := errors.New("retryable")
	fatal := errors.New("fatal")

	p := fastPolicy(5)
	p.RetryIf = func(err error) bool { return errors.Is(err, retryable) }
	r := New(p, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return retryable
		}
		return fatal
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, fatal)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryer_DelayCalculation(t *testing.T) {
	r := New(Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
	}, zap.NewNop()).(*backoffRetryer)

	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 300*time.Millisecond, r.delay(3), "capped at MaxDelay")

	fixed := New(DefaultPolicy(), zap.NewNop()).(*backoffRetryer)
	assert.Equal(t, time.Second, fixed.delay(1))
	assert.Equal(t, time.Second, fixed.delay(2))
}

func TestRetryer_CustomBackoffAndOnRetry(t *testing.T) {
	var seen []time.Duration
	p := fastPolicy(3)
	p.Backoff = func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	p.OnRetry = func(_ int, _ error, d time.Duration) { seen = append(seen, d) }
	r := New(p, zap.NewNop())

	_ = r.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, seen)
}

func TestDoWithResult(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	v, err := DoWithResult(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "conv-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", v)

	_, err = DoWithResult(context.Background(), r, func(context.Context) (int, error) {
		return 0, Permanent(errors.New("nope"))
	})
	assert.EqualError(t, err, "nope")
}
