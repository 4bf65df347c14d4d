package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/config"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUpstream = &llm.Error{
	Code:       types.ErrUpstreamError,
	Message:    "bad gateway",
	HTTPStatus: http.StatusBadGateway,
	Retryable:  true,
	Provider:   "mock",
}

func newBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return New(cfg, zap.NewNop()).WithClock(clock.Now), clock
}

func fail(ctx context.Context) error { return errUpstream }
func succeed(ctx context.Context) error { return nil }

func TestNew_Defaults(t *testing.T) {
	b := New(Config{HalfOpenMaxCalls: -1}, nil)
	assert.Equal(t, 5, b.config.Threshold)
	assert.Equal(t, 30*time.Second, b.config.ResetTimeout)
	assert.Equal(t, 1, b.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, b.State())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.BreakerConfig{Enabled: true, Threshold: 2, ResetTimeout: time.Minute, HalfOpenMaxCalls: 3})
	assert.Equal(t, Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenMaxCalls: 3}, cfg)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	b, _ := newBreaker(t, Config{Threshold: 3, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Call(t.Context(), fail), errUpstream)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Call(t.Context(), fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Call(t.Context(), succeed), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newBreaker(t, Config{Threshold: 2, ResetTimeout: time.Hour})

	_ = b.Call(t.Context(), fail)
	require.NoError(t, b.Call(t.Context(), succeed))
	_ = b.Call(t.Context(), fail)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newBreaker(t, Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})

	_ = b.Call(t.Context(), fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	// 半开状态下只放行一个试探请求
	assert.ErrorIs(t, b.Allow(), ErrTooManyCallsInHalfOpen)

	b.Done(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newBreaker(t, Config{Threshold: 1, ResetTimeout: time.Minute})

	_ = b.Call(t.Context(), fail)
	clock.Advance(2 * time.Minute)

	assert.ErrorIs(t, b.Call(t.Context(), fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// 重新计时
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_NeutralErrorsReleaseProbe(t *testing.T) {
	b, clock := newBreaker(t, Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})

	_ = b.Call(t.Context(), fail)
	clock.Advance(2 * time.Minute)

	require.NoError(t, b.Allow())
	b.Done(context.Canceled)
	assert.Equal(t, StateHalfOpen, b.State())

	// 取消的试探请求归还许可
	assert.NoError(t, b.Allow())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b, _ := newBreaker(t, Config{Threshold: 1, ResetTimeout: time.Hour})

	badRequest := &llm.Error{Code: types.ErrInvalidRequest, Message: "bad", HTTPStatus: http.StatusBadRequest}
	_ = b.Call(t.Context(), func(context.Context) error { return badRequest })
	_ = b.Call(t.Context(), func(context.Context) error { return context.Canceled })

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	clock := newFakeClock()
	b := New(Config{
		Threshold:    1,
		ResetTimeout: time.Minute,
		OnStateChange: func(from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, zap.NewNop()).WithClock(clock.Now)

	_ = b.Call(t.Context(), fail)
	clock.Advance(2 * time.Minute)
	_ = b.Call(t.Context(), succeed)
	_ = b.Call(t.Context(), fail)
	b.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"closed->open",
		"open->half_open",
		"half_open->closed",
		"closed->open",
		"open->closed",
	}, transitions)
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"wrapped cancel", errors.Join(errors.New("stream"), context.Canceled), false},
		{"retryable upstream", errUpstream, true},
		{"rate limited", &llm.Error{Code: types.ErrRateLimited, Retryable: true}, true},
		{"unauthorized", &llm.Error{Code: types.ErrUnauthorized}, false},
		{"plain error", errors.New("connection reset"), true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFailure(tt.err))
		})
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b, _ := newBreaker(t, Config{Threshold: 1000, ResetTimeout: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Call(context.Background(), fail)
			} else {
				_ = b.Call(context.Background(), succeed)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}
