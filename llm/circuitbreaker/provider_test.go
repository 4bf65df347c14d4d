package circuitbreaker

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/testutil/mocks"
	"github.com/Ellipog/chat/types"
)

func collect(t *testing.T, ch <-chan llm.StreamChunk) (text string, err *llm.Error) {
	t.Helper()
	for chunk := range ch {
		if chunk.Err != nil {
			err = chunk.Err
			continue
		}
		text += chunk.Delta.Content
	}
	return text, err
}

func TestProvider_CompletionTripsBreaker(t *testing.T) {
	mock := mocks.NewMockProvider().WithError(errUpstream)
	p := Wrap(mock, New(Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop()))

	for i := 0; i < 2; i++ {
		_, err := p.Completion(t.Context(), &llm.ChatRequest{Model: "m"})
		assert.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, p.Breaker().State())

	_, err := p.Completion(t.Context(), &llm.ChatRequest{Model: "m"})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, types.ErrProviderUnavailable, llmErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, llmErr.HTTPStatus)
	assert.True(t, llmErr.Retryable)
	assert.Equal(t, "mock", llmErr.Provider)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// 熔断期间不再调用上游
	assert.Equal(t, 2, mock.CallCount())
}

func TestProvider_StreamSuccess(t *testing.T) {
	mock := mocks.NewMockProvider().WithStreamChunks("Hello", ", ", "world.")
	p := Wrap(mock, New(Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop()))
	assert.Equal(t, "mock", p.Name())

	ch, err := p.Stream(t.Context(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.Equal(t, "Hello, world.", text)
	assert.Nil(t, streamErr)
	assert.Equal(t, StateClosed, p.Breaker().State())
}

func TestProvider_StreamMidwayFailureCounts(t *testing.T) {
	mock := mocks.NewMockProvider().
		WithStreamChunks("partial").
		WithStreamError(errUpstream)
	p := Wrap(mock, New(Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop()))

	ch, err := p.Stream(t.Context(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.Equal(t, "partial", text)
	require.NotNil(t, streamErr)
	assert.Equal(t, types.ErrUpstreamError, streamErr.Code)

	// 结果在通道关闭前上报
	assert.Equal(t, StateOpen, p.Breaker().State())

	_, err = p.Stream(t.Context(), &llm.ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestProvider_StreamOpenFailure(t *testing.T) {
	mock := mocks.NewMockProvider().WithError(errUpstream)
	p := Wrap(mock, New(Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop()))

	_, err := p.Stream(t.Context(), &llm.ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, p.Breaker().State())
}

func TestProvider_StreamCancelIsNeutral(t *testing.T) {
	mock := mocks.NewMockProvider().
		WithStreamChunks("a", "b", "c", "d").
		WithChunkDelay(20 * time.Millisecond)
	p := Wrap(mock, New(Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop()))

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := p.Stream(ctx, &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)

	<-ch
	cancel()
	for range ch {
	}

	assert.Equal(t, StateClosed, p.Breaker().State())
}
