package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/types"
)

var _ llm.Provider = (*MockProvider)(nil)

func TestMockProvider_ScriptedResponses(t *testing.T) {
	p := NewMockProvider().WithResponse("fallback").WithResponses("first", "second")

	for _, want := range []string{"first", "second", "fallback"} {
		resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
		require.NoError(t, err)
		got, err := llm.FirstContent(resp)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, p.CallCount())
}

func TestMockProvider_StreamChunksAndError(t *testing.T) {
	upstream := &llm.Error{Code: types.ErrUpstreamError, Message: "boom"}
	p := NewMockProvider().WithStreamChunks("a", "b").WithStreamError(upstream)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)

	var text string
	var gotErr *llm.Error
	for c := range ch {
		if c.Err != nil {
			gotErr = c.Err
			continue
		}
		text += c.Delta.Content
	}
	assert.Equal(t, "ab", text)
	assert.Equal(t, upstream, gotErr)
	assert.True(t, p.Calls()[0].Stream)
}

func TestMockProvider_Error(t *testing.T) {
	p := NewMockProvider().WithError(ErrMockUpstream)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, ErrMockUpstream)
	_, err = p.Stream(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, ErrMockUpstream)
}

func TestMockProvider_TokenUsage(t *testing.T) {
	p := NewMockProvider().WithResponse("ok").WithTokenUsage(12, 3)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, llm.ChatUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)
	assert.Same(t, resp, p.Calls()[0].Response)
}

func TestMockProvider_Reset(t *testing.T) {
	p := NewMockProvider().WithResponse("ok")

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, 1, p.CallCount())
	assert.Equal(t, "m", p.LastRequest().Model)

	p.Reset()
	assert.Zero(t, p.CallCount())
	assert.Nil(t, p.LastRequest())
}
