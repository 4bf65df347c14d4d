package testutil_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/testutil"
	"github.com/Ellipog/chat/testutil/mocks"
)

func TestCancelledContext(t *testing.T) {
	ctx := testutil.CancelledContext()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	_, err := mocks.NewMockProvider().WithResponse("x").Completion(ctx, &llm.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitFor(t *testing.T) {
	var ready atomic.Bool
	time.AfterFunc(20*time.Millisecond, func() { ready.Store(true) })

	testutil.AssertEventuallyTrue(t, ready.Load, time.Second)
	assert.False(t, testutil.WaitFor(func() bool { return false }, 20*time.Millisecond))
}

func TestStreamHelpers(t *testing.T) {
	ch := testutil.SendChunksToChannel([]llm.StreamChunk{
		{Delta: llm.Message{Content: "Hel"}},
		{Delta: llm.Message{Content: "lo"}},
	})
	assert.Equal(t, "Hello", testutil.CollectStreamContent(ch))

	stream, err := mocks.NewMockProvider().WithStreamChunks("a", "b", "c").Stream(testutil.TestContext(t), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "abc", testutil.CollectStreamContent(stream))
}

func TestParseSSE(t *testing.T) {
	events := testutil.ParseSSE(t, "data: {\"message\":\"a\"}\n\n: comment\n\ndata: {\"isComplete\":true}\n\n")
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0]["message"])
	assert.Equal(t, true, events[1]["isComplete"])
}

func TestStepClock(t *testing.T) {
	clk := testutil.NewStepClock()
	first := clk.Now()
	second := clk.Now()
	assert.Equal(t, time.Second, second.Sub(first))
}
