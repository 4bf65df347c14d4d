package anthropic

import (
	"context"
	"errors"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/providers"
	"github.com/Ellipog/chat/types"
)

type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error {
	if d.i >= len(d.events) {
		return d.err
	}
	return nil
}

type stubMessages struct {
	params    sdk.MessageNewParams
	events    []ssestream.Event
	streamErr error
	openErr   error
	resp      *sdk.Message
	newErr    error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.params = body
	return s.resp, s.newErr
}

func (s *stubMessages) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.params = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: s.events, err: s.streamErr}, s.openErr)
}

func textDelta(text string) ssestream.Event {
	return ssestream.Event{
		Type: "content_block_delta",
		Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"` + text + `"}}`),
	}
}

func newTestProvider(stub *stubMessages) *Provider {
	return NewWithClient(stub, providers.ClaudeConfig{
		BaseProviderConfig: providers.BaseProviderConfig{Model: "claude-test"},
	}, zap.NewNop())
}

func drain(t *testing.T, ch <-chan llm.StreamChunk) []llm.StreamChunk {
	t.Helper()
	var out []llm.StreamChunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestProvider_StreamTextDeltas(t *testing.T) {
	stub := &stubMessages{events: []ssestream.Event{
		{Type: "message_start", Data: []byte(`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test"}}`)},
		textDelta("Hello"),
		textDelta(" there."),
		{Type: "message_delta", Data: []byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":7,"output_tokens":3}}`)},
		{Type: "message_stop", Data: []byte(`{"type":"message_stop"}`)},
	}}
	p := newTestProvider(stub)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be helpful"},
			{Role: llm.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Delta.Content)
	assert.Equal(t, " there.", chunks[1].Delta.Content)
	assert.Equal(t, "end_turn", chunks[2].FinishReason)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 10, chunks[2].Usage.TotalTokens)

	require.Len(t, stub.params.System, 1)
	assert.Equal(t, "be helpful", stub.params.System[0].Text)
	assert.EqualValues(t, defaultMaxTokens, stub.params.MaxTokens)
	assert.Equal(t, "claude-test", string(stub.params.Model))
}

func TestProvider_StreamInterrupted(t *testing.T) {
	stub := &stubMessages{
		events:    []ssestream.Event{textDelta("part")},
		streamErr: errors.New("unexpected EOF"),
	}
	ch, err := newTestProvider(stub).Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 2)
	require.NotNil(t, chunks[1].Err)
	assert.Equal(t, types.ErrUpstreamError, chunks[1].Err.Code)
	assert.True(t, chunks[1].Err.Retryable)
}

func TestProvider_StreamOpenOverloaded(t *testing.T) {
	stub := &stubMessages{openErr: &sdk.Error{StatusCode: 529}}
	_, err := newTestProvider(stub).Stream(context.Background(), &llm.ChatRequest{})

	var le *llm.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, types.ErrProviderUnavailable, le.Code)
	assert.True(t, le.Retryable)
	assert.Equal(t, "anthropic", le.Provider)
}

func TestProvider_Completion(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		ID:         "msg_1",
		Model:      "claude-test",
		StopReason: "end_turn",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "Weekend "}, {Type: "text", Text: "Plans"}},
		Usage:      sdk.Usage{InputTokens: 20, OutputTokens: 2},
	}}
	resp, err := newTestProvider(stub).Completion(context.Background(), &llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "name this"}},
		MaxTokens: 10,
	})
	require.NoError(t, err)

	content, err := llm.FirstContent(resp)
	require.NoError(t, err)
	assert.Equal(t, "Weekend Plans", content)
	assert.Equal(t, 22, resp.Usage.TotalTokens)
	assert.EqualValues(t, 10, stub.params.MaxTokens)
}

func TestEncodeMessages(t *testing.T) {
	system, msgs := encodeMessages([]llm.Message{
		{Role: llm.RoleAssistant, Content: "dangling"},
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleUser, Content: "b"},
		{Role: llm.RoleAssistant, Content: "c"},
		{Role: llm.RoleUser, Content: ""},
		{Role: llm.RoleUser, Content: "d"},
	})

	require.Len(t, system, 1)
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Len(t, msgs[0].Content, 2)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestEncodeMessages_MergesConsecutiveTurns(t *testing.T) {
	system, msgs := encodeMessages([]llm.Message{
		{Role: llm.RoleUser, Content: "q1"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleAssistant, Content: "a2"},
		{Role: llm.Role("tool"), Content: "t1"},
		{Role: llm.RoleUser, Content: "q2"},
	})

	assert.Empty(t, system)
	require.Len(t, msgs, 3)

	texts := func(m sdk.MessageParam) []string {
		out := make([]string, 0, len(m.Content))
		for _, b := range m.Content {
			require.NotNil(t, b.OfText)
			out = append(out, b.OfText.Text)
		}
		return out
	}

	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, []string{"q1"}, texts(msgs[0]))
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, []string{"a1", "a2"}, texts(msgs[1]))
	// 未知角色按 user 处理，并与后续 user 合并
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
	assert.Equal(t, []string{"t1", "q2"}, texts(msgs[2]))
}
