package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/testutil"
	"github.com/Ellipog/chat/testutil/mocks"
	"github.com/Ellipog/chat/types"
)

func assistantMessages(t *testing.T, env *testEnv, convID string) []store.Message {
	t.Helper()
	msgs, err := env.store.ListMessages(context.Background(), env.user.ID, convID)
	require.NoError(t, err)
	var out []store.Message
	for _, m := range msgs {
		if m.Role == store.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestStreamHandler_SSE(t *testing.T) {
	p := mocks.NewMockProvider().WithStreamChunks("Hello", " world.")
	env := newTestEnv(t, p)
	h := NewStreamHandler(env.svc, nil, zap.NewNop())
	conv := env.conversation(t, "Greeting")

	w := httptest.NewRecorder()
	h.HandleStream(w, env.request(t, http.MethodPost, "/api/chat/stream", api.StreamRequest{
		Message: "say hello", ConversationID: conv.ID,
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	events := testutil.ParseSSE(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "Hello world.", events[0]["message"])
	assert.Equal(t, true, events[0]["isPartial"])
	assert.Equal(t, "Hello world.", events[1]["message"])
	assert.Equal(t, true, events[1]["isComplete"])
	info, ok := events[1]["userInfo"].([]any)
	require.True(t, ok)
	assert.Len(t, info, 1)

	saved := assistantMessages(t, env, conv.ID)
	require.Len(t, saved, 1)
	assert.Equal(t, "Hello world.", saved[0].Content)

	// 系统提示携带档案资料，用户消息位于末尾
	last := p.LastRequest()
	require.NotNil(t, last)
	assert.Equal(t, llm.RoleSystem, last.Messages[0].Role)
	assert.Contains(t, last.Messages[0].Content, "Oslo")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "say hello"}, last.Messages[len(last.Messages)-1])
}

func TestStreamHandler_SSERejectsBeforeStreaming(t *testing.T) {
	env := newTestEnv(t, mocks.NewMockProvider().WithStreamChunks("unused"))
	h := NewStreamHandler(env.svc, nil, zap.NewNop())
	conv := env.conversation(t, "Mine")

	tests := []struct {
		name     string
		req      api.StreamRequest
		wantCode int
	}{
		{"missing message", api.StreamRequest{ConversationID: conv.ID}, http.StatusBadRequest},
		{"missing conversation", api.StreamRequest{Message: "hi"}, http.StatusBadRequest},
		{"not owned", api.StreamRequest{Message: "hi", ConversationID: "someone-else"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleStream(w, env.request(t, http.MethodPost, "/api/chat/stream", tt.req))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		})
	}
	assert.Equal(t, 0, env.provider.CallCount())
}

func TestStreamHandler_SSEUpstreamUnavailable(t *testing.T) {
	p := mocks.NewMockProvider().WithError(&llm.Error{
		Code:       types.ErrProviderUnavailable,
		Message:    "provider unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Provider:   "mock",
	})
	env := newTestEnv(t, p)
	h := NewStreamHandler(env.svc, nil, zap.NewNop())
	conv := env.conversation(t, "Down")

	w := httptest.NewRecorder()
	h.HandleStream(w, env.request(t, http.MethodPost, "/api/chat/stream", api.StreamRequest{
		Message: "hi", ConversationID: conv.ID,
	}))

	// 尚未输出任何事件，按普通 JSON 错误响应
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrProviderUnavailable), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Empty(t, assistantMessages(t, env, conv.ID))
}

func TestStreamHandler_SSEUpstreamFailsMidStream(t *testing.T) {
	p := mocks.NewMockProvider().
		WithStreamChunks("First sentence.", " Second").
		WithStreamError(&llm.Error{Code: types.ErrUpstreamError, Message: "connection reset", Provider: "mock"})
	env := newTestEnv(t, p)
	h := NewStreamHandler(env.svc, nil, zap.NewNop())
	conv := env.conversation(t, "Flaky")

	w := httptest.NewRecorder()
	h.HandleStream(w, env.request(t, http.MethodPost, "/api/chat/stream", api.StreamRequest{
		Message: "hi", ConversationID: conv.ID,
	}))

	require.Equal(t, http.StatusOK, w.Code)
	events := testutil.ParseSSE(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "First sentence.", events[0]["message"])
	assert.Equal(t, "Stream processing failed", events[1]["error"])
	assert.Empty(t, assistantMessages(t, env, conv.ID))
}

// wsServer 启动注入用户身份的 WebSocket 测试服务器
func wsServer(t *testing.T, env *testEnv, h *StreamHandler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r.WithContext(types.WithUserID(r.Context(), env.user.ID)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readAll 读取消息直到连接关闭，返回消息与关闭码
func readAll(ctx context.Context, t *testing.T, conn *websocket.Conn) ([]map[string]any, websocket.StatusCode) {
	t.Helper()
	var msgs []map[string]any
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return msgs, websocket.CloseStatus(err)
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m), string(data))
		msgs = append(msgs, m)
	}
}

func TestStreamHandler_WebSocket(t *testing.T) {
	p := mocks.NewMockProvider().WithStreamChunks("Hi", " there!")
	env := newTestEnv(t, p)
	conv := env.conversation(t, "Socket")
	url := wsServer(t, env, NewStreamHandler(env.svc, nil, zap.NewNop()))

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.StreamRequest{Message: "greet me", ConversationID: conv.ID}))
	msgs, status := readAll(ctx, t, conn)

	assert.Equal(t, websocket.StatusNormalClosure, status)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi there!", msgs[0]["message"])
	assert.Equal(t, true, msgs[0]["isPartial"])
	assert.Equal(t, true, msgs[1]["isComplete"])

	require.Eventually(t, func() bool {
		return len(assistantMessages(t, env, conv.ID)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamHandler_WebSocketRejectsInvalidRequest(t *testing.T) {
	env := newTestEnv(t, mocks.NewMockProvider().WithStreamChunks("unused"))
	url := wsServer(t, env, NewStreamHandler(env.svc, nil, zap.NewNop()))

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.StreamRequest{Message: "no conversation"}))
	msgs, status := readAll(ctx, t, conn)

	assert.Equal(t, websocket.StatusPolicyViolation, status)
	require.Len(t, msgs, 1)
	assert.Equal(t, false, msgs[0]["success"])
	errInfo, ok := msgs[0]["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(types.ErrInvalidRequest), errInfo["code"])
}

func TestStreamHandler_WebSocketClientCloseCancels(t *testing.T) {
	started := make(chan struct{})
	p := mocks.NewMockProvider().WithStreamFunc(func(ctx context.Context, _ *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			select {
			case ch <- llm.StreamChunk{Delta: llm.Message{Content: "Thinking."}}:
			case <-ctx.Done():
				return
			}
			close(started)
			<-ctx.Done()
		}()
		return ch, nil
	})
	env := newTestEnv(t, p)
	conv := env.conversation(t, "Abandoned")
	url := wsServer(t, env, NewStreamHandler(env.svc, nil, zap.NewNop()))

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	require.NoError(t, wsjson.Write(ctx, conn, api.StreamRequest{Message: "think", ConversationID: conv.ID}))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Thinking.")

	<-started
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	// 取消时丢弃部分回复
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, assistantMessages(t, env, conv.ID))
}
