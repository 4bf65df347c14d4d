package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/testutil/mocks"
)

func TestMessageHandler_SendCreatesConversation(t *testing.T) {
	env := newTestEnv(t, topicOrAnalysis("Rust Lifetimes", `[{"category":"Occupation","info":"Engineer"}]`))
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleSend(w, env.request(t, http.MethodPost, "/api/chat/message", api.SendMessageRequest{
		Message: "I am an engineer learning Rust lifetimes",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.SendMessageResponse
	decodeData(t, w, &resp)
	require.NotNil(t, resp.NewConversation)
	assert.Equal(t, "Rust Lifetimes", resp.NewConversation.Title)
	assert.Equal(t, resp.NewConversation.ID, resp.ConversationID)
	require.Len(t, resp.NewInfo, 1)
	assert.Equal(t, "Engineer", resp.NewInfo[0].Info)
	assert.Empty(t, resp.AnalysisError)

	msgs, err := env.store.ListMessages(context.Background(), env.user.ID, resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestMessageHandler_SendExistingConversationWithAttachments(t *testing.T) {
	env := newTestEnv(t, topicOrAnalysis("unused", "[]"))
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())
	conv := env.conversation(t, "Existing")

	w := httptest.NewRecorder()
	h.HandleSend(w, env.request(t, http.MethodPost, "/api/chat/message", api.SendMessageRequest{
		Message:        "see attached",
		ConversationID: conv.ID,
		Attachments: []store.Attachment{{
			ID: "a1", Filename: "notes.txt", ContentType: "text/plain", URL: "/files/uploads/x/a1.txt", Size: 5,
		}},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.SendMessageResponse
	decodeData(t, w, &resp)
	assert.Nil(t, resp.NewConversation)
	assert.Equal(t, conv.ID, resp.ConversationID)
	assert.NotNil(t, resp.NewInfo)

	msgs, err := env.store.ListMessages(context.Background(), env.user.ID, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "notes.txt", msgs[0].Attachments[0].Filename)
}

func TestMessageHandler_SendErrors(t *testing.T) {
	env := newTestEnv(t, topicOrAnalysis("x", "[]"))
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())

	tests := []struct {
		name     string
		req      api.SendMessageRequest
		wantCode int
	}{
		{"empty message", api.SendMessageRequest{Message: "   "}, http.StatusBadRequest},
		{"foreign conversation", api.SendMessageRequest{Message: "hi", ConversationID: "not-mine"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleSend(w, env.request(t, http.MethodPost, "/api/chat/message", tt.req))
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestMessageHandler_SendReportsAnalysisError(t *testing.T) {
	p := mocks.NewMockProvider().WithError(errors.New("provider offline"))
	env := newTestEnv(t, p)
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleSend(w, env.request(t, http.MethodPost, "/api/chat/message", api.SendMessageRequest{Message: "hello"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.SendMessageResponse
	decodeData(t, w, &resp)
	// 话题生成失败回落到默认标题，分析失败只体现在 analysisError
	assert.Equal(t, "New Chat", resp.NewConversation.Title)
	assert.Contains(t, resp.AnalysisError, "provider offline")
	assert.Empty(t, resp.NewInfo)
}

func TestMessageHandler_Analyze(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("```json\n[{\"category\":\"Pet\",\"info\":\"Has a cat\"}]\n```")
	env := newTestEnv(t, p)
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAnalyze(w, env.request(t, http.MethodPost, "/api/chat/analyze", api.AnalyzeRequest{Message: "my cat is asleep"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.AnalyzeResponse
	decodeData(t, w, &resp)
	require.Len(t, resp.NewInfo, 1)
	assert.Equal(t, "Pet", resp.NewInfo[0].Category)

	// 未提供 userInfo 时使用档案中的资料作为已知信息
	last := p.LastRequest()
	require.NotNil(t, last)
	assert.Contains(t, last.Messages[0].Content, "Oslo")

	u, err := env.store.GetUser(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.Len(t, u.UserInfo, 2)
}

func TestMessageHandler_AnalyzeUnparsableOutput(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse("I could not find anything.")
	env := newTestEnv(t, p)
	h := NewMessageHandler(env.svc, env.store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleAnalyze(w, env.request(t, http.MethodPost, "/api/chat/analyze", `{"message":"hello","userInfo":[]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"newInfo":[]`)
	assert.NotContains(t, p.LastRequest().Messages[0].Content, "Oslo")
}
