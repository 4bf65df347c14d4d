package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/auth"
	"github.com/Ellipog/chat/chat"
	"github.com/Ellipog/chat/config"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/streaming"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/store/sqlstore"
	"github.com/Ellipog/chat/testutil"
	"github.com/Ellipog/chat/testutil/mocks"
	"github.com/Ellipog/chat/types"
)

// testEnv 组装内存存储、模拟 Provider 与聊天服务
type testEnv struct {
	store    *sqlstore.Store
	provider *mocks.MockProvider
	svc      *chat.Service
	tokens   *auth.TokenManager
	user     *store.User
}

func newTestEnv(t *testing.T, p *mocks.MockProvider) *testEnv {
	t.Helper()
	if p == nil {
		p = mocks.NewMockProvider()
	}
	st := testutil.NewTestStore(t)

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	u := &store.User{
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: hash,
		UserInfo:     []store.UserFact{{Category: "Location", Info: "Oslo"}},
	}
	require.NoError(t, st.CreateUser(context.Background(), u))

	tokens, err := auth.NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", Issuer: "chat-test"})
	require.NoError(t, err)

	svc := chat.NewService(st, p, chat.Config{
		Model:         "gpt-4",
		AnalysisModel: "gpt-3.5-turbo",
		Temperature:   0.7,
		MaxTokens:     2000,
		HistoryLimit:  50,
		Encoding:      "structured",
		Stream: streaming.Config{
			FlushInterval: time.Hour,
			SentenceFlush: true,
			SinkTimeout:   time.Second,
		},
	}, zap.NewNop())

	return &testEnv{store: st, provider: p, svc: svc, tokens: tokens, user: u}
}

// request 构造已认证的请求
func (e *testEnv) request(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	r := anonRequest(t, method, target, body)
	return r.WithContext(types.WithUserID(r.Context(), e.user.ID))
}

func (e *testEnv) conversation(t *testing.T, title string) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{UserID: e.user.ID, Title: title}
	require.NoError(t, e.store.CreateConversation(context.Background(), conv))
	return conv
}

func anonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var r *http.Request
	switch b := body.(type) {
	case nil:
		r = httptest.NewRequest(method, target, nil)
	case string:
		r = httptest.NewRequest(method, target, strings.NewReader(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = httptest.NewRequest(method, target, bytes.NewReader(data))
	}
	r.Header.Set("Content-Type", "application/json")
	return r
}

// decodeData 把成功响应的 data 字段解码到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// topicOrAnalysis 根据系统提示区分话题生成与资料分析
func topicOrAnalysis(topic, analysis string) *mocks.MockProvider {
	return mocks.NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		content := topic
		if strings.HasPrefix(req.Messages[0].Content, "You are an AI designed to extract") {
			content = analysis
		}
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}}}, nil
	})
}
