package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/retry"
	"github.com/Ellipog/chat/llm/streaming"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/types"
)

// StreamInput 是一次流式回复的参数
type StreamInput struct {
	UserID         string
	ConversationID string
	Message        string
	// UserInfo 为 nil 时使用用户档案中的资料
	UserInfo []store.UserFact
	// Framing 为结构化编码选择分帧方式（SSE 或 WebSocket 裸 JSON）
	Framing streaming.Framing
}

// Stream 是校验通过、尚未开始的一次流式回复
type Stream struct {
	svc     *Service
	userID  string
	conv    *store.Conversation
	req     *llm.ChatRequest
	encoder streaming.Encoder

	mu   sync.Mutex
	ctrl *streaming.Controller
}

// PrepareStream 校验请求、确认会话归属并组装上游请求。
// 返回的错误都在输出任何流事件之前，调用方可按普通 JSON 错误响应。
func (s *Service) PrepareStream(ctx context.Context, in StreamInput) (*Stream, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return nil, invalid("Message is required")
	}
	if in.ConversationID == "" {
		return nil, invalid("Conversation ID is required")
	}

	conv, err := s.store.GetConversation(ctx, in.UserID, in.ConversationID)
	if err != nil {
		return nil, notFound(err, "Conversation")
	}

	userInfo := in.UserInfo
	if userInfo == nil {
		user, err := s.store.GetUser(ctx, in.UserID)
		if err != nil {
			return nil, notFound(err, "User account")
		}
		userInfo = user.UserInfo
	}
	if userInfo == nil {
		userInfo = []store.UserFact{}
	}

	msgs, err := s.BuildPrompt(ctx, conv.ID, in.Message, userInfo)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	enc, err := streaming.NewEncoder(s.cfg.Encoding, userInfo)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "stream encoder misconfigured").WithCause(err)
	}
	if se, ok := enc.(*streaming.StructuredEncoder); ok {
		se.Framing = in.Framing
	}

	return &Stream{
		svc:    s,
		userID: in.UserID,
		conv:   conv,
		req: &llm.ChatRequest{
			UserID:      in.UserID,
			Model:       s.cfg.Model,
			Messages:    msgs,
			Temperature: float32(s.cfg.Temperature),
			MaxTokens:   s.cfg.MaxTokens,
		},
		encoder: enc,
	}, nil
}

// Encoder 返回本次流使用的编码器
func (st *Stream) Encoder() streaming.Encoder { return st.encoder }

// Request 返回发往上游的请求
func (st *Stream) Request() *llm.ChatRequest { return st.req }

// Run 驱动流式控制器直到完成、失败或 ctx 取消
func (st *Stream) Run(ctx context.Context, transport streaming.Transport, hooks streaming.Hooks) (streaming.Result, error) {
	s := st.svc
	opts := []streaming.Option{
		streaming.WithLogger(s.logger.With(zap.String("conversation_id", st.conv.ID))),
		streaming.WithHooks(hooks),
	}
	if s.recorder != nil {
		opts = append(opts, streaming.WithRecorder(s.recorder))
		s.recorder.StreamStarted()
	}

	ctrl := streaming.New(s.cfg.Stream, st.encoder, streaming.SinkFunc(st.persist), transport, opts...)
	st.mu.Lock()
	st.ctrl = ctrl
	st.mu.Unlock()

	return ctrl.Run(ctx, streaming.ProviderSource(s.provider, st.req))
}

// Cancel 停止正在进行的流；未开始或已结束时为空操作
func (st *Stream) Cancel() {
	st.mu.Lock()
	ctrl := st.ctrl
	st.mu.Unlock()
	if ctrl != nil {
		ctrl.Cancel()
	}
}

// persist 是 Completion Sink：保存助手回复、刷新会话时间并使历史缓存失效
func (st *Stream) persist(ctx context.Context, fullText string) error {
	s := st.svc
	_, err := retry.DoWithResult(ctx, s.retryer, func(ctx context.Context) (*store.Message, error) {
		m := &store.Message{
			ConversationID: st.conv.ID,
			UserID:         st.userID,
			Role:           store.RoleAssistant,
			Content:        fullText,
		}
		if err := s.store.CreateMessage(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}

	if err := s.store.TouchConversation(ctx, st.userID, st.conv.ID, s.now()); err != nil {
		s.logger.Warn("touch conversation failed", zap.String("conversation_id", st.conv.ID), zap.Error(err))
	}
	s.invalidateHistory(ctx, st.conv.ID)
	return nil
}
