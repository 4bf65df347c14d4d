package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ellipog/chat/internal/pool"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/retry"
	"github.com/Ellipog/chat/store"
)

const (
	// DefaultTopic 是主题生成失败时的会话标题
	DefaultTopic = "New Chat"

	topicPrompt = "Extract a concise 2-4 word topic from the user's message that captures the main subject. " +
		"Return only the topic, no additional text or punctuation."
	topicTemperature = 0.3
	topicMaxTokens   = 10
)

// SendMessageInput 是发送一条用户消息的参数
type SendMessageInput struct {
	UserID         string
	Message        string
	ConversationID string
	Attachments    []store.Attachment
}

// SendMessageResult 汇总发送与分析两个任务的结果
type SendMessageResult struct {
	ConversationID  string
	NewConversation *store.Conversation
	Message         *store.Message
	NewInfo         []store.UserFact
	// AnalysisError 非空表示分析任务失败，发送结果不受影响
	AnalysisError string
}

// SendMessage 并行执行发送与分析两个独立任务。
// 分析失败只记录在结果中；发送失败时返回错误，但仍会等待分析完成。
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageResult, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return nil, invalid("Message is required")
	}

	user, err := s.store.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, notFound(err, "User account")
	}

	res := &SendMessageResult{}
	var g errgroup.Group

	g.Go(func() error {
		return s.send(ctx, in, res)
	})

	g.Go(func() error {
		facts, err := s.analyzeInBackground(ctx, in.UserID, in.Message, user.UserInfo)
		if err != nil {
			res.AnalysisError = err.Error()
			return nil
		}
		res.NewInfo = facts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// send 创建或更新会话并持久化用户消息
func (s *Service) send(ctx context.Context, in SendMessageInput, res *SendMessageResult) error {
	convID := in.ConversationID
	if convID == "" {
		topic := s.GenerateTopic(ctx, in.Message)
		conv, err := retry.DoWithResult(ctx, s.retryer, func(ctx context.Context) (*store.Conversation, error) {
			c := &store.Conversation{UserID: in.UserID, Title: topic, LastMessageAt: s.now()}
			if err := s.store.CreateConversation(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		})
		if err != nil {
			return persistenceFailed("Failed to create conversation", err)
		}
		res.NewConversation = conv
		convID = conv.ID
	} else {
		if err := s.store.TouchConversation(ctx, in.UserID, convID, s.now()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound(err, "Conversation")
			}
			return persistenceFailed("Failed to update conversation", err)
		}
	}
	res.ConversationID = convID

	msg, err := retry.DoWithResult(ctx, s.retryer, func(ctx context.Context) (*store.Message, error) {
		m := &store.Message{
			ConversationID: convID,
			UserID:         in.UserID,
			Role:           store.RoleUser,
			Content:        in.Message,
			Attachments:    in.Attachments,
		}
		if err := s.store.CreateMessage(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return persistenceFailed("Failed to save message", err)
	}
	res.Message = msg
	s.invalidateHistory(ctx, convID)
	return nil
}

// GenerateTopic 让模型为首条消息生成 2-4 个词的标题，失败时返回 DefaultTopic
func (s *Service) GenerateTopic(ctx context.Context, message string) string {
	text, err := s.complete(ctx, &llm.ChatRequest{
		Model: s.cfg.AnalysisModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: topicPrompt},
			{Role: llm.RoleUser, Content: message},
		},
		Temperature: topicTemperature,
		MaxTokens:   topicMaxTokens,
	})
	if err != nil {
		s.logger.Warn("topic generation failed", zap.Error(err))
		return DefaultTopic
	}
	topic := strings.Trim(strings.TrimSpace(text), `"'`)
	if topic == "" {
		return DefaultTopic
	}
	return topic
}

// analyzeInBackground 将分析任务提交到协程池；未配置协程池时直接执行
func (s *Service) analyzeInBackground(ctx context.Context, userID, message string, known []store.UserFact) ([]store.UserFact, error) {
	var facts []store.UserFact
	task := func(ctx context.Context) error {
		var err error
		facts, err = s.Analyze(ctx, userID, message, known)
		return err
	}

	var err error
	if s.pool != nil {
		err = s.pool.SubmitWait(ctx, task)
		if errors.Is(err, pool.ErrPoolClosed) {
			s.logger.Warn("analysis pool closed, analyzing inline")
			err = task(ctx)
		}
	} else {
		err = task(ctx)
	}

	if s.recorder != nil {
		s.recorder.RecordBackgroundTask("analyze", err)
	}
	if err != nil {
		s.logger.Warn("message analysis failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return facts, nil
}
