package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/store"
)

// ListConversations 返回用户的会话，按 lastMessageAt 倒序
func (s *Service) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	return convs, nil
}

// RenameConversation 修改会话标题；会话不属于 userID 时返回 NOT_FOUND
func (s *Service) RenameConversation(ctx context.Context, userID, conversationID, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("Title is required")
	}
	conv, err := s.store.RenameConversation(ctx, userID, conversationID, title)
	if err != nil {
		return nil, notFound(err, "Conversation")
	}
	return conv, nil
}

// DeleteConversation 删除会话及其全部消息，并清理历史缓存
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		return notFound(err, "Conversation")
	}
	s.invalidateHistory(ctx, conversationID)
	s.logger.Info("conversation deleted",
		zap.String("user_id", userID), zap.String("conversation_id", conversationID))
	return nil
}

// ListMessages 返回会话中属于 userID 的消息，按 createdAt 升序
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]store.Message, error) {
	if conversationID == "" {
		return nil, invalid("Conversation ID is required")
	}
	msgs, err := s.store.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}
