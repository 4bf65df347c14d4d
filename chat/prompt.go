package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/tokenizer"
	"github.com/Ellipog/chat/store"
)

const systemPrompt = "You are a helpful AI assistant. You can use markdown for formatting your responses.\n" +
	"Context about the user: "

// SystemPrompt 返回带用户资料的系统提示词
func SystemPrompt(userInfo []store.UserFact) string {
	return systemPrompt + factsJSON(userInfo)
}

// History 返回会话最近 HistoryLimit 条消息（升序），启用缓存时先读 Redis
func (s *Service) History(ctx context.Context, conversationID string) ([]store.Message, error) {
	load := func(ctx context.Context) ([]store.Message, error) {
		return s.store.RecentMessages(ctx, conversationID, s.cfg.HistoryLimit)
	}
	if s.history == nil {
		return load(ctx)
	}
	return s.history.Load(ctx, conversationID, load)
}

// BuildPrompt 组装发送给上游的消息：系统提示词、裁剪后的历史与本轮用户消息。
// 历史末尾若已是本轮用户消息（由 SendMessage 先行持久化），不再重复追加。
func (s *Service) BuildPrompt(ctx context.Context, conversationID, message string, userInfo []store.UserFact) ([]llm.Message, error) {
	history, err := s.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if n := len(history); n > 0 && history[n-1].Role == store.RoleUser && history[n-1].Content == message {
		history = history[:n-1]
	}

	turns := make([]tokenizer.Message, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		turns = append(turns, tokenizer.Message{Role: m.Role, Content: m.Content})
	}

	if s.cfg.HistoryTokenBudget > 0 {
		trimmed, err := tokenizer.TrimToBudget(s.tokenizer, turns, s.cfg.HistoryTokenBudget)
		if err != nil {
			s.logger.Warn("history trim failed, sending untrimmed", zap.Error(err))
		} else {
			if dropped := len(turns) - len(trimmed); dropped > 0 {
				s.logger.Debug("history trimmed to token budget",
					zap.String("conversation_id", conversationID), zap.Int("dropped", dropped))
			}
			turns = trimmed
		}
	}

	msgs := make([]llm.Message, 0, len(turns)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(userInfo)})
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	return msgs, nil
}
