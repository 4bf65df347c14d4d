package chat

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/store"
)

const (
	analysisTemperature = 0.1

	analysisPrompt = `You are an AI designed to extract personal information from messages.
Look for new, factual information about the user that isn't already in their profile.
You must respond with ONLY a JSON array of objects with 'category' and 'info' fields, or an empty array if no new information is found.
Example response format: [{"category": "Occupation", "info": "Software Engineer"}] or []
Categories should be specific but reusable (e.g., "Occupation", "Location", "Hobby", "Family", "Education", etc.).
Only extract factual, concrete information, not opinions or temporary states. Proper capitalization is important.
Current user info: `
)

// Analyze 抽取 message 中尚未记录的用户资料并追加到用户档案。
// 模型输出无法解析为数组时视为没有新资料。
func (s *Service) Analyze(ctx context.Context, userID, message string, known []store.UserFact) ([]store.UserFact, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("Message is required")
	}

	text, err := s.complete(ctx, &llm.ChatRequest{
		Model:  s.cfg.AnalysisModel,
		UserID: userID,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisPrompt + factsJSON(known)},
			{Role: llm.RoleUser, Content: message},
		},
		Temperature: analysisTemperature,
	})
	if err != nil {
		return nil, err
	}

	facts := ParseFacts(text)
	if len(facts) == 0 {
		return []store.UserFact{}, nil
	}

	now := s.now()
	for i := range facts {
		facts[i].CreatedAt = now
	}
	if err := s.store.AppendUserInfo(ctx, userID, facts); err != nil {
		return nil, persistenceFailed("Failed to update user info", err)
	}
	s.logger.Debug("user info extended", zap.String("user_id", userID), zap.Int("facts", len(facts)))
	return facts, nil
}

// ParseFacts 解析模型返回的 JSON 数组，容忍 markdown 代码块包裹。
// 缺少 category 或 info 的条目被丢弃。
func ParseFacts(text string) []store.UserFact {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "```"))
	}

	var raw []struct {
		Category string `json:"category"`
		Info     string `json:"info"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil
	}

	facts := make([]store.UserFact, 0, len(raw))
	for _, r := range raw {
		category := strings.TrimSpace(r.Category)
		info := strings.TrimSpace(r.Info)
		if category == "" || info == "" {
			continue
		}
		facts = append(facts, store.UserFact{Category: category, Info: info})
	}
	return facts
}

// factsJSON 序列化用户资料；nil 输出为 []
func factsJSON(facts []store.UserFact) string {
	if facts == nil {
		facts = []store.UserFact{}
	}
	data, err := json.Marshal(facts)
	if err != nil {
		return "[]"
	}
	return string(data)
}
