package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/store"
)

const historyCacheType = "history"

// HitRecorder receives cache hit/miss counts.
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// HistoryCache 缓存会话最近的消息，用于构建流式请求的上下文。
// 消息写入后由调用方 Invalidate，下次读取时重新加载
type HistoryCache struct {
	m        *Manager
	recorder HitRecorder
	logger   *zap.Logger
}

// NewHistoryCache 创建会话历史缓存；recorder 可为 nil
func NewHistoryCache(m *Manager, recorder HitRecorder) *HistoryCache {
	return &HistoryCache{
		m:        m,
		recorder: recorder,
		logger:   m.logger.With(zap.String("cache", historyCacheType)),
	}
}

func historyKey(conversationID string) string {
	return "chat:history:" + conversationID
}

// Get 读取缓存的历史；未命中返回 ErrCacheMiss
func (h *HistoryCache) Get(ctx context.Context, conversationID string) ([]store.Message, error) {
	var msgs []store.Message
	err := h.m.GetJSON(ctx, historyKey(conversationID), &msgs)
	if err != nil {
		h.miss()
		return nil, err
	}
	h.hit()
	return msgs, nil
}

// Set 写入历史，使用 Manager 的默认 TTL
func (h *HistoryCache) Set(ctx context.Context, conversationID string, msgs []store.Message) error {
	return h.m.SetJSON(ctx, historyKey(conversationID), msgs, 0)
}

// Invalidate 删除会话历史
func (h *HistoryCache) Invalidate(ctx context.Context, conversationID string) error {
	return h.m.Delete(ctx, historyKey(conversationID))
}

// Load 先读缓存，未命中或出错时调用 load 并回填。缓存故障只记录日志
func (h *HistoryCache) Load(ctx context.Context, conversationID string, load func(context.Context) ([]store.Message, error)) ([]store.Message, error) {
	msgs, err := h.Get(ctx, conversationID)
	if err == nil {
		return msgs, nil
	}
	if !IsCacheMiss(err) {
		h.logger.Warn("history cache read failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	msgs, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.Set(ctx, conversationID, msgs); err != nil {
		h.logger.Warn("history cache fill failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return msgs, nil
}

func (h *HistoryCache) hit() {
	if h.recorder != nil {
		h.recorder.RecordCacheHit(historyCacheType)
	}
}

func (h *HistoryCache) miss() {
	if h.recorder != nil {
		h.recorder.RecordCacheMiss(historyCacheType)
	}
}
