package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/config"
	"github.com/Ellipog/chat/internal/cache"
	"github.com/Ellipog/chat/internal/pool"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/retry"
	"github.com/Ellipog/chat/llm/streaming"
	"github.com/Ellipog/chat/llm/tokenizer"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/types"
)

// Recorder 接收服务层指标，*metrics.Collector 实现了它
type Recorder interface {
	streaming.Recorder
	StreamStarted()
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordBackgroundTask(kind string, err error)
}

// Config 服务层配置
type Config struct {
	Model              string
	AnalysisModel      string
	Temperature        float64
	MaxTokens          int
	HistoryLimit       int
	HistoryTokenBudget int
	Timeout            time.Duration
	Encoding           string
	Stream             streaming.Config
}

// ConfigFrom 从全局配置组装服务层配置
func ConfigFrom(llmCfg config.LLMConfig, streamCfg config.StreamConfig) Config {
	return Config{
		Model:              llmCfg.Model,
		AnalysisModel:      llmCfg.AnalysisModel,
		Temperature:        llmCfg.Temperature,
		MaxTokens:          llmCfg.MaxTokens,
		HistoryLimit:       llmCfg.HistoryLimit,
		HistoryTokenBudget: llmCfg.HistoryTokenBudget,
		Timeout:            llmCfg.Timeout,
		Encoding:           streamCfg.Encoding,
		Stream: streaming.Config{
			FlushInterval:          streamCfg.FlushInterval,
			SentenceFlush:          streamCfg.SentenceFlush,
			SinkFailureFatal:       streamCfg.SinkFailureFatal,
			PersistEmpty:           streamCfg.PersistEmpty,
			PersistPartialOnCancel: streamCfg.PersistPartialOnCancel,
			SinkTimeout:            streamCfg.SinkTimeout,
		},
	}
}

// RetryPolicyFrom 将重试配置转换为 retry.Policy。
// 记录不存在或重复不会因重试而改变，直接失败。
func RetryPolicyFrom(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
		RetryIf:      retryablePersistence,
	}
}

func retryablePersistence(err error) bool {
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrDuplicate) &&
		!errors.Is(err, context.Canceled)
}

// Option 配置 Service
type Option func(*Service)

// WithHistoryCache 启用 Redis 历史缓存
func WithHistoryCache(h *cache.HistoryCache) Option {
	return func(s *Service) { s.history = h }
}

// WithPool 将分析任务提交到有界协程池
func WithPool(p *pool.GoroutinePool) Option {
	return func(s *Service) { s.pool = p }
}

// WithRetryer 替换持久化重试器
func WithRetryer(r retry.Retryer) Option {
	return func(s *Service) {
		if r != nil {
			s.retryer = r
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithTokenizer 替换历史裁剪使用的分词器
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(s *Service) {
		if t != nil {
			s.tokenizer = t
		}
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service 聊天应用服务
type Service struct {
	store     store.Store
	provider  llm.Provider
	cfg       Config
	history   *cache.HistoryCache
	pool      *pool.GoroutinePool
	retryer   retry.Retryer
	recorder  Recorder
	tokenizer tokenizer.Tokenizer
	now       func() time.Time
	logger    *zap.Logger
}

// NewService 创建聊天服务
func NewService(st store.Store, provider llm.Provider, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = cfg.Model
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	s := &Service{
		store:    st,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "chat_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryer == nil {
		s.retryer = retry.New(retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     time.Second,
			Multiplier:   1.0,
			RetryIf:      retryablePersistence,
		}, s.logger)
	}
	if s.tokenizer == nil {
		s.tokenizer = tokenizer.ForModel(cfg.Model)
	}
	return s
}

// complete 发起一次非流式调用并记录指标
func (s *Service) complete(ctx context.Context, req *llm.ChatRequest) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := s.now()
	resp, err := s.provider.Completion(ctx, req)
	if s.recorder != nil {
		status := "success"
		var usage llm.ChatUsage
		if err != nil {
			status = "error"
		} else {
			usage = resp.Usage
		}
		s.recorder.RecordLLMRequest(s.provider.Name(), req.Model, status, s.now().Sub(start), usage.PromptTokens, usage.CompletionTokens)
	}
	if err != nil {
		return "", err
	}
	return llm.FirstContent(resp)
}

func (s *Service) invalidateHistory(ctx context.Context, conversationID string) {
	if s.history == nil {
		return
	}
	if err := s.history.Invalidate(ctx, conversationID); err != nil {
		s.logger.Warn("history cache invalidate failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// notFound 把存储层的 ErrNotFound 转换为 API 错误
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return types.NewError(types.ErrNotFound, what+" not found").WithCause(err)
	}
	return err
}

func invalid(msg string) error {
	return types.NewError(types.ErrInvalidRequest, msg)
}

func persistenceFailed(msg string, err error) error {
	return types.NewError(types.ErrPersistenceFailed, msg).WithCause(err)
}
