package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/providers"
	"github.com/Ellipog/chat/types"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4"
)

// ChatCompletions captures the subset of the SDK client used by the
// provider. It is satisfied by *openai.ChatCompletionService.
type ChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Provider 基于官方 openai-go SDK 的 Chat Completions 实现
type Provider struct {
	client ChatCompletions
	cfg    providers.OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIProvider 创建新的 OpenAI 提供者实例
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return NewWithClient(&client.Chat.Completions, cfg, logger)
}

// NewWithClient 使用给定的 SDK 客户端创建提供者，主要用于测试
func NewWithClient(client ChatCompletions, cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := p.client.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, p.mapError(err)
	}

	out := &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        int(c.Index),
			FinishReason: string(c.FinishReason),
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content},
		})
	}
	return out, nil
}

// Stream 打开流式请求。请求级错误（鉴权、限流）在返回前同步暴露，
// 之后的错误以带 Err 的 chunk 结束通道。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, p.mapError(err)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.StreamChunk{
				ID:           chunk.ID,
				Provider:     providerName,
				Model:        chunk.Model,
				Delta:        llm.Message{Role: llm.RoleAssistant, Content: choice.Delta.Content},
				FinishReason: string(choice.FinishReason),
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			p.logger.Warn("stream interrupted", zap.Error(err))
			select {
			case ch <- llm.StreamChunk{Provider: providerName, Err: p.mapError(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (p *Provider) buildParams(req *llm.ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(providers.ChooseModel(req, p.cfg.Model, defaultModel)),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func (p *Provider) mapError(err error) *llm.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		e := providers.MapHTTPError(apiErr.StatusCode, msg, providerName)
		if apiErr.Code == "insufficient_quota" {
			e.Code = types.ErrQuotaExceeded
			e.Retryable = false
		}
		e.Cause = err
		return e
	}
	return providers.MapTransportError(err, providerName)
}
