package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/providers"
)

const (
	providerName     = "anthropic"
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// MessagesClient captures the subset of the SDK client used by the provider.
// It is satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Provider Claude Messages API 的 llm.Provider 实现
type Provider struct {
	client MessagesClient
	cfg    providers.ClaudeConfig
	logger *zap.Logger
}

// NewClaudeProvider 创建新的 Claude 提供者实例
func NewClaudeProvider(cfg providers.ClaudeConfig, logger *zap.Logger) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	ac := sdk.NewClient(opts...)
	return NewWithClient(&ac.Messages, cfg, logger)
}

// NewWithClient 使用给定的 SDK 客户端创建提供者
func NewWithClient(client MessagesClient, cfg providers.ClaudeConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = defaultMaxTokens
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

	msg, err := p.client.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, p.mapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &llm.ChatResponse{
		ID:       msg.ID,
		Provider: providerName,
		Model:    string(msg.Model),
		Choices: []llm.ChatChoice{{
			FinishReason: string(msg.StopReason),
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text.String()},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Stream 打开流式请求，只转发文本增量；message_delta 携带的
// stop_reason 与用量附在最后一个 chunk 上。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, p.mapError(err)
	}

	model := providers.ChooseModel(req, p.cfg.Model, defaultModel)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				if !send(llm.StreamChunk{
					Provider: providerName,
					Model:    model,
					Delta:    llm.Message{Role: llm.RoleAssistant, Content: delta.Text},
				}) {
					return
				}
			case sdk.MessageDeltaEvent:
				if !send(llm.StreamChunk{
					Provider:     providerName,
					Model:        model,
					Delta:        llm.Message{Role: llm.RoleAssistant},
					FinishReason: string(ev.Delta.StopReason),
					Usage: &llm.ChatUsage{
						PromptTokens:     int(ev.Usage.InputTokens),
						CompletionTokens: int(ev.Usage.OutputTokens),
						TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
					},
				}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			p.logger.Warn("stream interrupted", zap.Error(err))
			send(llm.StreamChunk{Provider: providerName, Err: p.mapError(err)})
		}
	}()
	return ch, nil
}

func (p *Provider) buildParams(req *llm.ChatRequest) sdk.MessageNewParams {
	system, msgs := encodeMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(providers.ChooseModel(req, p.cfg.Model, defaultModel)),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return params
}

// encodeMessages 拆出 system 消息；Claude 要求 user/assistant 严格交替且以 user 开头
func encodeMessages(in []llm.Message) ([]sdk.TextBlockParam, []sdk.MessageParam) {
	var system []sdk.TextBlockParam
	type turn struct {
		role  llm.Role
		parts []string
	}
	var turns []turn

	for _, m := range in {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		case llm.RoleAssistant:
			if len(turns) == 0 {
				continue
			}
		}
		role := m.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].parts = append(turns[n-1].parts, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, parts: []string{m.Content}})
	}

	msgs := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(t.parts))
		for _, part := range t.parts {
			blocks = append(blocks, sdk.NewTextBlock(part))
		}
		if t.role == llm.RoleAssistant {
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		}
	}
	return system, msgs
}

func (p *Provider) mapError(err error) *llm.Error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		e := providers.MapHTTPError(apiErr.StatusCode, apiErrorMessage(apiErr), providerName)
		e.Cause = err
		return e
	}
	return providers.MapTransportError(err, providerName)
}

func apiErrorMessage(e *sdk.Error) string {
	if raw := e.RawJSON(); raw != "" {
		return raw
	}
	return "anthropic request failed"
}
