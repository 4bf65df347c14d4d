package circuitbreaker

import (
	"context"
	"net/http"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/types"
)

// Provider 为 llm.Provider 加上熔断保护。
// 流式调用在通道关闭时才上报结果，中途的上游错误同样计入失败。
type Provider struct {
	inner   llm.Provider
	breaker *Breaker
}

var _ llm.Provider = (*Provider)(nil)

// Wrap 用 breaker 包装 p
func Wrap(p llm.Provider, breaker *Breaker) *Provider {
	return &Provider{inner: p, breaker: breaker}
}

// Name 返回被包装 Provider 的名称
func (p *Provider) Name() string { return p.inner.Name() }

// Breaker 返回使用的熔断器
func (p *Provider) Breaker() *Breaker { return p.breaker }

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, p.unavailable(err)
	}
	resp, err := p.inner.Completion(ctx, req)
	p.breaker.Done(err)
	return resp, err
}

// Stream 实现 llm.Provider
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, p.unavailable(err)
	}
	in, err := p.inner.Stream(ctx, req)
	if err != nil {
		p.breaker.Done(err)
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var failure error
		for chunk := range in {
			if chunk.Err != nil {
				failure = chunk.Err
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// 消费方已离开，继续排空直到上游关闭通道
			}
		}
		if failure == nil && ctx.Err() != nil {
			failure = ctx.Err()
		}
		p.breaker.Done(failure)
	}()
	return out, nil
}

func (p *Provider) unavailable(cause error) *llm.Error {
	return &llm.Error{
		Code:       types.ErrProviderUnavailable,
		Message:    "AI provider is temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Provider:   p.inner.Name(),
		Cause:      cause,
	}
}
