package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}

	switch status {
	case http.StatusUnauthorized:
		e.Code = types.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = types.ErrForbidden
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		// 部分上游以 400 返回额度不足
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = types.ErrQuotaExceeded
		} else {
			e.Code = types.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = types.ErrUpstreamTimeout
		e.Retryable = true
	case 529: // Anthropic overloaded
		e.Code = types.ErrProviderUnavailable
		e.Retryable = true
	default:
		e.Code = types.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// MapTransportError 处理没有 HTTP 状态码的错误（超时、连接中断等）
func MapTransportError(err error, provider string) *llm.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &llm.Error{
			Code:       types.ErrUpstreamTimeout,
			Message:    "upstream request timed out",
			HTTPStatus: http.StatusGatewayTimeout,
			Retryable:  true,
			Provider:   provider,
			Cause:      err,
		}
	case errors.Is(err, context.Canceled):
		return &llm.Error{
			Code:     types.ErrStreamFailed,
			Message:  "request cancelled",
			Provider: provider,
			Cause:    err,
		}
	default:
		return &llm.Error{
			Code:       types.ErrUpstreamError,
			Message:    "upstream request failed",
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   provider,
			Cause:      err,
		}
	}
}

// ChooseModel 按优先级选择模型：请求中的模型 > 配置的默认模型 > fallback
func ChooseModel(req *llm.ChatRequest, defaultModel, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
