// Package factory provides a centralized factory for creating LLM Provider
// instances by name. It imports the provider sub-packages and maps string
// names to their constructors, breaking the import cycle that would occur
// if this logic lived in the llm package directly.
package factory

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Ellipog/chat/config"
	"github.com/Ellipog/chat/llm"
	"github.com/Ellipog/chat/llm/providers"
	"github.com/Ellipog/chat/llm/providers/anthropic"
	"github.com/Ellipog/chat/llm/providers/openai"
)

// ProviderConfig is the generic configuration accepted by the factory function.
// It uses a flat structure with an Extra map for provider-specific fields.
type ProviderConfig struct {
	APIKey  string         `json:"api_key" yaml:"api_key"`
	BaseURL string         `json:"base_url" yaml:"base_url"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`

	HTTPClient *http.Client `json:"-" yaml:"-"`
}

// FromLLMConfig 将应用配置中的 llm 段转换为 ProviderConfig
func FromLLMConfig(cfg config.LLMConfig, httpClient *http.Client) ProviderConfig {
	return ProviderConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: httpClient,
	}
}

// NewProviderFromConfig creates a Provider instance based on the provider name
// and a generic ProviderConfig.
//
// Supported names: openai, anthropic, claude.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	}

	switch name {
	case "openai":
		oc := providers.OpenAIConfig{BaseProviderConfig: base}
		if v, ok := cfg.Extra["organization"].(string); ok {
			oc.Organization = v
		}
		return openai.NewOpenAIProvider(oc, logger), nil

	case "anthropic", "claude":
		cc := providers.ClaudeConfig{BaseProviderConfig: base}
		switch v := cfg.Extra["default_max_tokens"].(type) {
		case int:
			cc.DefaultMaxTokens = v
		case float64:
			cc.DefaultMaxTokens = int(v)
		}
		return anthropic.NewClaudeProvider(cc, logger), nil

	default:
		return nil, fmt.Errorf("unknown provider %q: supported providers are %v", name, SupportedProviders())
	}
}

// SupportedProviders returns the list of built-in provider names.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "claude"}
}
