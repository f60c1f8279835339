// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// ForRequest overlays the per-run model settings of a request onto the configured defaults.
// The provider follows the model name when the name identifies one.
func ForRequest(base config.LLMModelConfig, req *schemas.AgentRequest) config.LLMModelConfig {
	cfg := base
	if req == nil {
		return cfg
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.Model != "" {
		cfg.Model = req.Model
		if p, ok := ProviderForModel(req.Model); ok {
			cfg.Provider = p
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		cfg.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		cfg.TopP = float32(*req.TopP)
	}
	if req.ReasoningEffort != "" {
		cfg.ReasoningEffort = req.ReasoningEffort
	}
	return cfg
}

// ProviderForModel infers the provider from a model name such as "gemini-2.5-flash",
// "openai/gpt-4o" or "o3-mini".
func ProviderForModel(model string) (config.LLMProvider, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gemini"):
		return config.ProviderGemini, true
	case strings.HasPrefix(m, "openai/"), strings.HasPrefix(m, "gpt-"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return config.ProviderOpenAI, true
	}
	return "", false
}
