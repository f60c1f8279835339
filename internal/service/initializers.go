// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

// InitializeRegistry builds the built-in tool registry, hiding the configured
// tools, and reports every dispatch to observer when it is non-nil.
func InitializeRegistry(cfg config.AgentConfig, observer tools.DispatchObserver, logger *zap.Logger) (*tools.Registry, error) {
	registry, err := tools.NewDefaultRegistry(logger, cfg.HiddenTools...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	if observer != nil {
		registry.SetObserver(observer)
	}
	return registry, nil
}

// InitializeSearcher creates the web search backend used by web_search.
func InitializeSearcher(cfg config.SearchConfig, logger *zap.Logger) tools.Searcher {
	return tools.NewDDGSearcher(cfg, logger)
}

// InitializeLLMClient creates the model client for one run. Request fields
// override the configured model settings.
func InitializeLLMClient(ctx context.Context, base config.LLMModelConfig, req *schemas.AgentRequest, logger *zap.Logger) (schemas.LLMClient, error) {
	cfg := llmclient.ForRequest(base, req)
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	logger.Debug("LLM client initialized.", zap.String("provider", string(cfg.Provider)), zap.String("model", cfg.Model))
	return client, nil
}
