// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// OpenAIClient implements schemas.LLMClient for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client     openai.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	newBackOff func() backoff.BackOff
}

// NewOpenAIClient initializes the client. Endpoint, when set, replaces the default base URL.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		// Retries are handled by our own backoff loop.
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		logger:     logger.Named("llm_client.openai"),
		config:     cfg,
		newBackOff: defaultBackOff,
	}, nil
}

// Generate sends a chat completion request and returns the first choice's content, with retries.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var text string
	operation := func() error {
		start := time.Now()
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			c.logger.Warn("OpenAI request failed.", zap.Error(err))
			return classify(err, openAIStatus)
		}
		if len(completion.Choices) == 0 {
			return backoff.Permanent(errors.New("openai API returned no choices"))
		}
		c.logger.Debug("LLM generation complete (OpenAI)",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", string(params.Model)),
			zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
			zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
		)
		text = completion.Choices[0].Message.Content
		return nil
	}

	if err := retry(ctx, c.newBackOff, c.config.MaxRetries, operation); err != nil {
		return "", err
	}
	return text, nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case schemas.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case schemas.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(strings.TrimPrefix(c.config.Model, "openai/")),
		Messages: messages,
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(c.config.Temperature))
	}
	if c.config.TopP > 0 {
		params.TopP = openai.Float(float64(c.config.TopP))
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.config.MaxTokens))
	}
	switch effort := strings.ToLower(c.config.ReasoningEffort); effort {
	case "low", "medium", "high":
		params.ReasoningEffort = shared.ReasoningEffort(effort)
	}
	if req.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Close is a no-op.
func (c *OpenAIClient) Close() error { return nil }

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
