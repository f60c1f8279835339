// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// thinkingBudgets maps reasoning effort names onto Gemini thinking token budgets.
var thinkingBudgets = map[string]int32{
	"disable": 0,
	"none":    0,
	"low":     1024,
	"medium":  8192,
	"high":    24576,
}

// GeminiClient implements schemas.LLMClient on top of the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	newBackOff func() backoff.BackOff
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Gemini API Key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		logger:     logger.Named("llm_client.gemini"),
		config:     cfg,
		newBackOff: defaultBackOff,
	}, nil
}

// Generate sends the conversation to Gemini and returns the first candidate's text, with retries.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents, genCfg := c.buildRequest(req)
	model := strings.TrimPrefix(c.config.Model, "gemini/")

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
		if err != nil {
			c.logger.Warn("Gemini request failed.", zap.Error(err))
			return classify(err, geminiStatus)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			reason := string(candidate.FinishReason)
			if reason == "SAFETY" || reason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", reason)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start)), zap.String("model", model)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Debug("LLM generation complete (Gemini)", fields...)
		text = resp.Text()
		return nil
	}

	if err := retry(ctx, c.newBackOff, c.config.MaxRetries, operation); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) buildRequest(req schemas.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.config.Temperature),
		TopP:            genai.Ptr(c.config.TopP),
		MaxOutputTokens: int32(c.config.MaxTokens),
	}
	if req.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if budget, ok := thinkingBudgets[strings.ToLower(c.config.ReasoningEffort)]; ok {
		genCfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case schemas.RoleSystem:
			system = append(system, m.Content)
		case schemas.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	return contents, genCfg
}

// Close is a no-op; the SDK holds no resources beyond its HTTP client.
func (c *GeminiClient) Close() error { return nil }

func geminiStatus(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code
		case *genai.APIError:
			return v.Code
		}
	}
	return 0
}
