package llmclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const chatCompletionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "test-model",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"ok\": true}"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func setupOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig(config.ProviderOpenAI)
	cfg.Endpoint = server.URL
	client, err := NewOpenAIClient(cfg, logger)
	require.NoError(t, err)
	client.newBackOff = fastBackOff
	return client
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	cfg := getValidLLMConfig(config.ProviderOpenAI)
	cfg.APIKey = ""
	_, err := NewOpenAIClient(cfg, nil)
	assert.Error(t, err)
}

func TestOpenAIClient_Generate(t *testing.T) {
	var body string
	client := setupOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody)
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	assert.Contains(t, body, `"model":"test-model"`)
	assert.Contains(t, body, `"json_object"`)
	assert.Contains(t, body, "System prompt instructions.")
	assert.Contains(t, body, `"max_completion_tokens":512`)
	assert.NotContains(t, body, "reasoning_effort")
}

func TestOpenAIClient_RetriesTransientErrors(t *testing.T) {
	var calls int32
	client := setupOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, chatCompletionBody)
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIClient_PermanentErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := setupOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusUnauthorized, openAIStatus(err))
}

func TestOpenAIClient_ReasoningEffort(t *testing.T) {
	var body string
	client := setupOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody)
	})
	client.config.ReasoningEffort = "High"

	_, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Contains(t, body, `"reasoning_effort":"high"`)
}
