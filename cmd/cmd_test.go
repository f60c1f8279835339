// File: cmd/cmd_test.go
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/store"
)

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "webpilot "+Version+"\n", out)
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := executeCommand(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "run", "replay", "memory", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestRunRequiresPrompt(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := executeCommand(t, "--config", cfgPath, "run")
	require.Error(t, err)
}

func TestInvalidConfigFile(t *testing.T) {
	_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "memory", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestMemoryList(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		cfgPath, _ := writeConfig(t)
		out, err := executeCommand(t, "--config", cfgPath, "memory", "list")
		require.NoError(t, err)
		assert.Equal(t, "No memory found\n", out)
	})

	t.Run("WithRecords", func(t *testing.T) {
		cfgPath, memoryPath := writeConfig(t)
		fs, err := store.NewFileStore(memoryPath, zaptest.NewLogger(t))
		require.NoError(t, err)
		created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		rec := schemas.NewMemoryRecord("session-1", "open example.com", []schemas.Action{
			{ToolName: "navigate", ToolArgs: map[string]interface{}{"url": "https://example.com"}, ToolResponse: "ok", Status: schemas.StatusSuccess},
		}, created)
		require.NoError(t, fs.Append(context.Background(), rec))
		require.NoError(t, fs.Close())

		out, err := executeCommand(t, "--config", cfgPath, "memory", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "SESSION")
		assert.Contains(t, out, "session-1")
		assert.Contains(t, out, "2025-03-01T12:00:00Z")
		assert.Contains(t, out, "open example.com")
	})
}

func TestReplayUnknownSession(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := executeCommand(t, "--config", cfgPath, "replay", "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "Session not found\n", out)
}

func TestRunFlagsRequest(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		f := runFlags{model: "gpt-4o", memorize: true}
		req, err := f.request("find flights", false)
		require.NoError(t, err)
		assert.Equal(t, "find flights", req.Prompt)
		assert.Equal(t, "gpt-4o", req.Model)
		assert.True(t, req.Memorize)
		assert.Nil(t, req.WaitBetweenActions)
		assert.Nil(t, req.ScraperSchema)
	})

	t.Run("WaitAndSchema", func(t *testing.T) {
		schemaPath := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object"}`), 0o600))
		f := runFlags{wait: 2.5, schemaFile: schemaPath}
		req, err := f.request("scrape", true)
		require.NoError(t, err)
		require.NotNil(t, req.WaitBetweenActions)
		assert.Equal(t, 2.5, *req.WaitBetweenActions)
		assert.JSONEq(t, `{"type":"object"}`, string(req.ScraperSchema))
	})

	t.Run("MissingSchema", func(t *testing.T) {
		f := runFlags{schemaFile: filepath.Join(t.TempDir(), "nope.json")}
		_, err := f.request("scrape", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read schema file")
	})
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	require.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, config.Interface(cfg)))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
