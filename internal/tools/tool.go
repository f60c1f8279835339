// internal/tools/tool.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"go.uber.org/zap"
)

var (
	// ErrToolNotFound is wrapped into the message of a TOOL_NOT_FOUND result.
	ErrToolNotFound = errors.New("tool not found")
	// ErrNoBrowser is returned by browser tools when the run has no driver attached.
	ErrNoBrowser = errors.New("no browser session attached to this run")
	// ErrNoModel is returned by extraction tools when the run has no model client.
	ErrNoModel = errors.New("no language model attached to this run")
)

// Tool is a named, schema-validated action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Schema() []ArgSpec
	Execute(ctx context.Context, env *Env, args Args) (interface{}, error)
}

// DataProducer marks tools whose successful output is captured into the run's scraped data.
type DataProducer interface {
	ProducesData() bool
}

// Notice is a successful tool output that reports a condition rather than data.
// It is stored as plain text and never captured.
type Notice string

// SearchResult is one hit from the web search backend.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Env carries the per-run collaborators and state a tool executes against.
// It is owned by a single run and must not be shared.
type Env struct {
	Browser  schemas.BrowserDriver
	LLM      schemas.LLMClient
	Searcher Searcher
	Logger   *zap.Logger
	// Schema is the optional JSON schema scrape tools extract against.
	Schema json.RawMessage
	// Data accumulates captured output across the run.
	Data *Accumulator
	// Sleep replaces the real timer in tests. Nil means a context-aware time.Timer.
	Sleep func(ctx context.Context, d time.Duration) error

	lastMarkdown string
	hasScrape    bool
}

// NewEnv builds an Env with a fresh accumulator.
func NewEnv(browser schemas.BrowserDriver, llm schemas.LLMClient, searcher Searcher, schema json.RawMessage, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{
		Browser:  browser,
		LLM:      llm,
		Searcher: searcher,
		Schema:   schema,
		Logger:   logger,
		Data:     NewAccumulator(len(schema) > 0),
	}
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) browser() (schemas.BrowserDriver, error) {
	if e.Browser == nil {
		return nil, ErrNoBrowser
	}
	return e.Browser, nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
