// internal/replay/replay.go
package replay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

// ErrEmptyRecord is returned when the stored session has no steps to run.
var ErrEmptyRecord = errors.New("memory record has no steps")

// Options tune a single replay.
type Options struct {
	// WaitBetweenActions is slept between consecutive steps.
	WaitBetweenActions time.Duration
	// Schema is passed to scrape tools, as in the original run.
	Schema             json.RawMessage
	ScreenshotEachStep bool
	// ScreenshotDir, when set, also writes each screenshot to disk.
	ScreenshotDir string
	// Sink receives per-step events and the terminal event. Nil discards them.
	Sink schemas.EventSink
}

// Result is the outcome of a replay. StepResults holds one response per recorded step,
// failures included, in order.
type Result struct {
	Session     string
	Input       string
	StepResults []interface{}
	Output      schemas.Event
}

// Engine re-runs memorized sessions through the tool registry with no model in the loop.
type Engine struct {
	registry *tools.Registry
	memory   schemas.MemoryStore
	browser  schemas.BrowserDriver
	llm      schemas.LLMClient
	searcher tools.Searcher
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLLM attaches the model the scrape tools extract with.
func WithLLM(c schemas.LLMClient) Option {
	return func(e *Engine) { e.llm = c }
}

// WithSearcher attaches the web search backend.
func WithSearcher(s tools.Searcher) Option {
	return func(e *Engine) { e.searcher = s }
}

// WithSleep replaces the inter-step timer.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine creates a replay engine bound to one browser session.
func NewEngine(registry *tools.Registry, memory schemas.MemoryStore, browser schemas.BrowserDriver, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("replay requires a tool registry")
	}
	if memory == nil {
		return nil, errors.New("replay requires a memory store")
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	e := &Engine{
		registry: registry,
		memory:   memory,
		browser:  browser,
		logger:   logger.Named("replay"),
		sleep:    tools.SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Replay loads the session's record and dispatches every step in order. A failing step
// is recorded verbatim and does not stop the replay. The error wraps
// schemas.ErrSessionNotFound when the session is unknown.
func (e *Engine) Replay(ctx context.Context, sessionID string, opts Options) (*Result, error) {
	record, err := e.memory.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if len(record.Steps) == 0 {
		return nil, ErrEmptyRecord
	}

	sink := opts.Sink
	if sink == nil {
		sink = schemas.DiscardSink
	}
	logger := observability.ForSession(e.logger, sessionID)
	env := tools.NewEnv(e.browser, e.llm, e.searcher, opts.Schema, logger)
	env.Sleep = e.sleep

	res := &Result{
		Session:     record.Session,
		Input:       record.Input,
		StepResults: make([]interface{}, 0, len(record.Steps)),
	}
	logger.Info("Replaying session.", zap.Int("steps", len(record.Steps)), zap.String("input", record.Input))

	for i, step := range record.Steps {
		if i > 0 && opts.WaitBetweenActions > 0 {
			if err := e.sleep(ctx, opts.WaitBetweenActions); err != nil {
				return res, fmt.Errorf("replay interrupted before step %d: %w", i+1, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("replay interrupted before step %d: %w", i+1, err)
		}

		if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventIteration, Data: i + 1}); err != nil {
			return res, fmt.Errorf("event sink failed: %w", err)
		}
		if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventToolCall, Data: schemas.ToolCall{Name: step.ToolName, Args: step.ToolArgs}}); err != nil {
			return res, fmt.Errorf("event sink failed: %w", err)
		}

		out := e.registry.Dispatch(ctx, env, step.ToolName, step.ToolArgs)
		if out.Failed() {
			logger.Warn("Replayed step failed.", zap.Int("step", i+1), zap.String("tool", step.ToolName), zap.String("error", out.Message))
		}
		res.StepResults = append(res.StepResults, out.Response())
		if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventToolResponse, Data: out.Response()}); err != nil {
			return res, fmt.Errorf("event sink failed: %w", err)
		}

		if opts.ScreenshotEachStep {
			if err := e.screenshot(ctx, sink, sessionID, i+1, opts.ScreenshotDir); err != nil {
				return res, err
			}
		}
	}

	if ev, ok := env.Data.Output(); ok {
		res.Output = ev
	} else {
		res.Output = schemas.Event{Type: schemas.EventResultOutput, Data: res.StepResults[len(res.StepResults)-1]}
	}
	if err := sink.Emit(ctx, res.Output); err != nil {
		logger.Debug("Terminal event was not delivered.", zap.Error(err))
	}
	logger.Info("Replay finished.", zap.String("output", string(res.Output.Type)))
	return res, nil
}

// screenshot captures the page after a step. Capture failures are logged and skipped;
// only a failing sink aborts the replay.
func (e *Engine) screenshot(ctx context.Context, sink schemas.EventSink, session string, step int, dir string) error {
	if e.browser == nil {
		return nil
	}
	shot, err := e.browser.Screenshot(ctx)
	if err != nil {
		e.logger.Warn("Screenshot failed.", zap.Int("step", step), zap.Error(err))
		return nil
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			e.logger.Warn("Could not create screenshot directory.", zap.String("dir", dir), zap.Error(err))
		} else {
			name := filepath.Join(dir, fmt.Sprintf("screenshot_replay_session_%s_%d.png", session, step))
			if err := os.WriteFile(name, shot, 0o644); err != nil {
				e.logger.Warn("Could not write screenshot.", zap.String("path", name), zap.Error(err))
			}
		}
	}
	if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventScreenshot, Data: base64.StdEncoding.EncodeToString(shot)}); err != nil {
		return fmt.Errorf("event sink failed: %w", err)
	}
	return nil
}
