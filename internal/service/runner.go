// File: internal/service/runner.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/admission"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/metrics"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

const (
	releaseTimeout      = 10 * time.Second
	browserCloseTimeout = 15 * time.Second
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// BrowserOpener opens a browser session, on wsEndpoint when it is non-empty.
type BrowserOpener func(ctx context.Context, wsEndpoint string) (schemas.BrowserDriver, error)

// LLMFactory creates the model client for one run.
type LLMFactory func(ctx context.Context, cfg config.LLMModelConfig) (schemas.LLMClient, error)

// ManagerOpener adapts a browser.Manager to a BrowserOpener.
func ManagerOpener(m *browser.Manager) BrowserOpener {
	return func(ctx context.Context, wsEndpoint string) (schemas.BrowserDriver, error) {
		s, err := m.NewSession(ctx, wsEndpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Runner admits agent runs and drives each one against its own browser session.
type Runner struct {
	cfg      config.Interface
	sessions *admission.SessionSet
	backends *admission.BackendRegistry
	health   *browser.HealthChecker
	registry *tools.Registry
	searcher tools.Searcher
	memory   schemas.MemoryStore
	metrics  *metrics.Metrics
	logger   *zap.Logger

	openBrowser BrowserOpener
	newLLM      LLMFactory
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBrowserOpener replaces how browser sessions are opened.
func WithBrowserOpener(fn BrowserOpener) RunnerOption {
	return func(r *Runner) { r.openBrowser = fn }
}

// WithLLMFactory replaces how model clients are created.
func WithLLMFactory(fn LLMFactory) RunnerOption {
	return func(r *Runner) { r.newLLM = fn }
}

// NewRunner builds a runner over c.
func NewRunner(c *Components, logger *zap.Logger, opts ...RunnerOption) (*Runner, error) {
	if c == nil || c.Config == nil {
		return nil, errors.New("runner requires configured components")
	}
	if c.Registry == nil {
		return nil, errors.New("runner requires a tool registry")
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	r := &Runner{
		cfg:      c.Config,
		sessions: c.Sessions,
		backends: c.Backends,
		health:   c.Health,
		registry: c.Registry,
		searcher: c.Searcher,
		metrics:  c.Metrics,
		logger:   logger.Named("runner"),
	}
	if c.Memory != nil {
		r.memory = c.Memory
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if c.Browsers != nil {
		r.openBrowser = ManagerOpener(c.Browsers)
	}
	r.newLLM = func(ctx context.Context, cfg config.LLMModelConfig) (schemas.LLMClient, error) {
		return InitializeLLMClient(ctx, cfg, nil, r.logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.openBrowser == nil {
		return nil, errors.New("runner requires a browser opener")
	}
	return r, nil
}

// Memory returns the memory log runs are persisted to, or nil.
func (r *Runner) Memory() schemas.MemoryStore { return r.memory }

// Slot is an admitted run holding its admission slot and, when backends are
// configured, one unit of a backend's traffic. Release must be called on every path.
type Slot struct {
	Session string

	runner  *Runner
	req     *schemas.AgentRequest
	backend *admission.Backend
	logger  *zap.Logger
	release sync.Once
}

// Admit validates req, reserves a session slot and acquires a backend. It fails
// with ErrInvalidRequest, admission.ErrCapacityExhausted or admission.ErrNoBackend
// before any browser work starts.
func (r *Runner) Admit(ctx context.Context, req *schemas.AgentRequest) (*Slot, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	session := uuid.NewString()
	slot := &Slot{
		Session: session,
		runner:  r,
		req:     req,
		logger:  observability.ForSession(r.logger, session),
	}

	if r.sessions != nil {
		if err := r.sessions.Admit(ctx, session); err != nil {
			if errors.Is(err, admission.ErrCapacityExhausted) {
				r.metrics.Rejections.WithLabelValues("capacity").Inc()
			}
			return nil, err
		}
	}

	if r.backends != nil {
		b, err := r.backends.Acquire(ctx)
		if err != nil {
			slot.Release()
			if errors.Is(err, admission.ErrNoBackend) {
				r.metrics.Rejections.WithLabelValues("no_backend").Inc()
			}
			return nil, err
		}
		slot.backend = &b
		slot.logger = slot.logger.With(zap.String("backend", b.Key))
	}

	slot.logger.Info("Run admitted.")
	return slot, nil
}

// Release returns the backend traffic and the session slot. It is idempotent and
// runs on a fresh context so it completes after the request is gone.
func (s *Slot) Release() {
	s.release.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		r := s.runner
		if s.backend != nil && r.backends != nil {
			if err := r.backends.Release(ctx, s.backend.Key); err != nil {
				s.logger.Error("Failed to release backend traffic.", zap.Error(err))
			}
		}
		if r.sessions != nil {
			if err := r.sessions.Release(ctx, s.Session); err != nil {
				s.logger.Error("Failed to release session slot.", zap.Error(err))
			}
		}
		s.logger.Debug("Run released.")
	})
}

// Execute opens the browser, runs the agent and streams every event to sink,
// framed by browser_init, browser_init_done, agent_start and done. A failure
// before the agent finishes is reported as an error event and returned.
func (s *Slot) Execute(ctx context.Context, sink schemas.EventSink) (*agent.Outcome, error) {
	r := s.runner
	if sink == nil {
		sink = schemas.DiscardSink
	}
	emitCtx := context.WithoutCancel(ctx)
	fail := func(err error) (*agent.Outcome, error) {
		s.logger.Error("Run failed.", zap.Error(err))
		if emitErr := sink.Emit(emitCtx, errorEvent(err)); emitErr != nil {
			s.logger.Debug("Could not deliver error event.", zap.Error(emitErr))
		}
		return nil, err
	}

	if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventBrowserInit, Data: map[string]string{"session": s.Session}}); err != nil {
		return nil, err
	}

	wsEndpoint := ""
	if s.backend != nil {
		wsEndpoint = s.backend.WSEndpoint
		if err := s.waitBackend(ctx, wsEndpoint); err != nil {
			return fail(err)
		}
	}

	drv, err := r.openBrowser(ctx, wsEndpoint)
	if err != nil {
		return fail(fmt.Errorf("failed to open browser session: %w", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), browserCloseTimeout)
		defer cancel()
		if err := drv.Close(closeCtx); err != nil {
			s.logger.Warn("Failed to close browser session.", zap.Error(err))
		}
	}()

	if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventBrowserInitDone}); err != nil {
		return nil, err
	}

	llm, err := r.newLLM(ctx, r.modelConfig(s.req))
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			s.logger.Debug("Failed to close LLM client.", zap.Error(err))
		}
	}()

	// The machine attaches the session to its own logger.
	agentLogger := r.logger
	if s.backend != nil {
		agentLogger = agentLogger.With(zap.String("backend", s.backend.Key))
	}
	machine, err := agent.NewMachine(r.registry, drv, llm, agentLogger,
		agent.WithSearcher(r.searcher),
		agent.WithMemory(r.memory),
		agent.WithNetworkIdleTimeout(r.cfg.Browser().NetworkIdleTimeout),
	)
	if err != nil {
		return fail(err)
	}

	if err := sink.Emit(ctx, schemas.Event{Type: schemas.EventAgentStart}); err != nil {
		return nil, err
	}

	r.metrics.ActiveRuns.Inc()
	defer r.metrics.ActiveRuns.Dec()
	start := time.Now()

	outcome, err := machine.Run(ctx, s.runRequest(), sink)
	if err != nil {
		return fail(err)
	}
	r.metrics.ObserveRun(outcome.Terminal.Type, outcome.Iterations, time.Since(start))

	if err := sink.Emit(emitCtx, schemas.Event{Type: schemas.EventDone, Data: map[string]string{"session": s.Session}}); err != nil {
		s.logger.Debug("Could not deliver done event.", zap.Error(err))
	}
	return outcome, nil
}

// waitBackend blocks until a cold backend reports healthy. An empty health path disables the check.
func (s *Slot) waitBackend(ctx context.Context, wsEndpoint string) error {
	r := s.runner
	path := r.cfg.Browser().HealthPath
	if r.health == nil || path == "" {
		return nil
	}
	url, err := browser.HealthURL(wsEndpoint, path)
	if err != nil {
		return err
	}
	return r.health.WaitReady(ctx, url)
}

func (s *Slot) runRequest() agent.RunRequest {
	agentCfg := s.runner.cfg.Agent()
	wait := agentCfg.WaitBetweenActions
	if s.req.WaitBetweenActions != nil {
		wait = time.Duration(*s.req.WaitBetweenActions * float64(time.Second))
	}
	return agent.RunRequest{
		Session:            s.Session,
		Input:              s.req.Prompt,
		Schema:             s.req.ScraperSchema,
		WaitBetweenActions: wait,
		MaxIterations:      agentCfg.MaxIterations,
		ScreenshotEachStep: s.req.ScreenshotEachStep || agentCfg.ScreenshotEachStep,
		Memorize:           s.req.Memorize || agentCfg.Memorize,
	}
}

func (r *Runner) modelConfig(req *schemas.AgentRequest) config.LLMModelConfig {
	return llmclient.ForRequest(r.cfg.LLM(), req)
}

func errorEvent(err error) schemas.Event {
	return schemas.Event{Type: schemas.EventError, Data: map[string]string{"message": err.Error()}}
}
