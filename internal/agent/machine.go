// internal/agent/machine.go
package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

const (
	// FinishTool is the sentinel tool name that ends the loop.
	FinishTool = "finish"
	// DefaultMaxIterations bounds the number of tool calls in one run.
	DefaultMaxIterations = 100

	defaultIdleTimeout = 5 * time.Second
	defaultSummary     = "Task completed."
	cancelledMessage   = "Request cancelled by the server"
	invalidReplyMsg    = "The response from the model was not a valid JSON object. Please try again."
)

// ErrEmptyInput is returned by Run when the request carries no query.
var ErrEmptyInput = errors.New("run input must not be empty")

// errStopped signals that the event consumer is gone or the run was cancelled.
var errStopped = errors.New("run stopped")

// screenshotTools are the page-changing tools after which a screenshot is taken.
var screenshotTools = map[string]bool{
	"click_element":       true,
	"click_and_type_text": true,
	"inject_code":         true,
	"scroll_site":         true,
	"navigate":            true,
	"press_key":           true,
	"wait":                true,
}

// Phase names the state the machine is in.
type Phase string

const (
	PhaseDecide Phase = "DECIDE"
	PhaseRoute  Phase = "ROUTE"
	PhaseAct    Phase = "ACT"
	PhaseFinish Phase = "FINISH"
)

// RunRequest describes one agent run.
type RunRequest struct {
	Session string
	Input   string
	// Schema is the optional JSON schema scrape tools extract against.
	Schema             json.RawMessage
	WaitBetweenActions time.Duration
	MaxIterations      int
	ScreenshotEachStep bool
	Memorize           bool
}

// RunState is the mutable state of one run. It is owned by the run's goroutine.
type RunState struct {
	Input      string
	Phase      Phase
	Page       *schemas.PageState
	Decision   schemas.Decision
	History    []schemas.Action
	Iterations int
	Screenshot string
}

// Outcome is what a finished run reports back to its caller.
type Outcome struct {
	Session    string
	Terminal   schemas.Event
	History    []schemas.Action
	Iterations int
	// Memorized is set when the run was persisted to the memory log.
	Memorized *schemas.MemoryRecord
}

// Machine drives the decide, route, act and finish loop over a tool registry.
// A Machine holds no per-run state and may serve many runs, each with its own browser.
type Machine struct {
	registry     *tools.Registry
	browser      schemas.BrowserDriver
	llm          schemas.LLMClient
	searcher     tools.Searcher
	memory       schemas.MemoryStore
	logger       *zap.Logger
	systemPrompt string
	idleTimeout  time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithSearcher attaches the web search backend used by web_search.
func WithSearcher(s tools.Searcher) Option {
	return func(m *Machine) { m.searcher = s }
}

// WithMemory attaches the store memorized runs are appended to.
func WithMemory(s schemas.MemoryStore) Option {
	return func(m *Machine) { m.memory = s }
}

// WithNetworkIdleTimeout bounds the wait for the page to settle after each action.
func WithNetworkIdleTimeout(d time.Duration) Option {
	return func(m *Machine) { m.idleTimeout = d }
}

// WithSleep replaces the inter-step timer. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Machine) { m.sleep = fn }
}

// WithClock overrides the time source used for memory records.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine builds a machine for one browser session.
func NewMachine(registry *tools.Registry, browser schemas.BrowserDriver, llm schemas.LLMClient, logger *zap.Logger, opts ...Option) (*Machine, error) {
	if registry == nil {
		return nil, errors.New("agent requires a tool registry")
	}
	if llm == nil {
		return nil, errors.New("agent requires an LLM client")
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	m := &Machine{
		registry:     registry,
		browser:      browser,
		llm:          llm,
		logger:       logger.Named("agent"),
		systemPrompt: BuildSystemPrompt(registry.Catalog()),
		idleTimeout:  defaultIdleTimeout,
		sleep:        tools.SleepContext,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// run is the per-invocation context threaded through the phases.
type run struct {
	m        *Machine
	req      RunRequest
	env      *tools.Env
	st       *RunState
	sink     schemas.EventSink
	logger   *zap.Logger
	outcome  *Outcome
	terminal bool
}

// Run executes one query to completion and emits its events to sink, ending with exactly
// one terminal event. The returned error is reserved for requests that cannot start; every
// failure after that is reported through the terminal event.
func (m *Machine) Run(ctx context.Context, req RunRequest, sink schemas.EventSink) (out *Outcome, err error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrEmptyInput
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = DefaultMaxIterations
	}
	if sink == nil {
		sink = schemas.DiscardSink
	}

	logger := observability.ForSession(m.logger, req.Session)
	env := tools.NewEnv(m.browser, m.llm, m.searcher, req.Schema, logger)
	env.Sleep = m.sleep

	r := &run{
		m:       m,
		req:     req,
		env:     env,
		st:      &RunState{Input: req.Input, Phase: PhaseDecide},
		sink:    sink,
		logger:  logger,
		outcome: &Outcome{Session: req.Session},
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic recovered during agent run",
				zap.Any("panic_value", p),
				zap.Stack("stack"),
			)
			r.terminate(ctx, schemas.EventErrorOutput, fmt.Sprintf("An unexpected error occurred: %v", p))
		}
		r.outcome.History = r.st.History
		r.outcome.Iterations = r.st.Iterations
		out, err = r.outcome, nil
	}()

	logger.Info("Agent run started.", zap.Int("max_iterations", req.MaxIterations))
	r.loop(ctx)
	logger.Info("Agent run finished.",
		zap.String("terminal", string(r.outcome.Terminal.Type)),
		zap.Int("iterations", r.st.Iterations),
	)
	return r.outcome, nil
}

func (r *run) loop(ctx context.Context) {
	for {
		switch r.st.Phase {
		case PhaseDecide:
			if r.st.Iterations >= r.req.MaxIterations {
				r.logger.Warn("Iteration budget exhausted, finishing run.", zap.Int("max_iterations", r.req.MaxIterations))
				r.st.Phase = PhaseFinish
				continue
			}
			if err := r.decide(ctx); err != nil {
				r.cancel(ctx)
				return
			}
			r.st.Phase = PhaseRoute
		case PhaseRoute:
			next, err := r.route(ctx)
			if err != nil {
				r.cancel(ctx)
				return
			}
			r.st.Phase = next
		case PhaseAct:
			if err := r.act(ctx); err != nil {
				r.cancel(ctx)
				return
			}
			r.st.Phase = PhaseDecide
		case PhaseFinish:
			r.finish(ctx)
			return
		default:
			panic(fmt.Sprintf("unknown phase %q", r.st.Phase))
		}
	}
}

// decide asks the model for the next step. Model and parse failures become a
// placeholder decision so the loop keeps going.
func (r *run) decide(ctx context.Context) error {
	if err := r.emit(ctx, schemas.EventIteration, len(r.st.History)+1); err != nil {
		return err
	}
	if url := r.currentURL(ctx); url != "" {
		if err := r.emit(ctx, schemas.EventURL, url); err != nil {
			return err
		}
	}

	req := schemas.GenerationRequest{
		Messages:        buildDecideMessages(r.m.systemPrompt, r.st),
		ForceJSONFormat: true,
	}
	reply, err := r.m.llm.Generate(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		return errStopped
	case err != nil:
		r.logger.Warn("Decision request failed.", zap.Error(err))
		r.st.Decision = placeholder(fmt.Sprintf("An error occurred while generating a response: %v", err))
	default:
		d, perr := llmutil.ParseJSONResponse[schemas.Decision](reply)
		if perr != nil {
			r.logger.Warn("Decision reply was not valid JSON.", zap.Error(perr))
			r.st.Decision = placeholder(invalidReplyMsg)
		} else {
			if d.ToolArgs == nil {
				d.ToolArgs = map[string]interface{}{}
			}
			r.st.Decision = *d
		}
	}

	r.logger.Debug("Decision made.",
		zap.Int("iteration", r.st.Iterations),
		zap.String("tool", r.st.Decision.ToolName),
		zap.String("thought", r.st.Decision.Thought),
	)
	if r.st.Decision.Thought != "" {
		if err := r.emit(ctx, schemas.EventThought, r.st.Decision.Thought); err != nil {
			return err
		}
	}
	if r.st.Decision.ToolName != "" {
		call := schemas.ToolCall{Name: r.st.Decision.ToolName, Args: r.st.Decision.ToolArgs}
		if err := r.emit(ctx, schemas.EventToolCall, call); err != nil {
			return err
		}
	}
	return nil
}

func placeholder(reason string) schemas.Decision {
	return schemas.Decision{
		Thought:     reason,
		ToolName:    "",
		ToolArgs:    map[string]interface{}{},
		Observation: reason,
	}
}

// route applies the inter-step delay and picks the next phase. The budget is
// checked before decide, so no model call is spent on a step that cannot run.
func (r *run) route(ctx context.Context) (Phase, error) {
	if d := r.req.WaitBetweenActions; d > 0 {
		r.logger.Debug("Waiting between actions.", zap.Duration("delay", d))
		if err := r.m.sleep(ctx, d); err != nil {
			return "", errStopped
		}
	}
	if ctx.Err() != nil {
		return "", errStopped
	}

	name := strings.ToLower(strings.TrimSpace(r.st.Decision.ToolName))
	if name == FinishTool {
		return PhaseFinish, nil
	}
	// Only executed steps are counted; a finish decision is not, so Iterations
	// always equals len(History).
	r.st.Iterations++
	return PhaseAct, nil
}

// act dispatches the decided tool, refreshes perception and records the step.
func (r *run) act(ctx context.Context) error {
	d := r.st.Decision
	name := strings.TrimSpace(d.ToolName)
	res := r.m.registry.Dispatch(ctx, r.env, name, d.ToolArgs)
	if res.Kind == schemas.ErrorKindCancelled && ctx.Err() != nil {
		return errStopped
	}

	r.refreshPage(ctx)
	action := res.Action(d.Thought, name, d.ToolArgs)
	r.st.History = append(r.st.History, action)

	if resp := action.ToolResponse; resp != nil {
		if err := r.emit(ctx, schemas.EventToolResponse, resp); err != nil {
			return err
		}
	}

	r.st.Screenshot = ""
	if r.req.ScreenshotEachStep && screenshotTools[name] && r.m.browser != nil {
		shot, err := r.m.browser.Screenshot(ctx)
		if err != nil {
			r.logger.Warn("Screenshot failed.", zap.String("tool", name), zap.Error(err))
			return nil
		}
		r.st.Screenshot = base64.StdEncoding.EncodeToString(shot)
		if err := r.emit(ctx, schemas.EventScreenshot, r.st.Screenshot); err != nil {
			return err
		}
	}
	return nil
}

// refreshPage waits for the page to settle and re-captures it. On failure the
// previous snapshot is kept.
func (r *run) refreshPage(ctx context.Context) {
	b := r.m.browser
	if b == nil {
		return
	}
	if err := b.WaitNetworkIdle(ctx, r.m.idleTimeout); err != nil {
		r.logger.Debug("Network did not go idle.", zap.Error(err))
	}
	page, err := b.Perceive(ctx)
	if err != nil {
		r.logger.Warn("Failed to capture page state.", zap.Error(err))
		return
	}
	r.st.Page = page
}

// finish produces the terminal event: collected data first, otherwise a model summary.
func (r *run) finish(ctx context.Context) {
	if r.req.Memorize {
		r.memorize(ctx)
	}

	if ev, ok := r.env.Data.Output(); ok {
		r.terminate(ctx, ev.Type, ev.Data)
		return
	}

	summary, err := r.summarize(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.cancel(ctx)
			return
		}
		r.logger.Error("Failed to summarize run.", zap.Error(err))
		r.terminate(ctx, schemas.EventErrorOutput, fmt.Sprintf("An error occurred while generating a response: %v", err))
		return
	}
	r.terminate(ctx, schemas.EventResultOutput, summary)
}

func (r *run) summarize(ctx context.Context) (string, error) {
	reply, err := r.m.llm.Generate(ctx, schemas.GenerationRequest{
		Messages:        buildSummaryMessages(r.st),
		ForceJSONFormat: true,
	})
	if err != nil {
		return "", err
	}
	parsed, err := llmutil.ParseJSONResponse[map[string]interface{}](reply)
	if err != nil {
		return "", err
	}
	if s, ok := (*parsed)["response"].(string); ok && s != "" {
		return s, nil
	}
	return defaultSummary, nil
}

// memorize appends the error-free steps of this run to the memory log.
// A failed write is logged and does not change the run's result.
func (r *run) memorize(ctx context.Context) {
	if r.m.memory == nil {
		r.logger.Warn("Memorize requested but no memory store is configured.")
		return
	}
	rec := schemas.NewMemoryRecord(r.req.Session, r.req.Input, r.st.History, r.m.now().UTC())
	if err := r.m.memory.Append(ctx, rec); err != nil {
		r.logger.Error("Failed to memorize run.", zap.Error(err))
		return
	}
	r.outcome.Memorized = &rec
	r.logger.Info("Run memorized.", zap.Int("steps", len(rec.Steps)))
}

func (r *run) currentURL(ctx context.Context) string {
	if r.m.browser == nil {
		return ""
	}
	url, err := r.m.browser.CurrentURL(ctx)
	if err != nil {
		r.logger.Debug("Could not read current URL.", zap.Error(err))
		return ""
	}
	return url
}

// emit forwards a non-terminal event. It fails once the run is cancelled or the
// sink stops accepting events.
func (r *run) emit(ctx context.Context, typ schemas.EventType, data interface{}) error {
	if ctx.Err() != nil {
		return errStopped
	}
	if err := r.sink.Emit(ctx, schemas.Event{Type: typ, Data: data}); err != nil {
		r.logger.Info("Event sink rejected event; stopping run.", zap.String("type", string(typ)), zap.Error(err))
		return errStopped
	}
	return nil
}

func (r *run) cancel(ctx context.Context) {
	r.terminate(ctx, schemas.EventCancelled, cancelledMessage)
}

// terminate records and emits the terminal event. Only the first call has any effect.
func (r *run) terminate(ctx context.Context, typ schemas.EventType, data interface{}) {
	if r.terminal {
		return
	}
	r.terminal = true
	ev := schemas.Event{Type: typ, Data: data}
	r.outcome.Terminal = ev
	if err := r.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Debug("Terminal event was not delivered.", zap.String("type", string(typ)), zap.Error(err))
	}
}
