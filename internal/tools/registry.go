// internal/tools/registry.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/xkilldash9x/webpilot/api/schemas"
	"go.uber.org/zap"
)

// -- Tool Registry --

// Registry holds the tools available to a run. It is populated at startup and
// read concurrently afterwards.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	hidden []glob.Glob

	observer DispatchObserver
}

// DispatchObserver is told about every dispatch once it completes.
type DispatchObserver interface {
	ObserveDispatch(tool string, res Result, elapsed time.Duration)
}

// SetObserver installs the dispatch observer. Call it before the registry is shared.
func (r *Registry) SetObserver(o DispatchObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// NewRegistry creates an empty registry. Tools whose name matches any of the
// hidden patterns stay registered but are neither listed nor dispatched.
func NewRegistry(logger *zap.Logger, hiddenPatterns ...string) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger: logger.Named("tool_registry"),
		tools:  make(map[string]Tool),
	}
	for _, p := range hiddenPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid hidden tool pattern %q: %w", p, err)
		}
		r.hidden = append(r.hidden, g)
	}
	return r, nil
}

// Register adds tools. A duplicate name is rejected and nothing after it is added.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return errors.New("tool name must not be empty")
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("tool %q is already registered", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Lookup returns a registered tool by name, hidden or not.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsHidden reports whether the name matches a hidden pattern.
func (r *Registry) IsHidden(name string) bool {
	for _, g := range r.hidden {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Names returns the visible tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if !r.IsHidden(n) {
			names = append(names, n)
		}
	}
	return names
}

// Catalog renders the visible tools as the markdown list embedded in the system prompt.
func (r *Registry) Catalog() string {
	var sb strings.Builder
	for _, name := range r.Names() {
		t, _ := r.Lookup(name)
		fmt.Fprintf(&sb, "- %s: %s\n", name, strings.TrimSpace(t.Description()))
		for _, a := range t.Schema() {
			qualifier := "required"
			if !a.Required {
				qualifier = fmt.Sprintf("default = %v", a.Default)
			}
			fmt.Fprintf(&sb, "    - Args: `%s` (%s, %s) - %s\n", a.Name, a.Type, qualifier, a.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Dispatch validates and executes one tool call. It never returns an error:
// every failure is folded into the Result so the run can continue.
func (r *Registry) Dispatch(ctx context.Context, env *Env, name string, raw map[string]interface{}) Result {
	start := time.Now()
	res := r.dispatch(ctx, env, name, raw)
	r.mu.RLock()
	o := r.observer
	r.mu.RUnlock()
	if o != nil {
		o.ObserveDispatch(name, res, time.Since(start))
	}
	return res
}

func (r *Registry) dispatch(ctx context.Context, env *Env, name string, raw map[string]interface{}) Result {
	logger := r.logger.With(zap.String("tool", name))
	if err := ctx.Err(); err != nil {
		return failure(schemas.ErrorKindCancelled, err.Error())
	}

	tool, ok := r.Lookup(name)
	if !ok || r.IsHidden(name) {
		logger.Debug("Tool lookup missed.")
		return failure(schemas.ErrorKindToolNotFound, fmt.Sprintf("%v: '%s'", ErrToolNotFound, name))
	}

	args, err := DecodeArgs(tool.Schema(), raw)
	if err != nil {
		logger.Debug("Tool arguments rejected.", zap.Error(err))
		return failure(schemas.ErrorKindInvalidArguments, err.Error())
	}

	out, err := r.execute(ctx, tool, env, args)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return failure(schemas.ErrorKindCancelled, err.Error())
		}
		logger.Info("Tool execution failed.", zap.Error(err))
		return failure(schemas.ErrorKindExecutionFailure, err.Error())
	}

	if notice, ok := out.(Notice); ok {
		return success(string(notice))
	}
	if p, ok := tool.(DataProducer); ok && p.ProducesData() && env != nil && env.Data != nil {
		if added := env.Data.Capture(out); added > 0 {
			logger.Debug("Captured scraped data.", zap.Int("added", added), zap.Int("total", env.Data.Len()))
		}
	}
	return success(out)
}

func (r *Registry) execute(ctx context.Context, tool Tool, env *Env, args Args) (out interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tool panicked.",
				zap.String("tool", tool.Name()),
				zap.Any("panic", p),
				zap.String("stack", string(debug.Stack())),
			)
			out, err = nil, fmt.Errorf("tool '%s' panicked: %v", tool.Name(), p)
		}
	}()
	if env == nil {
		env = &Env{}
	}
	return tool.Execute(ctx, env, args)
}

