// internal/tools/registry_test.go
package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/webpilot/api/schemas"
	"go.uber.org/zap/zaptest"
)

// stubTool is a configurable Tool for registry tests.
type stubTool struct {
	name     string
	args     []ArgSpec
	produces bool
	fn       func(ctx context.Context, args Args) (interface{}, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Schema() []ArgSpec   { return s.args }
func (s *stubTool) ProducesData() bool  { return s.produces }
func (s *stubTool) Execute(ctx context.Context, _ *Env, args Args) (interface{}, error) {
	return s.fn(ctx, args)
}

func echoTool(name string) *stubTool {
	return &stubTool{
		name: name,
		args: []ArgSpec{{Name: "text", Type: ArgString, Required: true, Description: "Text to echo."}},
		fn: func(_ context.Context, args Args) (interface{}, error) {
			return "echo: " + args.String("text"), nil
		},
	}
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, r.Register(echoTool("echo")))
	err = r.Register(echoTool("echo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistry_InvalidHiddenPattern(t *testing.T) {
	_, err := NewRegistry(nil, "get_[")
	assert.Error(t, err)
}

func TestRegistry_Catalog(t *testing.T) {
	r, err := NewRegistry(zaptest.NewLogger(t), "get_*")
	require.NoError(t, err)
	require.NoError(t, r.Register(All()...))

	catalog := r.Catalog()
	assert.Contains(t, catalog, "- navigate: Navigates to a specific URL and waits for the page to load.")
	assert.Contains(t, catalog, "    - Args: `url` (str, required) - The URL to navigate to.")
	assert.Contains(t, catalog, "    - Args: `timeout` (int, default = 30000)")
	assert.Contains(t, catalog, "    - Args: `distance` (float, default = 400)")
	assert.NotContains(t, catalog, "get_html")
	assert.NotContains(t, catalog, "get_markdown")

	_, ok := r.Lookup("get_html")
	assert.True(t, ok, "hidden tools stay registered")
	assert.True(t, r.IsHidden("get_markdown"))
	assert.False(t, strings.HasSuffix(catalog, "\n"))
}

func TestRegistry_Dispatch(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(zaptest.NewLogger(t), "secret")
	require.NoError(t, err)

	require.NoError(t, r.Register(
		echoTool("echo"),
		echoTool("secret"),
		&stubTool{name: "boom", fn: func(context.Context, Args) (interface{}, error) {
			panic("kaboom")
		}},
		&stubTool{name: "fail", fn: func(context.Context, Args) (interface{}, error) {
			return nil, errors.New("element not found")
		}},
		&stubTool{name: "slow", fn: func(ctx context.Context, _ Args) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	))

	t.Run("success", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "echo", map[string]interface{}{"text": "hi", "extra": 1})
		assert.False(t, res.Failed())
		assert.Equal(t, "echo: hi", res.Response())
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "teleport", nil)
		assert.Equal(t, schemas.ErrorKindToolNotFound, res.Kind)
		assert.Equal(t, "Error: tool not found: 'teleport'", res.Response())
	})

	t.Run("hidden tool is not dispatched", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "secret", map[string]interface{}{"text": "x"})
		assert.Equal(t, schemas.ErrorKindToolNotFound, res.Kind)
	})

	t.Run("missing argument", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "echo", map[string]interface{}{})
		assert.Equal(t, schemas.ErrorKindInvalidArguments, res.Kind)
		assert.Contains(t, res.Message, "missing required argument 'text'")
	})

	t.Run("tool error", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "fail", nil)
		assert.Equal(t, schemas.ErrorKindExecutionFailure, res.Kind)
		assert.Equal(t, "Error: element not found", res.Response())
	})

	t.Run("panic is recovered", func(t *testing.T) {
		res := r.Dispatch(ctx, nil, "boom", nil)
		assert.Equal(t, schemas.ErrorKindExecutionFailure, res.Kind)
		assert.Contains(t, res.Message, "kaboom")
	})

	t.Run("cancelled before dispatch", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res := r.Dispatch(cctx, nil, "echo", map[string]interface{}{"text": "x"})
		assert.Equal(t, schemas.ErrorKindCancelled, res.Kind)
	})

	t.Run("cancelled during execution", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		go cancel()
		res := r.Dispatch(cctx, nil, "slow", nil)
		assert.Equal(t, schemas.ErrorKindCancelled, res.Kind)
	})
}

func TestRegistry_DispatchCapturesOnlyProducers(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, err)

	records := []interface{}{
		map[string]interface{}{"title": "A"},
		map[string]interface{}{"title": "B"},
	}
	require.NoError(t, r.Register(
		&stubTool{name: "extract", produces: true, fn: func(context.Context, Args) (interface{}, error) {
			return records, nil
		}},
		&stubTool{name: "unchanged", produces: true, fn: func(context.Context, Args) (interface{}, error) {
			return Notice("nothing new"), nil
		}},
		&stubTool{name: "plain", fn: func(context.Context, Args) (interface{}, error) {
			return "some text", nil
		}},
	))

	env := NewEnv(nil, nil, nil, nil, zaptest.NewLogger(t))
	r.Dispatch(ctx, env, "extract", nil)
	r.Dispatch(ctx, env, "extract", nil)
	res := r.Dispatch(ctx, env, "unchanged", nil)
	r.Dispatch(ctx, env, "plain", nil)

	assert.Equal(t, "nothing new", res.Output)
	assert.Equal(t, records, env.Data.Items())
	assert.True(t, env.Data.IsStructured())
}

type recordingObserver struct {
	tools   []string
	results []Result
}

func (o *recordingObserver) ObserveDispatch(tool string, res Result, elapsed time.Duration) {
	o.tools = append(o.tools, tool)
	o.results = append(o.results, res)
}

func TestRegistry_DispatchNotifiesObserver(t *testing.T) {
	r, err := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Register(echoTool("echo")))

	obs := &recordingObserver{}
	r.SetObserver(obs)

	r.Dispatch(context.Background(), nil, "echo", map[string]interface{}{"text": "a"})
	r.Dispatch(context.Background(), nil, "missing", nil)

	assert.Equal(t, []string{"echo", "missing"}, obs.tools)
	require.Len(t, obs.results, 2)
	assert.False(t, obs.results[0].Failed())
	assert.Equal(t, schemas.ErrorKindToolNotFound, obs.results[1].Kind)
}

func TestResult_Action(t *testing.T) {
	args := map[string]interface{}{"url": "https://example.com"}
	ok := success("done").Action("go", "navigate", args)
	assert.Equal(t, schemas.StatusSuccess, ok.Status)
	assert.Empty(t, ok.ErrorKind)
	assert.Equal(t, "done", ok.ToolResponse)

	bad := failure(schemas.ErrorKindExecutionFailure, "timeout").Action("go", "navigate", args)
	assert.False(t, bad.Succeeded())
	assert.Equal(t, schemas.ErrorKindExecutionFailure, bad.ErrorKind)
	assert.Equal(t, "Error: timeout", bad.ToolResponse)
}
