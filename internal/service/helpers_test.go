// File: internal/service/helpers_test.go
package service

import (
	"bufio"
	"context"
	stdjson "encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/admission"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/metrics"
	"github.com/xkilldash9x/webpilot/internal/mocks"
	"github.com/xkilldash9x/webpilot/internal/store"
)

const (
	finishDecision = `{"thought": "nothing left to do", "tool_name": "finish", "tool_args": {}}`
	summaryReply   = `{"response": "All done"}`
)

// scriptedLLM replays canned replies in order, then keeps answering with a summary.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
}

func (l *scriptedLLM) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.replies) == 0 {
		return summaryReply, nil
	}
	next := l.replies[0]
	l.replies = l.replies[1:]
	return next, nil
}

func (l *scriptedLLM) Close() error { return nil }

// fixture is a runner over miniredis, a file memory store and mocked browsers.
type fixture struct {
	redis      *miniredis.Miniredis
	components *Components
	cfg        *config.Config

	mu        sync.Mutex
	endpoints []string
	openErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.NewDefaultConfig()
	cfg.RedisCfg.MaxConcurrentTasks = 2
	cfg.BrowserCfg.HealthPath = ""
	cfg.ServerCfg.RateLimitRequests = 0

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions, err := admission.NewSessionSet(client, cfg.RedisCfg.RunningTasksKey, cfg.RedisCfg.MaxConcurrentTasks, logger)
	require.NoError(t, err)

	m := metrics.New()
	registry, err := InitializeRegistry(cfg.AgentCfg, m, logger)
	require.NoError(t, err)

	memory, err := store.NewFileStore(filepath.Join(t.TempDir(), "memory.json"), logger)
	require.NoError(t, err)

	return &fixture{
		redis: mr,
		cfg:   cfg,
		components: &Components{
			Config:   cfg,
			Sessions: sessions,
			Memory:   memory,
			Registry: registry,
			Metrics:  m,
		},
	}
}

// withBackends installs a backend registry on the fixture's Redis.
func (f *fixture) withBackends(t *testing.T, capacity int, endpoints map[string]string) *admission.BackendRegistry {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backends, err := admission.NewBackendRegistry(client, f.cfg.RedisCfg.EndpointsKey, capacity, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, seedBackends(context.Background(), backends, endpoints))
	f.components.Backends = backends
	return backends
}

func (f *fixture) runner(t *testing.T, replies ...string) *Runner {
	t.Helper()
	return f.runnerWithLogger(t, zaptest.NewLogger(t), replies...)
}

func (f *fixture) runnerWithLogger(t *testing.T, logger *zap.Logger, replies ...string) *Runner {
	t.Helper()
	opener := func(_ context.Context, ws string) (schemas.BrowserDriver, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.endpoints = append(f.endpoints, ws)
		if f.openErr != nil {
			return nil, f.openErr
		}
		drv := new(mocks.MockBrowserDriver)
		drv.On("CurrentURL", mock.Anything).Return("about:blank", nil)
		drv.On("Close", mock.Anything).Return(nil)
		return drv, nil
	}
	llm := func(context.Context, config.LLMModelConfig) (schemas.LLMClient, error) {
		return &scriptedLLM{replies: append([]string(nil), replies...)}, nil
	}
	r, err := NewRunner(f.components, logger, WithBrowserOpener(opener), WithLLMFactory(llm))
	require.NoError(t, err)
	return r
}

func (f *fixture) opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endpoints...)
}

func (f *fixture) admitted(t *testing.T) int64 {
	t.Helper()
	n, err := f.components.Sessions.Count(context.Background())
	require.NoError(t, err)
	return n
}

type wireEvent struct {
	Type schemas.EventType  `json:"type"`
	Data stdjson.RawMessage `json:"data"`
}

func readEvents(t *testing.T, body io.Reader) []wireEvent {
	t.Helper()
	var out []wireEvent
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev wireEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func eventTypes(events []wireEvent) []schemas.EventType {
	out := make([]schemas.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
