// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

var (
	_ config.Interface      = (*MockConfig)(nil)
	_ schemas.LLMClient     = (*MockLLMClient)(nil)
	_ schemas.BrowserDriver = (*MockBrowserDriver)(nil)
	_ schemas.MemoryStore   = (*MockMemoryStore)(nil)
	_ schemas.EventSink     = (*RecordingSink)(nil)
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	return m.Called().Get(0).(config.ServerConfig)
}

func (m *MockConfig) Redis() config.RedisConfig {
	return m.Called().Get(0).(config.RedisConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	return m.Called().Get(0).(config.AgentConfig)
}

func (m *MockConfig) LLM() config.LLMModelConfig {
	return m.Called().Get(0).(config.LLMModelConfig)
}

func (m *MockConfig) Memory() config.MemoryConfig {
	return m.Called().Get(0).(config.MemoryConfig)
}

func (m *MockConfig) Search() config.SearchConfig {
	return m.Called().Get(0).(config.SearchConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)         { m.Called(b) }
func (m *MockConfig) SetBrowserRemoteURL(s string)      { m.Called(s) }
func (m *MockConfig) SetAgentMaxIterations(n int)       { m.Called(n) }
func (m *MockConfig) SetAgentScreenshotEachStep(b bool) { m.Called(b) }
func (m *MockConfig) SetLLMModel(s string)              { m.Called(s) }

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing the client.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Browser Driver Mock --

// MockBrowserDriver mocks the schemas.BrowserDriver interface.
type MockBrowserDriver struct {
	mock.Mock
}

func (m *MockBrowserDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return m.Called(ctx, url, timeout).Error(0)
}
func (m *MockBrowserDriver) ClickXPath(ctx context.Context, xpath string, timeout time.Duration) error {
	return m.Called(ctx, xpath, timeout).Error(0)
}
func (m *MockBrowserDriver) ClickAt(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *MockBrowserDriver) TypeXPath(ctx context.Context, xpath, text string) error {
	return m.Called(ctx, xpath, text).Error(0)
}
func (m *MockBrowserDriver) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockBrowserDriver) Scroll(ctx context.Context, dx, dy float64) error {
	return m.Called(ctx, dx, dy).Error(0)
}

// Evaluate stores the configured first return value into res when res is an *interface{}.
func (m *MockBrowserDriver) Evaluate(ctx context.Context, script string, res interface{}) error {
	args := m.Called(ctx, script)
	if p, ok := res.(*interface{}); ok && p != nil {
		*p = args.Get(0)
	}
	return args.Error(1)
}
func (m *MockBrowserDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
// Perceive accepts either a *schemas.PageState or a func(context.Context) *schemas.PageState
// as the first return value, so tests can serve a page that changes between calls.
func (m *MockBrowserDriver) Perceive(ctx context.Context) (*schemas.PageState, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) *schemas.PageState); ok {
		return fn(ctx), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.PageState), args.Error(1)
}
func (m *MockBrowserDriver) BodyHTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockBrowserDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockBrowserDriver) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}
func (m *MockBrowserDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Memory Store Mock --

// MockMemoryStore mocks the schemas.MemoryStore interface.
type MockMemoryStore struct {
	mock.Mock
}

func (m *MockMemoryStore) Append(ctx context.Context, record schemas.MemoryRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockMemoryStore) Get(ctx context.Context, session string) (*schemas.MemoryRecord, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.MemoryRecord), args.Error(1)
}

func (m *MockMemoryStore) List(ctx context.Context) ([]schemas.MemoryRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.MemoryRecord), args.Error(1)
}

// -- Event Sink --

// RecordingSink keeps every emitted event. Set FailAfter to make Emit fail once
// that many events were accepted.
type RecordingSink struct {
	mu        sync.Mutex
	events    []schemas.Event
	FailAfter int
	Err       error
}

// Emit records the event.
func (s *RecordingSink) Emit(_ context.Context, ev schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil && len(s.events) >= s.FailAfter {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []schemas.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the recorded event types in order.
func (s *RecordingSink) Types() []schemas.EventType {
	events := s.Events()
	out := make([]schemas.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Terminals returns the recorded terminal events.
func (s *RecordingSink) Terminals() []schemas.Event {
	var out []schemas.Event
	for _, ev := range s.Events() {
		if ev.Type.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}
