// File: internal/service/server_test.go
package service

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const runBody = `{"prompt": "say hi", "wait_between_actions": 0}`

func newTestServer(t *testing.T, f *fixture, replies ...string) *httptest.Server {
	t.Helper()
	s := NewServer(f.cfg.Server(), f.runner(t, replies...), nil, zaptest.NewLogger(t))
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postRun(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/agent/run", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	return body.Error
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, newFixture(t))

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestServer_RunStreamsNDJSON(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, finishDecision, summaryReply)

	resp := postRun(t, srv.URL, runBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	session := resp.Header.Get("X-Session-Id")
	assert.NotEmpty(t, session)

	events := readEvents(t, resp.Body)
	assert.Equal(t, []schemas.EventType{
		schemas.EventBrowserInit,
		schemas.EventBrowserInitDone,
		schemas.EventAgentStart,
		schemas.EventIteration,
		schemas.EventURL,
		schemas.EventThought,
		schemas.EventToolCall,
		schemas.EventResultOutput,
		schemas.EventDone,
	}, eventTypes(events))
	assert.JSONEq(t, `"All done"`, string(events[7].Data))
	assert.JSONEq(t, `{"session": "`+session+`"}`, string(events[8].Data))
	assert.Zero(t, f.admitted(t))
}

func TestServer_RunRejections(t *testing.T) {
	t.Run("InvalidBody", func(t *testing.T) {
		srv := newTestServer(t, newFixture(t))
		resp := postRun(t, srv.URL, `{"prompt":`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "Invalid request body")
	})

	t.Run("MissingPrompt", func(t *testing.T) {
		srv := newTestServer(t, newFixture(t))
		resp := postRun(t, srv.URL, `{"prompt": ""}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "prompt is required")
	})

	t.Run("CapacityExhausted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.redis.SAdd(f.cfg.RedisCfg.RunningTasksKey, "a", "b")
		require.NoError(t, err)
		srv := newTestServer(t, f)

		resp := postRun(t, srv.URL, runBody, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "maximum number of concurrent sessions")
		assert.Empty(t, f.opened())
	})

	t.Run("NoBackend", func(t *testing.T) {
		f := newFixture(t)
		f.withBackends(t, 1, map[string]string{"b1": "ws://127.0.0.1:9222"})
		f.redis.HSet(f.cfg.RedisCfg.EndpointsKey, "b1", `{"ws_endpoint":"ws://127.0.0.1:9222","traffic":1}`)
		srv := newTestServer(t, f)

		resp := postRun(t, srv.URL, runBody, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Contains(t, decodeError(t, resp), "busy")
		assert.Zero(t, f.admitted(t))
	})
}

func TestServer_BrowserFailureIsStreamed(t *testing.T) {
	f := newFixture(t)
	f.openErr = assert.AnError
	srv := newTestServer(t, f)

	resp := postRun(t, srv.URL, runBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readEvents(t, resp.Body)
	assert.Equal(t, []schemas.EventType{schemas.EventBrowserInit, schemas.EventError}, eventTypes(events))
	assert.Zero(t, f.admitted(t))
}

func TestServer_RateLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.ServerCfg.RateLimitRequests = 1
	f.cfg.ServerCfg.RateLimitWindow = time.Minute
	f.cfg.ServerCfg.BypassKey = "letmein"
	srv := newTestServer(t, f)

	first := postRun(t, srv.URL, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)

	second := postRun(t, srv.URL, `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "60", second.Header.Get("Retry-After"))

	other := postRun(t, srv.URL, `{}`, http.Header{"X-Forwarded-For": {"10.1.2.3"}})
	assert.Equal(t, http.StatusBadRequest, other.StatusCode, "another client has its own bucket")

	wrongKey := postRun(t, srv.URL, `{}`, http.Header{BypassHeader: {"nope"}})
	assert.Equal(t, http.StatusTooManyRequests, wrongKey.StatusCode)

	bypass := postRun(t, srv.URL, `{}`, http.Header{BypassHeader: {"letmein"}})
	assert.Equal(t, http.StatusBadRequest, bypass.StatusCode)
}

func TestServer_CORS(t *testing.T) {
	f := newFixture(t)
	f.cfg.ServerCfg.AllowedOrigins = []string{"https://app.example.com"}
	srv := newTestServer(t, f)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/agent/run", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	ok := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, ok.StatusCode)
	assert.Equal(t, "https://app.example.com", ok.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, ok.Header.Get("Access-Control-Allow-Headers"), BypassHeader)

	denied := preflight("https://evil.example.com")
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Memory(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.components.Memory.Append(context.Background(), schemas.MemoryRecord{
		Session: "s-1", Input: "find flights", CreatedAt: created,
	}))
	srv := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/memory")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []memorySummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	assert.Equal(t, "s-1", body[0].Session)
	assert.Equal(t, "find flights", body[0].Input)
	assert.True(t, created.Equal(body[0].CreatedAt))
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.cfg.ServerCfg.MetricsEnabled = true
	srv := newTestServer(t, f, finishDecision, summaryReply)

	run := postRun(t, srv.URL, runBody, nil)
	_, _ = io.Copy(io.Discard, run.Body)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `webpilot_runs_total{outcome="result_output"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.ServerCfg.MetricsEnabled = false
	srv := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WebSocketRun(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, finishDecision, summaryReply)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(runBody)))

	var types []schemas.EventType
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, schemas.EventBrowserInit, types[0])
	assert.Equal(t, schemas.EventResultOutput, types[len(types)-2])
	assert.Equal(t, schemas.EventDone, types[len(types)-1])
}

func TestServer_WebSocketRejectsBadRequest(t *testing.T) {
	srv := newTestServer(t, newFixture(t))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"prompt": ""}`)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, schemas.EventError, ev.Type)
	assert.Contains(t, string(ev.Data), "prompt is required")
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := NewServer(f.cfg.Server(), f.runner(t), nil, zaptest.NewLogger(t))
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}
