// internal/browser/health_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHealthChecker_WaitsForRunning(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			fmt.Fprint(w, "Starting")
			return
		}
		fmt.Fprint(w, "Running\n")
	}))
	defer srv.Close()

	h := NewHealthChecker(5, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, h.WaitReady(context.Background(), srv.URL+"/health"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHealthChecker_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHealthChecker(3, time.Millisecond, zaptest.NewLogger(t))
	err := h.WaitReady(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrBackendNotReady)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHealthChecker_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewHealthChecker(3, time.Hour, zaptest.NewLogger(t))
	assert.ErrorIs(t, h.WaitReady(ctx, srv.URL), context.Canceled)
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		endpoint, path, want string
	}{
		{"ws://browser-1:9222/devtools/browser/abc", "", "http://browser-1:9222/health"},
		{"wss://b.example.com/session?token=x", "status", "https://b.example.com/status"},
		{"http://10.0.0.2:3000", "/health", "http://10.0.0.2:3000/health"},
	}
	for _, tt := range tests {
		got, err := HealthURL(tt.endpoint, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := HealthURL("ftp://x", "")
	assert.Error(t, err)
	_, err = HealthURL("ws:///nohost", "")
	assert.Error(t, err)
}
