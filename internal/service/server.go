// File: internal/service/server.go
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/admission"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// BypassHeader carries the key that exempts a caller from rate limiting.
	BypassHeader = "X-Bypass-RateLimit-Key"

	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
	maxRequestBody         = 1 << 20
)

// Server is the HTTP surface: run streaming, memory listing, health and metrics.
type Server struct {
	cfg     config.ServerConfig
	runner  *Runner
	metrics *metrics.Metrics
	limiter *clientLimiter
	logger  *zap.Logger
}

// NewServer creates the HTTP surface over runner.
func NewServer(cfg config.ServerConfig, runner *Runner, m *metrics.Metrics, logger *zap.Logger) *Server {
	if m == nil {
		m = runner.metrics
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		metrics: m,
		limiter: newClientLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		logger:  logger.Named("server"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.cors)

	r.Get("/", s.handleHealth)
	r.Get("/memory", s.handleMemory)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/agent/run", s.handleRun)
		r.Get("/agent/ws", s.handleRunWS)
	})

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Serve listens on the configured address until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server starting.", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server.")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error.", zap.Error(err))
			return err
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type memorySummary struct {
	Session   string    `json:"session"`
	Input     string    `json:"input"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	mem := s.runner.Memory()
	if mem == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Memory store is not configured.")
		return
	}
	records, err := mem.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list memory.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to read memory.")
		return
	}
	out := make([]memorySummary, 0, len(records))
	for _, rec := range records {
		out = append(out, memorySummary{Session: rec.Session, Input: rec.Input, CreatedAt: rec.CreatedAt})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleRun streams one run as newline-delimited JSON events.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req schemas.AgentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	slot, err := s.runner.Admit(r.Context(), &req)
	if err != nil {
		s.respondAdmitError(w, err)
		return
	}
	defer slot.Release()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-Id", slot.Session)
	w.WriteHeader(http.StatusOK)

	sink := newStreamSink(w)
	if _, err := slot.Execute(r.Context(), sink); err != nil {
		s.logger.Warn("Run ended with an error.", zap.String("session", slot.Session), zap.Error(err))
	}
}

func (s *Server) respondAdmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, admission.ErrCapacityExhausted), errors.Is(err, admission.ErrNoBackend):
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Failed to admit run.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to start run.")
	}
}

// streamSink writes each event as one JSON line and flushes it immediately.
type streamSink struct {
	mu      sync.Mutex
	enc     *jsoniter.Encoder
	flusher http.Flusher
}

func newStreamSink(w http.ResponseWriter) *streamSink {
	f, _ := w.(http.Flusher)
	return &streamSink{enc: json.NewEncoder(w), flusher: f}
}

func (s *streamSink) Emit(_ context.Context, ev schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// -- Middleware --

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.bypassed(r) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			s.metrics.Rejections.WithLabelValues("rate_limit").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RateLimitWindow.Seconds())))
			s.respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bypassed(r *http.Request) bool {
	key := r.Header.Get(BypassHeader)
	if s.cfg.BypassKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.BypassKey)) == 1
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed, ok := s.allowedOrigin(origin); ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+BypassHeader)
			h.Set("Access-Control-Expose-Headers", "X-Session-Id")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			return "*", true
		}
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// -- Responses --

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, errorResponse{Status: "error", Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response.", zap.Error(err))
	}
}
