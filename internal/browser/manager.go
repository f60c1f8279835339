// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultConnectTimeout = 30 * time.Second
	shutdownGracePeriod   = 15 * time.Second
)

// Manager opens browser sessions, either on a remote DevTools endpoint or on a
// locally launched Chrome, and tracks them until they close.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	sessions map[string]*Session
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewManager creates a manager. No browser is started until a session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
}

// AllocatorOptions builds the exec allocator flags for a local Chrome.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	width, height := viewport(cfg)
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(width, height),
	)
	for _, arg := range cfg.Args {
		key, value := splitFlag(arg)
		if value == "" {
			opts = append(opts, chromedp.Flag(key, true))
		} else {
			opts = append(opts, chromedp.Flag(key, value))
		}
	}
	return opts
}

// splitFlag turns "--key=value" into ("key", "value").
func splitFlag(arg string) (string, string) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, ""
}

func viewport(cfg config.BrowserConfig) (int, int) {
	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}
	return width, height
}

// NewSession opens a tab. A non-empty wsEndpoint attaches to that DevTools
// endpoint; otherwise the configured remote URL is used, and failing that a
// local Chrome is launched. The tab is sized to the viewport and parked on about:blank.
func (m *Manager) NewSession(ctx context.Context, wsEndpoint string) (*Session, error) {
	endpoint := wsEndpoint
	if endpoint == "" {
		endpoint = m.cfg.RemoteURL
	}

	// The allocator outlives ctx; it is released by Session.Close.
	base := context.WithoutCancel(ctx)
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if endpoint != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, endpoint)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, AllocatorOptions(m.cfg)...)
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("browser_session", id))
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	connectTimeout := m.cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	// The first Run must use the tab context itself: it owns the allocated browser.
	if err := runBounded(ctx, connectTimeout, cancel, func() error { return chromedp.Run(tabCtx) }); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	harvester := NewHarvester(logger)
	harvester.Listen(tabCtx)

	initCtx, initCancel := CombineContext(tabCtx, ctx)
	defer initCancel()
	initCtx, timeoutCancel := context.WithTimeout(initCtx, connectTimeout)
	defer timeoutCancel()

	width, height := viewport(m.cfg)
	err := chromedp.Run(initCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}

	quiet := m.cfg.NetworkQuietPeriod
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	s := &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      cancel,
		logger:      logger,
		harvester:   harvester,
		quietPeriod: quiet,
	}

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.wg.Done()
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("Browser session opened.", zap.String("browser_session", id), zap.Bool("remote", endpoint != ""))
	return s, nil
}

// runBounded runs fn, calling abort and giving up when ctx ends or timeout elapses.
// abort must make fn return.
func runBounded(ctx context.Context, timeout time.Duration, abort func(), fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			abort()
		}
		return err
	case <-timer.C:
		abort()
		<-errc
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		abort()
		<-errc
		return ctx.Err()
	}
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	if len(open) > 0 {
		m.logger.Info("Closing browser sessions.", zap.Int("count", len(open)))
	}
	for _, s := range open {
		go func(s *Session) {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing session during shutdown.", zap.String("browser_session", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for browser sessions to close: %w", ctx.Err())
	}
}
