// internal/browser/session.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

//go:embed js/perceive.js
var perceiveScript string

const (
	defaultQuietPeriod   = 500 * time.Millisecond
	defaultActionTimeout = 30 * time.Second
	typeActionTimeout    = 60 * time.Second
)

// ErrSessionClosed is returned by every operation after Close.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is one browser tab. It implements schemas.BrowserDriver on top of chromedp.
type Session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	harvester *Harvester

	quietPeriod time.Duration
	onClose     func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserDriver = (*Session)(nil)

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// run executes actions bounded by both the tab lifetime and the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed() {
		return ErrSessionClosed
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, timeout)
		defer tcancel()
	}
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("navigation timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// ClickXPath scrolls the element into view and clicks it.
func (s *Session) ClickXPath(ctx context.Context, xpath string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	err := s.run(ctx, timeout,
		chromedp.ScrollIntoView(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("click failed for xpath '%s': %w", xpath, err)
	}
	return nil
}

// ClickAt dispatches a left click at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	if err := s.run(ctx, defaultActionTimeout, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f) failed: %w", x, y, err)
	}
	return nil
}

// TypeXPath focuses the element, clears it and types text.
func (s *Session) TypeXPath(ctx context.Context, xpath, text string) error {
	err := s.run(ctx, typeActionTimeout,
		chromedp.ScrollIntoView(xpath, chromedp.BySearch),
		chromedp.Focus(xpath, chromedp.BySearch),
		chromedp.Clear(xpath, chromedp.BySearch),
		chromedp.SendKeys(xpath, text, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("type failed for xpath '%s': %w", xpath, err)
	}
	return nil
}

// PressKey sends a key or chord like "Enter" or "Control+A" to the focused element.
func (s *Session) PressKey(ctx context.Context, key string) error {
	chord, err := parseChord(key)
	if err != nil {
		return err
	}
	var opts []chromedp.KeyOption
	if len(chord.modifiers) > 0 {
		opts = append(opts, chromedp.KeyModifiers(chord.modifiers...))
	}
	if err := s.run(ctx, defaultActionTimeout, chromedp.KeyEvent(chord.key, opts...)); err != nil {
		return fmt.Errorf("key press '%s' failed: %w", key, err)
	}
	return nil
}

// Scroll moves the window by the given deltas.
func (s *Session) Scroll(ctx context.Context, dx, dy float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f)", dx, dy)
	if err := s.run(ctx, defaultActionTimeout, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// Evaluate runs script in the page, awaiting a returned promise, and decodes the
// result into res.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	return s.run(ctx, 0, chromedp.Evaluate(script, res, awaitPromise))
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, defaultActionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Perceive runs the element classifier in the page.
func (s *Session) Perceive(ctx context.Context) (*schemas.PageState, error) {
	var state schemas.PageState
	var url string
	err := s.run(ctx, defaultActionTimeout,
		chromedp.Evaluate(perceiveScript, &state),
		chromedp.Location(&url),
	)
	if err != nil {
		return nil, fmt.Errorf("perception failed: %w", err)
	}
	state.URL = url
	return &state, nil
}

// BodyHTML returns document.body.innerHTML.
func (s *Session) BodyHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, defaultActionTimeout, chromedp.InnerHTML("body", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("could not read body html: %w", err)
	}
	return html, nil
}

// CurrentURL returns the location of the active document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, defaultActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// WaitNetworkIdle waits for the network to stay quiet for the session's quiet period.
func (s *Session) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if s.closed() {
		return ErrSessionClosed
	}
	waitCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		waitCtx, tcancel = context.WithTimeout(waitCtx, timeout)
		defer tcancel()
	}
	return s.harvester.WaitNetworkIdle(waitCtx, s.quietPeriod)
}

// Close closes the tab and, for sessions owning their allocator, the browser
// connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	var err error
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser tab: %w", err)
	}
	return nil
}
