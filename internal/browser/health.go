// internal/browser/health.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// healthyBody is what a warmed-up backend answers on its health path.
const healthyBody = "Running"

// ErrBackendNotReady is returned when a backend never reports healthy.
var ErrBackendNotReady = errors.New("browser backend failed to start")

// HealthChecker polls a browser backend's health endpoint during cold start.
type HealthChecker struct {
	client   *resty.Client
	retries  int
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthChecker polls up to retries times, interval apart.
func NewHealthChecker(retries int, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if retries <= 0 {
		retries = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthChecker{
		client:   resty.New().SetTimeout(10 * time.Second),
		retries:  retries,
		interval: interval,
		logger:   logger.Named("health"),
	}
}

// WaitReady blocks until url answers 200 with a "Running" body.
func (h *HealthChecker) WaitReady(ctx context.Context, url string) error {
	check := func() error {
		resp, err := h.client.R().SetContext(ctx).Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if resp.StatusCode() != http.StatusOK || strings.TrimSpace(resp.String()) != healthyBody {
			return fmt.Errorf("backend answered %d %q", resp.StatusCode(), strings.TrimSpace(resp.String()))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Debug("Backend not ready yet.", zap.String("url", url), zap.Error(err), zap.Duration("wait", wait))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(h.interval), uint64(h.retries-1)), ctx)
	if err := backoff.RetryNotify(check, policy, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBackendNotReady, err)
	}
	return nil
}

// HealthURL derives the HTTP health endpoint of a backend from its DevTools
// websocket endpoint, e.g. ws://host:9222/devtools/... becomes http://host:9222/health.
func HealthURL(wsEndpoint, path string) (string, error) {
	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme: %s", wsEndpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint has no host: %s", wsEndpoint)
	}
	if path == "" {
		path = "/health"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path, u.RawPath, u.RawQuery, u.Fragment = path, "", "", ""
	return u.String(), nil
}
