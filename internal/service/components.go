// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/admission"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/metrics"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

const componentShutdownTimeout = 30 * time.Second

// Components holds everything a run needs, shared across runs of one process.
// Redis, Sessions and Backends are nil when the process runs without admission control.
type Components struct {
	Config config.Interface

	Redis    *redis.Client
	Sessions *admission.SessionSet
	// Backends is nil when no remote browser backends are configured; runs then
	// use the local browser or browser.remote_url.
	Backends *admission.BackendRegistry

	Browsers *browser.Manager
	Health   *browser.HealthChecker
	Memory   store.Store
	Registry *tools.Registry
	Searcher tools.Searcher
	Metrics  *metrics.Metrics
}

// Shutdown releases the components in reverse order of their use by a run:
// browser sessions first, then the memory log, then Redis.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browsers != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), componentShutdownTimeout)
		defer cancel()
		if err := c.Browsers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.Memory != nil {
		if err := c.Memory.Close(); err != nil {
			logger.Warn("Error closing memory store.", zap.Error(err))
		} else {
			logger.Debug("Memory store closed.")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("Error closing redis client.", zap.Error(err))
		} else {
			logger.Debug("Redis client closed.")
		}
	}

	logger.Info("All components shut down.")
}
