// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/admission"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/metrics"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// FactoryOptions select the optional parts of the component graph.
type FactoryOptions struct {
	// Admission connects to Redis and enables the session ceiling and the
	// backend registry. The HTTP server needs it; one-shot CLI runs do not.
	Admission bool
}

// ComponentFactory builds the component graph. Commands depend on the
// interface so tests can substitute their own graph.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts FactoryOptions) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the components. On failure everything created so far is shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts FactoryOptions) (*Components, error) {
	components := &Components{Config: cfg}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics and the tool registry. Dispatch timings feed the metrics.
	components.Metrics = metrics.New()
	registry, err := InitializeRegistry(cfg.Agent(), components.Metrics, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Registry = registry
	components.Searcher = InitializeSearcher(cfg.Search(), logger)
	logger.Debug("Tool registry initialized.", zap.Strings("tools", registry.Names()))

	// 2. Memory log
	memory, err := store.Open(ctx, cfg.Memory(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open memory store: %w", err)
		return nil, initializationErr
	}
	components.Memory = memory
	logger.Debug("Memory store initialized.", zap.String("backend", cfg.Memory().Backend))

	// 3. Browsers
	browserCfg := cfg.Browser()
	components.Browsers = browser.NewManager(browserCfg, logger)
	components.Health = browser.NewHealthChecker(browserCfg.HealthRetries, browserCfg.HealthInterval, logger)
	logger.Debug("Browser manager initialized.", zap.Bool("remote", browserCfg.RemoteURL != ""))

	if !opts.Admission {
		logger.Info("Components initialized without admission control.")
		return components, nil
	}

	// 4. Admission
	redisCfg := cfg.Redis()
	client, err := admission.Connect(ctx, redisCfg.URL, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to connect to redis: %w", err)
		return nil, initializationErr
	}
	components.Redis = client

	sessions, err := admission.NewSessionSet(client, redisCfg.RunningTasksKey, redisCfg.MaxConcurrentTasks, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Sessions = sessions

	// 5. Backend registry, seeded from configuration.
	if len(redisCfg.Backends) > 0 {
		backends, err := admission.NewBackendRegistry(client, redisCfg.EndpointsKey, redisCfg.BrowserPoolSize, logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		if err := seedBackends(ctx, backends, redisCfg.Backends); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Backends = backends
		logger.Debug("Backend registry initialized.", zap.Int("backends", len(redisCfg.Backends)))
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}

// seedBackends registers each configured backend in key order. Traffic already
// recorded by other processes is kept.
func seedBackends(ctx context.Context, backends *admission.BackendRegistry, endpoints map[string]string) error {
	keys := make([]string, 0, len(endpoints))
	for k := range endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := backends.Register(ctx, k, endpoints[k]); err != nil {
			return fmt.Errorf("failed to register backend %s: %w", k, err)
		}
	}
	return nil
}
