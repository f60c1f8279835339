// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		Long: `Starts the HTTP service. POST /agent/run streams a run as newline-delimited
JSON events; GET /agent/ws streams it over a websocket. Concurrent runs are
bounded through Redis and spread across the configured browser backends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := newComponents(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			runner, err := service.NewRunner(components, logger)
			if err != nil {
				return err
			}

			serverCfg := cfg.Server()
			if addr != "" {
				serverCfg.Addr = addr
			}
			server := service.NewServer(serverCfg, runner, components.Metrics, logger)

			logger.Info("Service ready.", zap.String("address", serverCfg.Addr), zap.Bool("metrics", serverCfg.MetricsEnabled))
			return server.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
