// File: cmd/replay.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/replay"
	"github.com/xkilldash9x/webpilot/internal/service"
)

const replayBrowserCloseTimeout = 15 * time.Second

func newReplayCmd() *cobra.Command {
	var (
		wait          float64
		screenshots   bool
		screenshotDir string
		schemaFile    string
		model         string
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "replay <session>",
		Short: "Re-run a memorized session without the model deciding steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()
			sessionID := args[0]

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				cfg.SetLLMModel(model)
			}

			var schema []byte
			if schemaFile != "" {
				if schema, err = os.ReadFile(schemaFile); err != nil {
					return fmt.Errorf("failed to read schema file: %w", err)
				}
			}

			components, err := newComponents(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			// Check the session before paying for a browser.
			if _, err := components.Memory.Get(ctx, sessionID); err != nil {
				if errors.Is(err, schemas.ErrSessionNotFound) {
					fmt.Fprintln(out, "Session not found")
					return nil
				}
				return fmt.Errorf("failed to read memory: %w", err)
			}

			session, err := components.Browsers.NewSession(ctx, "")
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replayBrowserCloseTimeout)
				defer cancel()
				if err := session.Close(closeCtx); err != nil {
					logger.Warn("Failed to close browser session.", zap.Error(err))
				}
			}()

			opts := []replay.Option{replay.WithSearcher(components.Searcher)}
			// Scrape steps need a model; everything else replays without one.
			if llm, err := service.InitializeLLMClient(ctx, cfg.LLM(), &schemas.AgentRequest{Model: model}, logger); err != nil {
				logger.Warn("No language model available; scrape steps will fail.", zap.Error(err))
			} else {
				opts = append(opts, replay.WithLLM(llm))
			}

			engine, err := replay.NewEngine(components.Registry, components.Memory, session, logger, opts...)
			if err != nil {
				return err
			}

			res, err := engine.Replay(ctx, sessionID, replay.Options{
				WaitBetweenActions: time.Duration(wait * float64(time.Second)),
				Schema:             schema,
				ScreenshotEachStep: screenshots,
				ScreenshotDir:      screenshotDir,
				Sink:               newConsoleSink(out, jsonOutput),
			})
			if err != nil {
				return err
			}
			logger.Info("Replay complete.", zap.Int("steps", len(res.StepResults)), zap.String("output", string(res.Output.Type)))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.Float64Var(&wait, "wait", schemas.DefaultWaitBetweenActions, "seconds to wait between steps")
	fl.BoolVar(&screenshots, "screenshots", false, "capture a screenshot after each page action")
	fl.StringVar(&screenshotDir, "screenshot-dir", "", "also write screenshots to this directory")
	fl.StringVar(&schemaFile, "schema", "", "JSON schema file the scrape steps extract against")
	fl.StringVar(&model, "model", "", "model the scrape steps extract with")
	fl.BoolVar(&jsonOutput, "json", false, "print events as newline-delimited JSON")
	return cmd
}
