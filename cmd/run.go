// File: cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

type runFlags struct {
	schemaFile    string
	wait          float64
	model         string
	remoteURL     string
	headless      bool
	maxIterations int
	memorize      bool
	screenshots   bool
	jsonOutput    bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one task in a local browser and print its events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(f.headless)
			}
			if flags.Changed("remote-url") {
				cfg.SetBrowserRemoteURL(f.remoteURL)
			}
			if flags.Changed("max-iterations") {
				cfg.SetAgentMaxIterations(f.maxIterations)
			}
			if flags.Changed("screenshots") {
				cfg.SetAgentScreenshotEachStep(f.screenshots)
			}

			req, err := f.request(strings.Join(args, " "), flags.Changed("wait"))
			if err != nil {
				return err
			}

			components, err := newComponents(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			runner, err := service.NewRunner(components, logger)
			if err != nil {
				return err
			}
			slot, err := runner.Admit(ctx, req)
			if err != nil {
				return err
			}
			defer slot.Release()

			sink := newConsoleSink(cmd.OutOrStdout(), f.jsonOutput)
			out, err := slot.Execute(ctx, sink)
			if err != nil {
				return err
			}
			logger.Info("Run complete.",
				zap.String("session", out.Session),
				zap.String("terminal", string(out.Terminal.Type)),
				zap.Int("iterations", out.Iterations),
			)
			if out.Memorized != nil && !f.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "\nSession memorized: %s\n", out.Session)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.schemaFile, "schema", "", "JSON schema file the scrape tools extract against")
	fl.Float64Var(&f.wait, "wait", schemas.DefaultWaitBetweenActions, "seconds to wait between actions")
	fl.StringVar(&f.model, "model", "", "model name, e.g. gemini-2.5-flash or gpt-4o")
	fl.StringVar(&f.remoteURL, "remote-url", "", "DevTools websocket of an already running browser")
	fl.BoolVar(&f.headless, "headless", true, "run the local browser headless")
	fl.IntVar(&f.maxIterations, "max-iterations", 0, "maximum number of tool steps")
	fl.BoolVar(&f.memorize, "memorize", false, "save the successful steps for replay")
	fl.BoolVar(&f.screenshots, "screenshots", false, "capture a screenshot after each page action")
	fl.BoolVar(&f.jsonOutput, "json", false, "print events as newline-delimited JSON")
	return cmd
}

// request builds the agent request from the prompt and flags.
func (f *runFlags) request(prompt string, waitSet bool) (*schemas.AgentRequest, error) {
	req := &schemas.AgentRequest{
		Prompt:             prompt,
		Model:              f.model,
		Memorize:           f.memorize,
		ScreenshotEachStep: f.screenshots,
	}
	if waitSet {
		wait := f.wait
		req.WaitBetweenActions = &wait
	}
	if f.schemaFile != "" {
		raw, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		req.ScraperSchema = raw
	}
	return req, nil
}
