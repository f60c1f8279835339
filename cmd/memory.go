// File: cmd/memory.go
package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect memorized sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List memorized sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			components, err := newComponents(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			records, err := components.Memory.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to read memory: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No memory found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCREATED\tSTEPS\tINPUT")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", rec.Session, rec.CreatedAt.Format(time.RFC3339), len(rec.Steps), truncate(rec.Input, 80))
			}
			return tw.Flush()
		},
	}

	memoryCmd.AddCommand(listCmd)
	return memoryCmd
}
