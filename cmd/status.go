package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/app"
	"github.com/JakeFAU/crawl-orchestrator/internal/clock/system"
	"github.com/JakeFAU/crawl-orchestrator/internal/report"
)

// newStatusCmd creates the 'status' subcommand, a read-only view of the
// persisted session.
func newStatusCmd(c *cli) *cobra.Command {
	var asJSON, asCSV bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the persisted crawl state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			store, err := app.OpenState(cfg.State, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					logger.Warn("state store close failed", zap.Error(cerr))
				}
			}()

			snap, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}

			out := cmd.OutOrStdout()
			if asCSV {
				return report.WriteCSV(out, snap.Statuses, snap.Results)
			}
			summary := report.Build("", system.New().Now(), snap.Statuses, snap.Results)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "State dir     %s\nFrontier      %d queued\n\n", cfg.State.Dir, len(snap.Frontier))
			return report.Print(out, summary)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print per-URL status as CSV")
	cmd.MarkFlagsMutuallyExclusive("json", "csv")
	return cmd
}
