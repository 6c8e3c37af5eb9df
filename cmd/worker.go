package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-orchestrator/internal/app"
)

// newWorkerCmd creates the 'worker' subcommand.
func newWorkerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the crawl worker over HTTP",
		Long: `Serves POST /v1/crawl, /healthz and /metrics on worker.port. Each request
fetches one URL, stores the page in the blob store and returns its links.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := app.BuildWorker(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize worker: %w", err)
			}
			defer w.Close()
			return w.Serve(ctx)
		},
	}
	cmd.Flags().Int("port", 8081, "listen port")
	if err := c.v.BindPFlag("worker.port", cmd.Flags().Lookup("port")); err != nil {
		panic(fmt.Sprintf("bind flag port: %v", err))
	}
	return cmd
}
