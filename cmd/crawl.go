package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-orchestrator/internal/app"
	"github.com/JakeFAU/crawl-orchestrator/internal/report"
)

// crawlFlags maps crawl flags onto config keys; Viper gives set flags
// precedence over env and file values.
var crawlFlags = map[string]string{
	"max-levels":         "crawler.max_levels",
	"max-concurrency":    "crawler.max_concurrency",
	"debug":              "debug.enabled",
	"debug-max-sublinks": "debug.max_sublinks",
	"debug-max-urls":     "debug.max_urls",
}

// newCrawlCmd creates the 'crawl' subcommand. Seeds come from --urls and the
// positional arguments; with none, the command resumes the persisted frontier.
func newCrawlCmd(c *cli) *cobra.Command {
	var urlsFile string

	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Run or resume a crawl session",
		Long: `Runs a breadth-first crawl from the given seeds. State in state.dir is
loaded first, so URLs already completed are never dispatched again. SIGINT or
SIGTERM stops dispatching, drains in-flight work and persists the frontier.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := collectSeeds(urlsFile, args)
			if err != nil {
				return err
			}
			return runCrawl(cmd, c, seeds)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&urlsFile, "urls", "", "file with one seed URL per line")
	flags.Int("max-levels", 1, "maximum crawl depth; seeds are level 1")
	flags.Int("max-concurrency", 5, "maximum in-flight worker invocations")
	flags.Bool("debug", false, "cap sublinks per page and total URLs")
	flags.Int("debug-max-sublinks", 5, "sublinks kept per page in debug mode")
	flags.Int("debug-max-urls", 10, "total URLs admitted in debug mode")
	for name, key := range crawlFlags {
		if err := c.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

func runCrawl(cmd *cobra.Command, c *cli, seeds []string) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	res, err := a.Crawl(ctx, seeds)
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := report.Print(out, res.Summary); err != nil {
		return err
	}
	if len(res.Outcome.Rejected) > 0 {
		fmt.Fprintf(out, "\nRejected seeds: %s\n", strings.Join(res.Outcome.Rejected, ", "))
	}
	if res.Outcome.Stopped() {
		fmt.Fprintf(out, "\nStopped before completion; rerun with state.dir=%s to resume.\n", cfg.State.Dir)
	}
	if res.Written.SummaryURI != "" {
		fmt.Fprintf(out, "\nReport: %s\n", res.Written.SummaryURI)
	}
	return nil
}

// collectSeeds merges the seed file with positional URLs, file first.
func collectSeeds(path string, args []string) ([]string, error) {
	var seeds []string
	if path != "" {
		fromFile, err := readSeedFile(path)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, fromFile...)
	}
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			seeds = append(seeds, arg)
		}
	}
	return seeds, nil
}

// readSeedFile reads one URL per line. Blank lines and lines starting with
// '#' are skipped.
func readSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return seeds, nil
}
