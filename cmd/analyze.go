package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedscope/feedscope/internal/config"
	"github.com/feedscope/feedscope/internal/crawl"
	"github.com/feedscope/feedscope/internal/metrics"
	"github.com/feedscope/feedscope/internal/progress"
	"github.com/feedscope/feedscope/internal/transport"
)

// newAnalyzeCmd creates the 'analyze' subcommand: a blocking run against one
// feed, with the summary printed as JSON when it finishes.
func newAnalyzeCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	var (
		feedURL  string
		dialect  string
		pageCap  int
		workers  int
		batch    int
		username string
		password string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one feed and print the run summary",
		Long: `Walks the feed's pagination chain to the end (or the page cap),
classifies every record and prints the aggregated summary as JSON.
Progress is reported on stderr as pages complete.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := *logger
			if dialect == "" {
				dialect = cfg.Crawl.DefaultDialect
			}
			if pageCap <= 0 {
				pageCap = cfg.Crawl.PageCap
			}
			if workers <= 0 {
				workers = cfg.Crawl.Workers
			}
			if batch <= 0 {
				batch = cfg.Crawl.BatchSize
			}
			var creds *transport.Credentials
			if username != "" || password != "" {
				creds = &transport.Credentials{Username: username, Password: password}
			}

			var onEvent func(progress.Event)
			if !quiet {
				onEvent = func(evt progress.Event) {
					switch evt.Stage {
					case progress.StagePageFetched:
						fmt.Fprintf(os.Stderr, "page %d fetched (%s)\n", evt.Page, evt.URL)
					case progress.StagePageError:
						fmt.Fprintf(os.Stderr, "page %d failed: %s\n", evt.Page, evt.Note)
					}
				}
			}

			eng := crawl.New(crawl.Options{
				FeedURL:     feedURL,
				Dialect:     dialect,
				PageCap:     pageCap,
				Workers:     workers,
				BatchSize:   batch,
				NextRel:     cfg.Crawl.NextRel,
				Timeout:     cfg.Timeout(),
				MaxAttempts: cfg.HTTP.MaxRetries,
				UserAgent:   cfg.HTTP.UserAgent,
				Credentials: creds,
				OnEvent:     onEvent,
				Observer:    metrics.New(),
				Logger:      log,
			})
			sum, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("run analysis: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feedURL, "url", "", "feed URL to analyze (required)")
	cmd.Flags().StringVar(&dialect, "dialect", "", "feed dialect: opds or odl (default from config)")
	cmd.Flags().IntVar(&pageCap, "page-cap", 0, "maximum pages to analyze (0 = unlimited)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent page fetches (default from config)")
	cmd.Flags().IntVar(&batch, "batch-size", 0, "records folded per chunk (default from config)")
	cmd.Flags().StringVar(&username, "username", "", "basic auth username")
	cmd.Flags().StringVar(&password, "password", "", "basic auth password")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress per-page progress output")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
