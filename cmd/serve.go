package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedscope/feedscope/internal/api"
	"github.com/feedscope/feedscope/internal/cache"
	"github.com/feedscope/feedscope/internal/config"
	"github.com/feedscope/feedscope/internal/metrics"
)

// newServeCmd creates the 'serve' subcommand: the HTTP API with run
// management, SSE event streaming and the summary cache.
func newServeCmd(cfg *config.Config, logger **zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		Long: `Starts the HTTP API: submit analysis runs, poll results, stream
progress events over SSE, and manage the in-memory summary cache.
Prometheus metrics are exposed on /metrics.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := *logger
			store, err := cache.New(cfg.Cache.Size, cfg.CacheTTL())
			if err != nil {
				return fmt.Errorf("init summary cache: %w", err)
			}
			m := metrics.New()
			manager, err := api.NewManager(*cfg, store, m, log)
			if err != nil {
				return fmt.Errorf("init run manager: %w", err)
			}
			server := api.NewServer(manager, m, *cfg, log)

			httpSrv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("http server listening", zap.Int("port", cfg.Server.Port))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		},
	}
}
