package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncline/internal/api"
	"syncline/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon: connectivity probe, queue drain loop and status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := a.logger.With().Str("component", "serve").Logger()

	startMetrics(ctx, a, &logger)

	go a.conn.Start(ctx)
	go a.queue.Start(ctx)

	var httpServer *api.HTTPServer
	if a.cfg.API.Enabled {
		httpServer = api.NewHTTPServer(a.cfg.API, a.cfg.App.TenantID, a.queue, a.cache, a.conn, a.syncer, a.logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("status API stopped")
			}
		}()
	}

	logger.Info().
		Str("upstream", a.cfg.Upstream.BaseURL).
		Str("storage", a.cfg.Storage.Backend).
		Bool("api", a.cfg.API.Enabled).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("sync daemon stopped")
	return nil
}

func startMetrics(ctx context.Context, a *app, logger *zerolog.Logger) {
	if !a.cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := a.cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
