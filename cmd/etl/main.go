package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/water-chart-etl/internal/adapter/chartsource"
	httpadapter "github.com/couchcryptid/water-chart-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/water-chart-etl/internal/adapter/kafka"
	"github.com/couchcryptid/water-chart-etl/internal/config"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
	"github.com/couchcryptid/water-chart-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	source := chartsource.NewClient(cfg.ChartBaseURL, cfg.ChartUserAgent, cfg.ChartTimeout, metrics, logger)
	logger.Info("chart source configured", "base_url", cfg.ChartBaseURL, "timeout", cfg.ChartTimeout)

	recent := pipeline.NewRecentLoads(cfg.RecentCacheSize, cfg.RecentWindow)
	if cfg.RecentWindow == 0 {
		logger.Info("recent load skipping disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(source, cfg.ChartChunkSize, metrics, logger)

	p := pipeline.New(reader, transformer, writer, recent, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Wait for the in-flight chart so its parser is stopped before the reader goes away.
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
