// Package main is the entry point for the DryDay API server.
//
// It loads configuration, wires the forecast client, model registry and
// services into the core chassis and serves HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dryday/internal/api/handlers"
	"dryday/internal/cities"
	"dryday/internal/config"
	"dryday/internal/core"
	"dryday/internal/evaluation"
	"dryday/internal/features"
	"dryday/internal/models"
	"dryday/internal/prediction"
	"dryday/internal/telemetry"
	"dryday/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("dryday API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	srv, err := buildServer(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return runHTTPServer(srv, cfg, logger)
}

// newMetrics returns a CloudWatch publisher when metrics are enabled and a
// no-op otherwise. The publisher's flush loop stops with ctx.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Metrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return telemetry.NopMetrics{}, nil
	}
	client, err := telemetry.NewCloudWatchClient(ctx, cfg.Observability)
	if err != nil {
		return nil, err
	}
	cw := telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger)
	go cw.Run(ctx, telemetry.DefaultFlushInterval)
	return cw, nil
}

// buildServer wires every dependency into a mounted core.Server.
func buildServer(cfg *config.Config, logger *slog.Logger, metrics telemetry.Metrics) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = metrics

	if err := os.MkdirAll(cfg.Models.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating model dir: %w", err)
	}

	fetcher := weather.NewOpenWeatherClient(weather.OpenWeatherConfig{
		APIKey:  cfg.Weather.APIKey,
		BaseURL: cfg.Weather.BaseURL,
		Units:   cfg.Weather.Units,
		Timeout: cfg.Weather.Timeout,
		Retry:   weather.NoRetry(),
		Logger:  logger,
	})
	registry := models.NewRegistry(cfg.Models.Dir, map[models.Kind]string{
		models.KindProphet: cfg.Models.ProphetFile,
		models.KindXGBoost: cfg.Models.XGBoostFile,
	}, logger)
	builder := features.NewBuilder(cfg.Prediction.TZOffset)
	builder.FromLocation = cfg.Prediction.TZFromLocation
	index := cities.NewIndex(cfg.Data.CityIndexPath, logger)

	predictionSvc := prediction.NewService(fetcher, registry, builder, cfg.Prediction.RainThresholdMM,
		prediction.WithRecorder(metrics),
		prediction.WithLogger(logger),
	)
	evaluationSvc := evaluation.NewService(registry, logger)

	predictionHandler := handlers.NewPredictionHandler(predictionSvc, srv.Validator, logger)
	evaluationHandler := handlers.NewEvaluationHandler(evaluationSvc, cfg.Data.DatasetPath, logger)
	cityHandler := handlers.NewCityHandler(index, logger)
	modelHandler := handlers.NewModelHandler(registry, cfg.Models.UploadMaxBytes, logger)

	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		predictionHandler.RegisterRoutes,
		evaluationHandler.RegisterRoutes,
		cityHandler.RegisterRoutes,
		modelHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes, core.NewProbe("model_dir", func(context.Context) error {
		info, err := os.Stat(cfg.Models.Dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", cfg.Models.Dir)
		}
		return nil
	}))

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
