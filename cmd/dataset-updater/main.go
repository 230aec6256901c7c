// Package main is the entrypoint for the dataset updater.
//
// The updater fetches the forecast for every configured city and merges the
// daily aggregates into data/daily_<City>.csv. It runs in one of three
// modes:
//
//   - -once: a single run, exit status reflects the result.
//   - Lambda: when the Lambda runtime environment is present, each
//     invocation is one run (scheduled by an EventBridge rule).
//   - cron (default): runs immediately, then on UPDATER_SCHEDULE until
//     SIGINT or SIGTERM.
//
// This file handles dependency wiring and delegates all business logic to
// the internal/scheduler package (DatasetUpdater.Run).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/robfig/cron/v3"

	"dryday/internal/config"
	"dryday/internal/dataset"
	"dryday/internal/features"
	"dryday/internal/scheduler"
	"dryday/internal/telemetry"
	"dryday/internal/weather"
)

// runner is the slice of DatasetUpdater the modes depend on.
type runner interface {
	Run(ctx context.Context, input scheduler.UpdateInput) (scheduler.Summary, error)
}

func main() {
	once := flag.Bool("once", false, "run a single update and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("dataset updater starting",
		"build", cfg.Build.String(),
		"cities", cfg.Updater.Cities,
		"schedule", cfg.Updater.Schedule,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	updater := newUpdater(cfg, logger, metrics)

	switch {
	case once:
		_, err := runOnce(ctx, updater, metrics, logger, scheduler.UpdateInput{})
		return err
	case isLambdaEnvironment():
		logger.Info("running as Lambda handler")
		lambda.Start(newHandler(updater, metrics, logger))
		return nil
	default:
		return runCron(ctx, cfg.Updater.Schedule, updater, metrics, logger)
	}
}

// newUpdater wires the forecast client and calendar into a DatasetUpdater.
// Background fetches retry with backoff; interactive requests never do.
func newUpdater(cfg *config.Config, logger *slog.Logger, metrics telemetry.Metrics) *scheduler.DatasetUpdater {
	fetcher := weather.NewOpenWeatherClient(weather.OpenWeatherConfig{
		APIKey:  cfg.Weather.APIKey,
		BaseURL: cfg.Weather.BaseURL,
		Units:   cfg.Weather.Units,
		Timeout: cfg.Weather.Timeout,
		Retry:   weather.BackgroundRetryPolicy(),
		Logger:  logger,
	})

	builder := features.NewBuilder(cfg.Prediction.TZOffset)
	builder.FromLocation = cfg.Prediction.TZFromLocation

	return scheduler.NewDatasetUpdater(scheduler.DatasetUpdaterConfig{
		Fetcher:  fetcher,
		Calendar: builder,
		CalendarFor: func(loc weather.Location) dataset.Calendar {
			return builder.For(loc)
		},
		DataDir:     cfg.Data.Dir,
		Cities:      cfg.Updater.Cities,
		Concurrency: cfg.Updater.Concurrency,
		Recorder:    metrics,
		Logger:      logger,
	})
}

// newMetrics returns a CloudWatch publisher when metrics are enabled and a
// no-op otherwise. Metrics are flushed explicitly after every run.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Metrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return telemetry.NopMetrics{}, nil
	}
	client, err := telemetry.NewCloudWatchClient(ctx, cfg.Observability)
	if err != nil {
		return nil, err
	}
	return telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}

// runOnce performs a single update and flushes metrics.
func runOnce(ctx context.Context, u runner, metrics telemetry.Metrics, logger *slog.Logger, input scheduler.UpdateInput) (scheduler.Summary, error) {
	summary, err := u.Run(ctx, input)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := metrics.Flush(flushCtx); ferr != nil {
		logger.Warn("metrics flush failed", "error", ferr)
	}

	if err != nil {
		logger.Error("dataset update failed", "run_id", summary.RunID, "error", err)
		return summary, fmt.Errorf("dataset update: %w", err)
	}
	return summary, nil
}

// newHandler creates the Lambda handler. An empty payload updates the
// configured cities.
func newHandler(u runner, metrics telemetry.Metrics, logger *slog.Logger) func(ctx context.Context, input scheduler.UpdateInput) (scheduler.Summary, error) {
	return func(ctx context.Context, input scheduler.UpdateInput) (scheduler.Summary, error) {
		logger.InfoContext(ctx, "dataset updater invoked", "cities", input.Cities)
		return runOnce(ctx, u, metrics, logger, input)
	}
}

// runCron runs one update immediately, then on schedule until ctx is done.
// Overlapping runs are skipped.
func runCron(ctx context.Context, schedule string, u runner, metrics telemetry.Metrics, logger *slog.Logger) error {
	c, err := newCron(schedule, logger, func() {
		_, _ = runOnce(ctx, u, metrics, logger, scheduler.UpdateInput{})
	})
	if err != nil {
		return err
	}

	_, _ = runOnce(ctx, u, metrics, logger, scheduler.UpdateInput{})

	c.Start()
	logger.Info("scheduler started", "schedule", schedule)
	<-ctx.Done()

	logger.Info("shutdown signal received, waiting for running update")
	<-c.Stop().Done()
	logger.Info("dataset updater stopped cleanly")
	return nil
}

// newCron builds a cron runner with job registered on schedule.
func newCron(schedule string, logger *slog.Logger, job func()) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(schedule, job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return c, nil
}

// isLambdaEnvironment reports whether the process runs inside the Lambda
// runtime.
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("_LAMBDA_SERVER_PORT") != ""
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
