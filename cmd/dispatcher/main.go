// Package main is the entrypoint for the ReportFlow dispatcher daemon.
//
// The dispatcher is the single long-running process of the system. On boot it:
//  1. Initializes the structured logger.
//  2. Loads and validates configuration from the environment.
//  3. Connects the Postgres pool.
//  4. Verifies the SMTP relay (optional, on by default).
//  5. Wires the repositories, report generator client, mail sender,
//     delivery tracker, retry scheduler and delivery runner.
//  6. Recovers persisted retry timers from delivery_logs.
//  7. Starts the dispatch tick loop and the retention sweep loop.
//
// SIGINT/SIGTERM stop the loops, wait for in-flight deliveries and pending
// retry timers to wind down, and close the pool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"reportflow/internal/condition"
	"reportflow/internal/config"
	"reportflow/internal/db"
	"reportflow/internal/delivery"
	"reportflow/internal/dispatcher"
	"reportflow/internal/mail"
	"reportflow/internal/report"
	"reportflow/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})).With(
		"service", cfg.Service,
		"env", cfg.Environment,
		"version", cfg.Build.Version,
	)
	slog.SetDefault(slogger)
	logger := &slogAdapter{logger: slogger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	scheduleRepo := db.NewScheduleRepository(pool)
	deliveryRepo := db.NewDeliveryLogRepository(pool)

	sender := mail.NewSender(mail.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.SMTP.FromAddress,
		FromName:    cfg.SMTP.FromName,
	}, slogger)

	if cfg.SMTP.VerifyOnBoot {
		verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := sender.Verify(verifyCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("verify smtp relay: %w", err)
		}
		logger.Info("smtp relay verified", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
	}

	generator := report.NewClient(report.ClientConfig{
		BaseURL: cfg.Generator.BaseURL,
		APIKey:  cfg.Generator.APIKey,
		Timeout: cfg.Generator.Timeout,
	})

	metrics, err := newMetrics(ctx, cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	tracker := delivery.NewTracker(deliveryRepo, delivery.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
	}, nil, logger)

	// The scheduler calls back into the runner when a retry timer fires;
	// the runner arms timers through the scheduler. Close the loop with a
	// late-bound reference.
	var runner *delivery.Runner
	scheduler := delivery.NewRetryScheduler(deliveryRepo, func(ctx context.Context, deliveryID string) {
		runner.Retry(ctx, deliveryID)
	}, nil, logger)

	runner = delivery.NewRunner(delivery.RunnerConfig{
		Generator:   generator,
		Sender:      sender,
		Evaluator:   condition.NewEvaluator(slogger),
		Tracker:     tracker,
		Scheduler:   scheduler,
		Schedules:   scheduleRepo,
		Deliveries:  deliveryRepo,
		Hashes:      deliveryRepo,
		Metrics:     metrics,
		Logger:      logger,
		SendTimeout: cfg.Dispatcher.SendTimeout,
	})

	recovered, err := scheduler.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover retry timers: %w", err)
	}
	logger.Info("retry timers recovered", "count", recovered)

	disp := dispatcher.New(dispatcher.Config{
		TickInterval: cfg.Dispatcher.TickInterval,
		BatchLimit:   cfg.Dispatcher.BatchLimit,
		Concurrency:  cfg.Dispatcher.Concurrency,
	}, scheduleRepo, runner, metrics, nil, logger)

	sweeper := delivery.NewSweeper(delivery.SweeperConfig{
		Retention:  cfg.Retention.Age,
		BatchSize:  cfg.Retention.BatchSize,
		ArchiveDir: cfg.Retention.ArchiveDir,
	}, deliveryRepo, nil, metrics, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runRetention(ctx, sweeper, cfg.Retention.SweepInterval, logger)
	}()

	logger.Info("dispatcher running",
		"tick_interval", cfg.Dispatcher.TickInterval.String(),
		"concurrency", cfg.Dispatcher.Concurrency,
		"max_attempts", cfg.Retry.MaxAttempts,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	wg.Wait()
	scheduler.Stop()
	logger.Info("dispatcher stopped")
	return nil
}

// runRetention sweeps expired delivery logs on a fixed interval until the
// context ends. Sweep failures are logged and retried next interval.
func runRetention(ctx context.Context, sweeper *delivery.Sweeper, interval time.Duration, logger types.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil {
				logger.Error("retention sweep failed", "error", err.Error())
			}
		}
	}
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// newMetrics returns the CloudWatch recorder when metrics are enabled and
// the no-op recorder otherwise.
func newMetrics(ctx context.Context, cfg config.ObservabilityConfig, logger types.Logger) (delivery.Metrics, error) {
	if !cfg.EnableMetrics {
		return delivery.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	return delivery.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), logger), nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
