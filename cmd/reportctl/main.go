// Package main implements the reportctl CLI tool for administering report
// schedules directly against the database, bypassing the dispatcher daemon.
//
// This tool is intended for local development, operational intervention and
// manual verification. It wires the same ScheduleService the production
// process uses, so every command goes through full validation.
//
// Usage:
//
//	go run ./cmd/reportctl --cmd=create --file=schedule.json
//	go run ./cmd/reportctl --cmd=list --user=usr_123
//	go run ./cmd/reportctl --cmd=pause --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=resume --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=delete --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=execute --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=history --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=stats --schedule=sch_abc
//	go run ./cmd/reportctl --cmd=send-test --to=ops@example.com
//
// The tool reads its configuration from environment variables (or a .env
// file). The execute command performs a real generate-and-send pass, so it
// needs the generator and SMTP settings configured.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reportflow/internal/condition"
	"reportflow/internal/config"
	"reportflow/internal/db"
	"reportflow/internal/delivery"
	"reportflow/internal/dispatcher"
	"reportflow/internal/mail"
	"reportflow/internal/report"
	"reportflow/internal/service"
	"reportflow/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var commands = map[string]string{
	"create":    "Create a schedule from a JSON file (--file)",
	"list":      "List schedules for a user (--user)",
	"pause":     "Pause a schedule (--schedule)",
	"resume":    "Resume a paused schedule (--schedule)",
	"delete":    "Cancel a schedule (--schedule)",
	"execute":   "Run a schedule immediately (--schedule)",
	"history":   "Show delivery history for a schedule (--schedule)",
	"stats":     "Show delivery stats for a schedule (--schedule)",
	"send-test": "Send a test email (--to)",
}

func main() {
	cmdFlag := flag.String("cmd", "", "Command to run (use --list to enumerate)")
	scheduleFlag := flag.String("schedule", "", "Schedule ID")
	userFlag := flag.String("user", "", "User ID for list")
	fileFlag := flag.String("file", "", "JSON file describing the schedule for create")
	toFlag := flag.String("to", "", "Recipient address for send-test")
	limitFlag := flag.Int("limit", 0, "History page size (default 50)")
	listFlag := flag.Bool("list", false, "List available commands and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reportctl [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Administer report schedules directly, bypassing the dispatcher daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *listFlag {
		for name, desc := range commands {
			fmt.Printf("  %-10s %s\n", name, desc)
		}
		return
	}
	if _, ok := commands[*cmdFlag]; !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q; use --list\n", *cmdFlag)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cmdFlag, *scheduleFlag, *userFlag, *fileFlag, *toFlag, *limitFlag); err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd, scheduleID, userID, file, to string, limit int) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	logger := &slogAdapter{logger: slogger}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
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

	tracker := delivery.NewTracker(deliveryRepo, delivery.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
	}, nil, logger)

	// Retries armed by a one-shot CLI run cannot outlive the process; the
	// dispatcher daemon picks them up from next_retry_at on its next boot.
	var runner *delivery.Runner
	scheduler := delivery.NewRetryScheduler(deliveryRepo, func(ctx context.Context, deliveryID string) {
		runner.Retry(ctx, deliveryID)
	}, nil, logger)
	defer scheduler.Stop()

	runner = delivery.NewRunner(delivery.RunnerConfig{
		Generator: report.NewClient(report.ClientConfig{
			BaseURL: cfg.Generator.BaseURL,
			APIKey:  cfg.Generator.APIKey,
			Timeout: cfg.Generator.Timeout,
		}),
		Sender:      sender,
		Evaluator:   condition.NewEvaluator(slogger),
		Tracker:     tracker,
		Scheduler:   scheduler,
		Schedules:   scheduleRepo,
		Deliveries:  deliveryRepo,
		Hashes:      deliveryRepo,
		Logger:      logger,
		SendTimeout: cfg.Dispatcher.SendTimeout,
	})

	executor := dispatcher.New(dispatcher.Config{
		TickInterval: cfg.Dispatcher.TickInterval,
		BatchLimit:   cfg.Dispatcher.BatchLimit,
		Concurrency:  cfg.Dispatcher.Concurrency,
	}, scheduleRepo, runner, nil, nil, logger)

	svc := service.NewScheduleService(scheduleRepo, deliveryRepo, executor, sender, nil, logger)

	switch cmd {
	case "create":
		return cmdCreate(ctx, svc, file)
	case "list":
		return cmdList(ctx, svc, userID)
	case "pause":
		return requireSchedule(scheduleID, func() error { return svc.PauseSchedule(ctx, scheduleID) })
	case "resume":
		return requireSchedule(scheduleID, func() error { return svc.ResumeSchedule(ctx, scheduleID) })
	case "delete":
		return requireSchedule(scheduleID, func() error { return svc.DeleteSchedule(ctx, scheduleID) })
	case "execute":
		return cmdExecute(ctx, svc, scheduleID)
	case "history":
		return cmdHistory(ctx, svc, scheduleID, limit)
	case "stats":
		return cmdStats(ctx, svc, scheduleID)
	case "send-test":
		if to == "" {
			return fmt.Errorf("--to is required for send-test")
		}
		return svc.SendTest(ctx, to)
	}
	return nil
}

func requireSchedule(id string, fn func() error) error {
	if id == "" {
		return fmt.Errorf("--schedule is required")
	}
	return fn()
}

func cmdCreate(ctx context.Context, svc *service.ScheduleService, file string) error {
	if file == "" {
		return fmt.Errorf("--file is required for create")
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var sched types.Schedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		return fmt.Errorf("parse schedule file: %w", err)
	}
	created, err := svc.CreateSchedule(ctx, &sched)
	if err != nil {
		return err
	}
	return printJSON(created)
}

func cmdList(ctx context.Context, svc *service.ScheduleService, userID string) error {
	if userID == "" {
		return fmt.Errorf("--user is required for list")
	}
	schedules, err := svc.ListSchedules(ctx, userID)
	if err != nil {
		return err
	}
	return printJSON(schedules)
}

func cmdExecute(ctx context.Context, svc *service.ScheduleService, scheduleID string) error {
	if scheduleID == "" {
		return fmt.Errorf("--schedule is required")
	}
	log, err := svc.ExecuteNow(ctx, scheduleID)
	if err != nil {
		return err
	}
	if log == nil {
		fmt.Println("no delivery log opened")
		return nil
	}
	fmt.Printf("delivery %s executed; use --cmd=history to inspect the outcome\n", log.ID)
	return nil
}

func cmdHistory(ctx context.Context, svc *service.ScheduleService, scheduleID string, limit int) error {
	if scheduleID == "" {
		return fmt.Errorf("--schedule is required")
	}
	logs, err := svc.GetDeliveryHistory(ctx, scheduleID, limit)
	if err != nil {
		return err
	}
	for _, l := range logs {
		sentAt := "-"
		if l.SentAt != nil {
			sentAt = l.SentAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-20s attempts=%d sent_at=%s %s\n",
			l.CreatedAt.Format(time.RFC3339), l.Status, l.AttemptCount, sentAt, l.ErrorMessage)
	}
	return nil
}

func cmdStats(ctx context.Context, svc *service.ScheduleService, scheduleID string) error {
	if scheduleID == "" {
		return fmt.Errorf("--schedule is required")
	}
	stats, err := svc.GetDeliveryStats(ctx, scheduleID)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
