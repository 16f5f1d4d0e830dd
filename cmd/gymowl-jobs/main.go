package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/gymowl/gymowl/pkg/app"
	"github.com/gymowl/gymowl/pkg/config"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/scheduler"
)

// Options holds the command-line settings for the job runner
type Options struct {
	RunOnce  string
	ListJobs bool
	LogLevel string
}

// The job runner executes the billing jobs on their cron schedules, or a
// single job once with -run-once for backfills and manual runs.
func main() {
	opts := parseFlags()

	logger := setupLogger(opts.LogLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg, opts, logger); err != nil {
		logger.Errorf("gymowl-jobs exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts *Options, logger *logrus.Logger) error {
	// The billing core logs through the structured logger; the scheduler
	// and this command use logrus.
	coreLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.New(ctx, cfg, coreLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize billing core: %w", err)
	}
	defer core.Close()

	sched, err := core.NewScheduler(logger)
	if err != nil {
		return fmt.Errorf("failed to register billing jobs: %w", err)
	}

	if opts.ListJobs {
		for _, name := range sched.Jobs() {
			fmt.Println(name)
		}
		return nil
	}

	if opts.RunOnce != "" {
		if err := runOnce(ctx, sched, core, opts.RunOnce, logger); err != nil {
			return fmt.Errorf("job %s failed: %w", opts.RunOnce, err)
		}
		return nil
	}

	sched.Start()
	logger.WithFields(logrus.Fields{
		"jobs":      sched.Jobs(),
		"reminders": cfg.Scheduler.ReminderCron,
		"renewals":  cfg.Scheduler.RenewalCron,
		"overdue":   cfg.Scheduler.OverdueCron,
	}).Info("gymowl job runner started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal, stopping job runner...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warnf("Scheduler did not stop cleanly: %v", err)
	}
	if err := core.Handoff.Wait(shutdownCtx); err != nil {
		logger.Warnf("Pending invoice uploads were abandoned: %v", err)
	}
	logger.Info("Job runner stopped")
	return nil
}

func runOnce(ctx context.Context, sched *scheduler.Scheduler, core *app.App, name string, logger *logrus.Logger) error {
	logger.Infof("Running %s once", name)

	result, err := sched.RunNow(ctx, name)
	if waitErr := core.Handoff.Wait(ctx); waitErr != nil {
		logger.Warnf("Pending invoice uploads were abandoned: %v", waitErr)
	}
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"matched":   result.Matched,
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}).Infof("%s completed", name)
	return nil
}

func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.RunOnce, "run-once", "", "Run the named job once and exit ("+scheduler.JobExpiryReminders+", "+scheduler.JobAutoRenewals+" or "+scheduler.JobOverdueInvoices+")")
	flag.BoolVar(&opts.ListJobs, "list", false, "List the registered jobs and exit")
	flag.StringVar(&opts.LogLevel, "log-level", getEnv("GYMOWL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flag.Parse()

	return opts
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
