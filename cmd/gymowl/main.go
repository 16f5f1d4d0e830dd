package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gymowl/gymowl/pkg/api"
	"github.com/gymowl/gymowl/pkg/app"
	"github.com/gymowl/gymowl/pkg/config"
	"github.com/gymowl/gymowl/pkg/middleware"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/scheduler"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	withScheduler := flag.Bool("scheduler", true, "Run the billing jobs in this process (GYMOWL_SCHEDULER_ENABLED must also be true)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting gymowl billing API")

	if err := run(cfg, logger, *withScheduler && cfg.Scheduler.Enabled); err != nil {
		logger.WithError(err).Error("gymowl exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, withScheduler bool) error {
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRate:     cfg.Observability.OTelSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	limiter, stopCleanup := newRateLimiter(cfg, core)
	defer stopCleanup()

	server, err := api.NewServer(core.Billing, logger, api.Config{
		RequireTenantHeader: cfg.Server.RequireTenantHeader,
		Tenants:             core.TenantLookup,
		RateLimiter:         limiter,
		Metrics:             core.Metrics,
		Registry:            core.Registry,
		Health:              core.HealthChecker(version),
	})
	if err != nil {
		core.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var sched *scheduler.Scheduler
	if withScheduler {
		sched, err = core.NewScheduler(setupLogger(cfg.Observability.LogLevel.String()))
		if err != nil {
			core.Close()
			return err
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	core.RegisterShutdown(shutdown, sched)
	shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	if sched != nil {
		sched.Start()
		logger.WithField("jobs", sched.Jobs()).Info("Billing scheduler started")
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- shutdown.WaitForShutdown()
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			_ = shutdown.Shutdown()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return <-shutdownErr
	case err := <-shutdownErr:
		return err
	}
}

// newRateLimiter returns a Redis-backed limiter when Redis is configured so
// every replica shares one budget per tenant
func newRateLimiter(cfg *config.Config, core *app.App) (middleware.Limiter, func()) {
	if cfg.Server.RateLimitPerMinute <= 0 {
		return nil, func() {}
	}
	rlConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.RateLimitPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Server.RateLimitBurst,
	}
	if core.Redis != nil {
		return middleware.NewDistributedRateLimiter(core.Redis, rlConfig, ""), func() {}
	}

	limiter := middleware.NewRateLimiter(rlConfig)
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)
	return limiter, cancel
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
