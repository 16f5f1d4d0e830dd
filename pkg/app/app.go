package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/gymowl/gymowl/pkg/archive"
	"github.com/gymowl/gymowl/pkg/async"
	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/config"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/plans"
	"github.com/gymowl/gymowl/pkg/scheduler"
	"github.com/gymowl/gymowl/pkg/sequence"
	"github.com/gymowl/gymowl/pkg/storage/postgres"
	"github.com/gymowl/gymowl/pkg/tenants"
)

// handoffTimeout bounds each background archive upload
const handoffTimeout = 30 * time.Second

// App holds the wired billing core shared by the server and job binaries
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	DB       *sql.DB
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	// Tenants is the authoritative tenant store billing reads and writes.
	Tenants tenants.Store
	// TenantLookup serves request-path tenant resolution. It is cached when
	// a tenant cache is configured and must not feed billing writes.
	TenantLookup tenants.Store
	Billing      *billing.Service
	Handoff  *async.Group
}

// New connects to the configured backends and builds the billing service.
// Without a database URL every store is in memory.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	catalog := plans.DefaultCatalog()
	if cfg.Billing.PlanCatalogPath != "" {
		loaded, err := plans.LoadCatalog(cfg.Billing.PlanCatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		logger.WithField("path", cfg.Billing.PlanCatalogPath).Info("Loaded plan catalog")
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var store billing.Store
	var tenantStore tenants.Store
	if a.DB != nil {
		store = billing.NewPostgresStore(a.DB, a.Metrics)
		tenantStore = tenants.NewPostgresStore(a.DB)
	} else {
		logger.Warn("No database configured, using in-memory stores")
		store = billing.NewMemoryStore()
		tenantStore = tenants.NewMemoryStore()
	}
	a.Tenants = tenantStore
	a.TenantLookup = tenantStore
	if cfg.TenantCache.Size > 0 {
		a.TenantLookup = tenants.NewCachedStore(tenantStore, cfg.TenantCache.Size, cfg.TenantCache.TTL)
	}

	seq, err := a.invoiceSequence(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Handoff = async.NewGroup(logger, handoffTimeout)
	opts := []billing.Option{
		billing.WithCatalog(catalog),
		billing.WithLocation(cfg.Billing.Location),
		billing.WithMetrics(a.Metrics),
		billing.WithReminderDays(cfg.Billing.ReminderDays),
		billing.WithPaymentTerms(cfg.Billing.PaymentTermsDays),
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			Prefix:       cfg.Archive.Prefix,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
			CreateBucket: cfg.Archive.CreateBucket,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to set up invoice archive: %w", err)
		}
		opts = append(opts, billing.WithArchiver(archiver, a.Handoff))
		logger.WithField("bucket", cfg.Archive.Bucket).Info("Invoice archive enabled")
	}

	a.Billing = billing.NewService(tenantStore, store, seq, logger, opts...)
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		a.DB = db

		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(db).Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) > 0 {
				a.Logger.WithField("migrations", applied).Info("Applied database migrations")
			}
		}
	}

	if cfg.Redis.URL != "" {
		client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return err
		}
		a.Redis = client
	}
	return nil
}

// invoiceSequence picks Redis, then Postgres, then memory. A fresh Redis
// counter is seeded from Postgres so numbers never repeat.
func (a *App) invoiceSequence(ctx context.Context) (billing.InvoiceSequence, error) {
	switch {
	case a.Redis != nil && a.Config.Redis.SequenceEnabled:
		seq := sequence.NewRedisSequence(a.Redis, "")
		if a.DB != nil {
			current, err := sequence.NewPostgresSequence(a.DB).Current(ctx, billing.InvoiceSequenceName)
			if err != nil {
				return nil, err
			}
			if seeded, err := seq.Seed(ctx, billing.InvoiceSequenceName, current); err != nil {
				return nil, err
			} else if seeded {
				a.Logger.WithField("value", current).Info("Seeded Redis invoice sequence from Postgres")
			}
		}
		return seq, nil
	case a.DB != nil:
		return sequence.NewPostgresSequence(a.DB), nil
	default:
		return sequence.NewMemorySequence(), nil
	}
}

// NewScheduler builds a scheduler with the three billing jobs registered.
// Runs are locked through Redis when it is configured.
func (a *App) NewScheduler(logger *logrus.Logger) (*scheduler.Scheduler, error) {
	cfg := a.Config.Scheduler

	opts := []scheduler.Option{scheduler.WithMetrics(a.Metrics)}
	if a.Redis != nil {
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(a.Redis, "")))
	}

	s := scheduler.New(scheduler.Config{
		Location:   a.Config.Billing.Location,
		JobTimeout: cfg.JobTimeout,
		LockTTL:    cfg.LockTTL,
	}, logger, opts...)

	jobs := scheduler.BillingJobs(a.Billing, scheduler.Schedules{
		Reminders: cfg.ReminderCron,
		Renewals:  cfg.RenewalCron,
		Overdue:   cfg.OverdueCron,
	})
	if err := s.RegisterAll(jobs); err != nil {
		return nil, err
	}
	return s, nil
}

// HealthChecker checks whichever backends are connected
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	return observability.NewHealthChecker(a.DB, a.Redis, version)
}

// RegisterShutdown stops sched (when not nil), drains pending archive
// uploads and then closes connections. Shutdown functions run concurrently,
// so the ordering lives in one function.
func (a *App) RegisterShutdown(sm *observability.ShutdownManager, sched *scheduler.Scheduler) {
	sm.RegisterShutdownFunc("billing-core", func(ctx context.Context) error {
		if sched != nil {
			if err := sched.Stop(ctx); err != nil {
				return err
			}
		}
		if err := a.Handoff.Wait(ctx); err != nil {
			return err
		}
		a.Close()
		return nil
	})
}

// Close releases database and Redis connections
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close database")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Redis")
		}
	}
}
