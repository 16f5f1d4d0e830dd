package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/observability"
)

var tracer = otel.Tracer("github.com/gymowl/gymowl/pkg/scheduler")

var (
	// ErrUnknownJob is returned by RunNow for names that were never registered
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobLocked is returned when another instance is running the job
	ErrJobLocked = errors.New("job is running on another instance")
)

// JobFunc runs one batch and reports what it did
type JobFunc func(ctx context.Context) (*billing.JobResult, error)

// Job is a named function on a cron schedule
type Job struct {
	Name string
	Spec string
	Run  JobFunc
}

// Config holds scheduler settings
type Config struct {
	Location   *time.Location
	JobTimeout time.Duration
	LockTTL    time.Duration
}

// Scheduler runs billing jobs on cron schedules. Overlapping runs of the same
// job inside one process share a single execution; a Locker extends that
// across processes.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logrus.Logger
	metrics *observability.Metrics
	locker  Locker

	timeout time.Duration
	lockTTL time.Duration
	flight  singleflight.Group

	mu   sync.RWMutex
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocker enables cross-instance locking
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithMetrics records job runs in Prometheus
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler. Jobs fire in cfg.Location, UTC when nil.
func New(cfg Config, logger *logrus.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.JobTimeout + 15*time.Minute
	}

	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		logger:  logger,
		timeout: cfg.JobTimeout,
		lockTTL: cfg.LockTTL,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. The spec uses the standard five-field cron syntax.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and function are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	_, err := s.cron.AddFunc(job.Spec, func() {
		if _, err := s.RunNow(s.ctx, job.Name); err != nil && !errors.Is(err, ErrJobLocked) {
			s.logger.WithError(err).WithField("job", job.Name).Error("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", job.Name, job.Spec, err)
	}

	s.jobs[job.Name] = job
	s.logger.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Spec}).Info("Job scheduled")
	return nil
}

// Jobs returns the registered job names in sorted order
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a registered job immediately, bounded by the job timeout.
// A call that overlaps a run already in progress waits for it and returns
// its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*billing.JobResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	v, err, shared := s.flight.Do(name, func() (interface{}, error) {
		return s.execute(ctx, job)
	})
	if shared {
		s.logger.WithField("job", name).Debug("Joined in-flight job run")
	}
	result, _ := v.(*billing.JobResult)
	return result, err
}

func (s *Scheduler) execute(parent context.Context, job Job) (*billing.JobResult, error) {
	log := s.logger.WithField("job", job.Name)

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, job.Name, s.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Info("Job already running on another instance, skipping")
			return nil, ErrJobLocked
		}
		defer release()
	}

	ctx, span := tracer.Start(ctx, "scheduler."+job.Name, trace.WithAttributes(attribute.String("job", job.Name)))
	defer span.End()

	log.Info("Job started")
	start := time.Now()
	result, err := job.Run(ctx)
	duration := time.Since(start)

	var processed, skipped, failed int
	if result != nil {
		processed, skipped, failed = result.Processed, result.Skipped, result.Failed
	}
	s.metrics.ObserveJobRun(job.Name, duration, processed, skipped, failed, err)

	fields := logrus.Fields{"duration": duration.String()}
	if result != nil {
		fields["matched"] = result.Matched
		fields["processed"] = processed
		fields["skipped"] = skipped
		fields["failed"] = failed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithFields(fields).WithError(err).Error("Job finished with error")
		return result, err
	}

	log.WithFields(fields).Info("Job finished")
	return result, nil
}

// Start begins firing jobs on their schedules
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("jobs", s.Jobs()).Info("Scheduler started")
}

// Stop cancels running jobs and waits for them to return or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
