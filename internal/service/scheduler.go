package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/database"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names double as lease names in t_shedlock
const (
	JobSilentPush = "silent_push"
	JobDBCleanup  = "db_cleanup"
)

// transfers without a certificate are reported once they are this old
const staleTransferAge = 24 * time.Hour

// ErrUnknownJob is returned by RunOnce for a name that was never added
var ErrUnknownJob = errors.New("unknown job")

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a scheduled task guarded by a cluster-wide lease
type Job struct {
	Name           string
	Spec           string
	LockAtLeastFor time.Duration
	Run            func(ctx context.Context) error

	schedule cron.Schedule
}

// Scheduler runs jobs on their cron schedule. Before each tick it takes the
// job's lease so only one instance of the service runs it.
type Scheduler struct {
	db            *database.Database
	cron          *cron.Cron
	lockAtMostFor time.Duration
	owner         string
	now           func() time.Time
	logger        *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	started bool
}

// NewScheduler creates a scheduler holding leases for at most lockAtMostFor
func NewScheduler(db *database.Database, lockAtMostFor time.Duration, logger *zap.Logger) *Scheduler {
	logger = logger.With(zap.String("component", "scheduler"))
	return &Scheduler{
		db: db,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLogger{logger.Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		lockAtMostFor: lockAtMostFor,
		owner:         uuid.NewString(),
		now:           time.Now,
		logger:        logger,
		jobs:          make(map[string]*Job),
	}
}

// AddJob registers job. It must be called before Start.
func (s *Scheduler) AddJob(job Job) error {
	schedule, err := cronParser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	job.schedule = schedule

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already added", job.Name)
	}
	s.jobs[job.Name] = &job
	return nil
}

// Start schedules every added job. Ticks stop firing once ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for name, job := range s.jobs {
		s.cron.Schedule(job.schedule, cron.FuncJob(func() {
			if _, err := s.RunOnce(ctx, name); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Job failed", zap.String("job", name), zap.Error(err))
			}
		}))
		s.logger.Info("Job scheduled", zap.String("job", name), zap.String("spec", job.Spec))
	}
	s.cron.Start()
}

// Stop prevents further ticks and waits for a running job to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs the named job if its lease can be taken. It reports whether
// the job ran.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lockedAt := s.now().UTC()
	acquired, err := s.db.TryLock(ctx, name, s.owner, lockedAt, lockedAt.Add(s.lockAtMostFor))
	if err != nil {
		jobRunsTotal.WithLabelValues(name, "failed").Inc()
		return false, fmt.Errorf("failed to acquire lock for %s: %w", name, err)
	}
	if !acquired {
		jobRunsTotal.WithLabelValues(name, "skipped").Inc()
		s.logger.Debug("Lock held elsewhere, skipping run", zap.String("job", name))
		return false, nil
	}
	defer s.release(ctx, job, lockedAt)

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		jobRunsTotal.WithLabelValues(name, "failed").Inc()
		return true, err
	}
	jobRunsTotal.WithLabelValues(name, "success").Inc()
	s.logger.Debug("Job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	return true, nil
}

// release keeps the lease at least until lockedAt plus the job's minimum hold
func (s *Scheduler) release(ctx context.Context, job *Job, lockedAt time.Time) {
	until := lockedAt.Add(job.LockAtLeastFor)
	if now := s.now().UTC(); now.After(until) {
		until = now
	}
	if err := s.db.Unlock(context.WithoutCancel(ctx), job.Name, s.owner, until); err != nil {
		s.logger.Error("Failed to release lock", zap.String("job", job.Name), zap.Error(err))
	}
}

// NewSilentPushJob checks the push schedule and dispatches one heartbeat batch
func NewSilentPushJob(dispatcher *HeartbeatDispatcher, cfg config.PushConfig, schedCfg config.SchedulerConfig) Job {
	return Job{
		Name:           JobSilentPush,
		Spec:           cfg.Cron,
		LockAtLeastFor: schedCfg.SilentPushLockAtLeastFor,
		Run: func(ctx context.Context) error {
			if _, err := dispatcher.CheckPushSchedule(ctx, cfg.PushInterval, cfg.SchedulerInterval, cfg.BatchSize); err != nil {
				dispatcher.logger.Error("Failed to check push schedule", zap.Error(err))
			}
			_, err := dispatcher.SendHeartbeats(ctx, cfg.PushInterval, cfg.BatchSize)
			return err
		},
	}
}

// NewCleanupJob reaps expired transfers and reports stale ones
func NewCleanupJob(registry *TransferRegistry, schedCfg config.SchedulerConfig, logger *zap.Logger) Job {
	logger = logger.With(zap.String("component", "cleanup"))
	return Job{
		Name:           JobDBCleanup,
		Spec:           schedCfg.CleanupCron,
		LockAtLeastFor: schedCfg.CleanupLockAtLeastFor,
		Run: func(ctx context.Context) error {
			n, err := registry.Reap(ctx)
			if err != nil {
				return err
			}
			logger.Info("Removed expired transfers", zap.Int64("count", n))

			stale, err := registry.FindWithoutCertificate(ctx, registry.now().UTC().Add(-staleTransferAge))
			if err != nil {
				logger.Warn("Failed to list transfers without certificate", zap.Error(err))
				return nil
			}
			for _, t := range stale {
				logger.Info("Transfer still waiting for certificate",
					zap.String("code", t.Code),
					zap.Time("created_at", t.CreatedAt),
				)
			}
			return nil
		},
	}
}

// cronLogger routes cron's internal logging through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
