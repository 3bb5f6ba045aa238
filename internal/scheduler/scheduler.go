package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	invoicecycledomain "github.com/smallbiznis/backoffice/internal/invoicecycle/domain"
	obsmetrics "github.com/smallbiznis/backoffice/internal/observability/metrics"
	"github.com/smallbiznis/backoffice/pkg/lock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cycle   invoicecycledomain.Service
	Billing *config.BillingConfigHolder
	Locker  *lock.Locker                 `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	cycle   invoicecycledomain.Service
	billing *config.BillingConfigHolder
	locker  *lock.Locker
	metrics *obsmetrics.SchedulerMetrics
	cron    *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Cycle == nil || p.Billing == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		cycle:   p.Cycle,
		billing: p.Billing,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// runJob bounds fn by timeout and records its outcome. A deadline counts as a
// soft failure: it is logged and measured but not returned.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(run.startedAt))
	if err != nil && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// exclusive runs fn only if this replica wins the job's lock for the current
// month. Without a locker every replica runs the job.
func (s *Scheduler) exclusive(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	key := fmt.Sprintf("backoffice:scheduler:%s:%s", job, s.clock.Now().UTC().Format("2006-01"))
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.IncJobSkipped(job)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("job", job),
			zap.String("lock_key", key),
			zap.String("reason", obsmetrics.SchedulerJobReasonLockHeld),
		)
		return nil
	}
	// A timed-out job context must not keep the lock.
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("release scheduler lock failed", zap.String("lock_key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) ResetHoursJob(ctx context.Context) error {
	return s.exclusive(ctx, JobResetHours, func(ctx context.Context) error {
		summary, err := s.cycle.ResetActiveSubscriptions(ctx)
		run := jobRunFromContext(ctx)
		run.AddProcessed(summary.Processed)
		run.AddErrors(len(summary.Failures))
		s.metrics.AddBatchProcessed(JobResetHours, "subscription", summary.Processed)
		return err
	})
}

// GenerateInvoicesJob bills the month before the current one.
func (s *Scheduler) GenerateInvoicesJob(ctx context.Context) error {
	return s.exclusive(ctx, JobGenerateInvoices, func(ctx context.Context) error {
		period := invoicecycledomain.PreviousPeriod(s.clock.Now())
		summary, err := s.cycle.GenerateInvoices(ctx, period)
		run := jobRunFromContext(ctx)
		run.AddProcessed(summary.DemandsInvoiced)
		run.AddErrors(len(summary.Failures))
		s.metrics.AddBatchProcessed(JobGenerateInvoices, "demand", summary.DemandsInvoiced)
		return err
	})
}

type scheduledJob struct {
	Name     string
	Schedule string
	Run      func(context.Context) error
}

func (s *Scheduler) jobs() []scheduledJob {
	billing := s.billing.Get()
	return []scheduledJob{
		{JobResetHours, billing.ResetSchedule, s.ResetHoursJob},
		{JobGenerateInvoices, billing.InvoiceSchedule, s.GenerateInvoicesJob},
	}
}

// RunOnce runs every enabled job immediately, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, job := range s.jobs() {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(ctx, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

// Start registers the enabled jobs on a UTC cron. Schedules are read from the
// billing config once, at start.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, job := range s.jobs() {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		_, err := c.AddFunc(job.Schedule, func() {
			if err := s.runJob(ctx, job.Name, s.cfg.JobTimeout, job.Run); err != nil {
				s.log.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.Name, job.Schedule, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
