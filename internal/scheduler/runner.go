package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/metrics"
)

// RunnerParams configure the cron runner.
type RunnerParams struct {
	Logger   *logger.Logger
	Metrics  *metrics.JobMetrics
	Location *time.Location
	// Locks maps a job name to the lock guarding it. Jobs without one run
	// unguarded.
	Locks map[string]Lock
}

// Runner executes registered jobs on cron schedules (six fields, seconds
// first).
type Runner struct {
	cron    *cron.Cron
	logg    *logger.Logger
	metrics *metrics.JobMetrics
	locks   map[string]Lock
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	locks := params.Locks
	if locks == nil {
		locks = map[string]Lock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(location)),
		logg:    params.Logger,
		metrics: params.Metrics,
		locks:   locks,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Schedule registers job under spec.
func (r *Runner) Schedule(spec string, job Job) error {
	if job == nil {
		return errors.New("job required")
	}
	_, err := r.cron.AddFunc(spec, func() {
		r.RunOnce(r.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	return nil
}

// Start begins firing schedules in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop prevents new runs, cancels running jobs and waits for them to return
// or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	r.cancel()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs job now if its lock can be taken and reports the outcome.
func (r *Runner) RunOnce(ctx context.Context, job Job) error {
	jobCtx := r.logg.WithField(ctx, "job", job.Name())

	if lock, ok := r.locks[job.Name()]; ok && lock != nil {
		locked, err := lock.Acquire(jobCtx)
		if err != nil {
			r.logg.Error(jobCtx, "lock acquire failed", err)
			r.metrics.IncFailure(job.Name())
			return fmt.Errorf("lock acquire: %w", err)
		}
		if !locked {
			r.logg.Info(jobCtx, "another instance holds the lock; skipping")
			r.metrics.IncSkipped(job.Name())
			return nil
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(jobCtx)); relErr != nil {
				r.logg.Error(jobCtx, "failed to release job lock", relErr)
			}
		}()
	}

	r.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	r.metrics.ObserveDuration(job.Name(), duration)

	jobCtx = r.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		r.logg.Error(jobCtx, "job failed", err)
		r.metrics.IncFailure(job.Name())
		return err
	}
	r.logg.Info(jobCtx, "job completed")
	r.metrics.IncSuccess(job.Name())
	return nil
}
