package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/segyhp/library-engine/internal/bootstrap"
	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/scheduler"
	"github.com/segyhp/library-engine/internal/service"
	"github.com/segyhp/library-engine/pkg/clock"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/metrics"
)

const (
	serviceName  = "library-scheduler"
	stopDeadline = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns only after its deferred closers have run. Failures are logged
// here; the returned error only sets the exit code.
func run() error {
	once := flag.Bool("once", false, "run the overdue sweep once and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return resourceFailed(context.Background(), logg, "config", err)
	}

	logg = bootstrap.NewLogger(cfg, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.Server.Env,
		"schedule": cfg.Scheduler.SweepSchedule,
	})

	store, err := bootstrap.OpenStore(ctx, cfg, logg)
	if err != nil {
		return resourceFailed(ctx, logg, "database", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	policy, err := fine.PolicyFromConfig(cfg)
	if err != nil {
		return resourceFailed(ctx, logg, "fine policy", err)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	sweeper := service.NewSweepService(store.Loans, policy, service.SettingsFromConfig(cfg), jobMetrics, logg)
	sweepJob := scheduler.NewSweepJob(sweeper, clock.New())

	// Only one scheduler instance may sweep at a time
	locks := map[string]scheduler.Lock{}
	redisClient, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		return resourceFailed(ctx, logg, "redis", err)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		lock, err := scheduler.NewRedisLock(redisClient, scheduler.LockKey(sweepJob.Name()), cfg.GetSweepLockTTL())
		if err != nil {
			return resourceFailed(ctx, logg, "sweep lock", err)
		}
		locks[sweepJob.Name()] = lock
	} else {
		logg.Warn(ctx, "redis not configured; sweeps run without a distributed lock")
	}

	runner, err := scheduler.NewRunner(scheduler.RunnerParams{
		Logger:   logg,
		Metrics:  jobMetrics,
		Location: cfg.GetSchedulerLocation(),
		Locks:    locks,
	})
	if err != nil {
		return resourceFailed(ctx, logg, "scheduler", err)
	}

	if *once {
		if err := runner.RunOnce(ctx, sweepJob); err != nil {
			logg.Error(ctx, "sweep failed", err)
			return err
		}
		return nil
	}

	if err := runner.Schedule(cfg.Scheduler.SweepSchedule, sweepJob); err != nil {
		return resourceFailed(ctx, logg, "sweep schedule", err)
	}

	runner.Start()
	logg.Info(ctx, "scheduler started")

	<-ctx.Done()
	logg.Info(ctx, "shutting down scheduler")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopDeadline)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		logg.Error(ctx, "scheduler stopped before jobs finished", err)
		return nil
	}
	logg.Info(ctx, "scheduler stopped")
	return nil
}

func resourceFailed(ctx context.Context, logg *logger.Logger, resource string, err error) error {
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	return err
}
