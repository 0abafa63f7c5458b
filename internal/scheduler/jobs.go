package scheduler

import (
	"context"
	"time"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/pkg/clock"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Sweeper runs one overdue sweep as of now.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time) (*domain.SweepResult, error)
}

const SweepJobName = "overdue_sweep"

// SweepJob flags overdue loans and refreshes accruing fines.
type SweepJob struct {
	sweeper Sweeper
	clock   clock.Clock
}

func NewSweepJob(sweeper Sweeper, clk clock.Clock) *SweepJob {
	return &SweepJob{sweeper: sweeper, clock: clk}
}

func (j *SweepJob) Name() string { return SweepJobName }

func (j *SweepJob) Run(ctx context.Context) error {
	_, err := j.sweeper.RunSweep(ctx, j.clock.Now())
	return err
}
