package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work. Implementations must be safe to call
// again if the previous run is still in flight.
type Job interface {
	Name() string
	Run(ctx context.Context)
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context)
}

func (j JobFunc) Name() string            { return j.JobName }
func (j JobFunc) Run(ctx context.Context) { j.Fn(ctx) }

// Scheduler fires a job on a fixed interval until the context is cancelled.
// One scheduler per job; Start blocks, so callers run it in a goroutine.
type Scheduler struct {
	job      Job
	interval time.Duration
	log      *zap.Logger
}

func New(job Job, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{job: job, interval: interval, log: log}
}

// Start runs the job immediately, then on every tick, and returns when ctx is
// done.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", zap.String("job", s.job.Name()), zap.Duration("interval", s.interval))

	s.job.Run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", zap.String("job", s.job.Name()))
			return
		case <-ticker.C:
			s.job.Run(ctx)
		}
	}
}
