package flavor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a named function run at a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs until its context is cancelled. Each job runs once
// immediately and then on every tick; a run never overlaps the previous run
// of the same job. A failing run is logged and retried on the next tick.
type Scheduler struct {
	jobs []Job
}

// NewScheduler returns a scheduler for jobs.
func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Add registers another job. It must be called before Run.
func (s *Scheduler) Add(j Job) {
	s.jobs = append(s.jobs, j)
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			runJob(ctx, j)
			return nil
		})
	}
	slog.Info("scheduler: started", "jobs", len(s.jobs))
	return g.Wait()
}

func runJob(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduler: job failed", "job", j.Name, "error", err)
		} else {
			slog.Debug("scheduler: job finished", "job", j.Name, "duration", time.Since(start))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
