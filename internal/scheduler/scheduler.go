// Package scheduler triggers the periodic orchestrator jobs in-process.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

// RunFunc executes one job run
type RunFunc func(ctx context.Context) (*models.JobReport, error)

// Job is a periodic job
type Job struct {
	Name     models.JobName
	Interval time.Duration
	Run      RunFunc
}

// Jobs is implemented by service.AnalysisService
type Jobs interface {
	SyncRecent(ctx context.Context) (*models.JobReport, error)
	CatchUp(ctx context.Context) (*models.JobReport, error)
	Purge(ctx context.Context) (*models.JobReport, error)
}

// Scheduler runs each job on its own ticker. A job never overlaps with
// itself; different jobs run concurrently and rely on unit claims.
type Scheduler struct {
	jobs []Job
}

// New creates a scheduler for the sync, catch-up and purge jobs
func New(jobs Jobs, tuning *config.Tuning) *Scheduler {
	return NewWithJobs(
		Job{Name: models.JobSync, Interval: tuning.GetSyncInterval(), Run: jobs.SyncRecent},
		Job{Name: models.JobCatchUp, Interval: tuning.GetCatchUpInterval(), Run: jobs.CatchUp},
		Job{Name: models.JobPurge, Interval: tuning.GetPurgeInterval(), Run: jobs.Purge},
	)
}

// NewWithJobs creates a scheduler for arbitrary jobs. Jobs with a zero
// interval are disabled.
func NewWithJobs(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Run blocks until ctx is cancelled. Every job runs once at start.
func (s *Scheduler) Run(ctx context.Context) {
	var wg conc.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			log.Info().Str("component", "scheduler").Str("job", string(job.Name)).Msg("Job disabled")
			continue
		}
		wg.Go(func() { s.loop(ctx, job) })
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log.Info().
		Str("component", "scheduler").
		Str("job", string(job.Name)).
		Dur("interval", job.Interval).
		Msg("Job scheduled")

	t := time.NewTicker(job.Interval)
	defer t.Stop()

	for {
		s.runOnce(ctx, job)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if _, err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("component", "scheduler").Str("job", string(job.Name)).Msg("Job run failed")
	}
}
