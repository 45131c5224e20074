package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

type unitOutcome struct {
	key       models.UnitKey
	outcome   models.AnalysisOutcome
	violation bool
	purged    int64
	err       error
}

// SyncRecent analyses units with unprocessed fixes from the recent lookback.
// Outside the active-hours window it does nothing and reports skipped.
func (s *AnalysisService) SyncRecent(ctx context.Context) (*models.JobReport, error) {
	return s.runJob(ctx, models.JobSync, func(ctx context.Context, now time.Time, report *models.JobReport) error {
		hour := now.In(s.loc).Hour()
		if hour < s.tuning.Jobs.ActiveHoursStart || hour >= s.tuning.Jobs.ActiveHoursEnd {
			report.Status = models.JobStatusSkipped
			return nil
		}

		since := models.LocalDate(now.Add(-s.tuning.GetRecentLookback()), s.loc)
		keys, err := s.pendingUnits(ctx, since)
		if err != nil {
			return err
		}
		s.analyzeUnits(ctx, keys, report)
		return nil
	})
}

// CatchUp resets failed units and analyses every unit with unprocessed
// fixes in the catch-up lookback, which picks up batches uploaded late.
func (s *AnalysisService) CatchUp(ctx context.Context) (*models.JobReport, error) {
	return s.runJob(ctx, models.JobCatchUp, func(ctx context.Context, now time.Time, report *models.JobReport) error {
		since := models.LocalDate(now.AddDate(0, 0, -s.tuning.Jobs.CatchUpLookbackDays), s.loc)

		reset, err := s.unitRepo.ResetFailed(ctx, since, now)
		if err != nil {
			return err
		}
		pending, err := s.pendingUnits(ctx, since)
		if err != nil {
			return err
		}

		s.analyzeUnits(ctx, mergeKeys(reset, pending), report)
		return nil
	})
}

// Purge deletes raw fixes older than the retention horizon for committed
// dates. Dates still needing their fixes are listed as violations.
func (s *AnalysisService) Purge(ctx context.Context) (*models.JobReport, error) {
	return s.runJob(ctx, models.JobPurge, func(ctx context.Context, now time.Time, report *models.JobReport) error {
		before := models.LocalDate(now.AddDate(0, 0, -s.tuning.Retention.HorizonDays), s.loc)
		keys, err := s.fixRepo.PurgeCandidates(ctx, before)
		if err != nil {
			return err
		}

		s.forEachUnit(ctx, keys, report, func(ctx context.Context, key models.UnitKey) unitOutcome {
			n, err := s.PurgeDate(ctx, key.SubjectID, key.Date)
			switch {
			case errors.Is(err, ErrRetentionViolation):
				return unitOutcome{key: key, violation: true}
			case err != nil:
				return unitOutcome{key: key, err: err}
			}
			return unitOutcome{key: key, outcome: models.OutcomeCommitted, purged: n}
		})
		return nil
	})
}

// pendingUnits lists units with unprocessed fixes. With stitching on, new
// fixes within the stitch window of midnight can change a trip owned by the
// neighbouring date, so that date is queued too.
func (s *AnalysisService) pendingUnits(ctx context.Context, sinceDate string) ([]models.UnitKey, error) {
	spans, err := s.fixRepo.PendingUnits(ctx, sinceDate)
	if err != nil {
		return nil, err
	}

	pad := s.tuning.GetStitchWindow()
	keys := make([]models.UnitKey, 0, len(spans))
	var neighbours []models.UnitKey
	for _, span := range spans {
		keys = append(keys, span.UnitKey)
		if pad <= 0 {
			continue
		}

		dayStart, dayEnd, err := models.DayBounds(span.Date, s.loc)
		if err != nil {
			return nil, err
		}
		if span.First.Before(dayStart.Add(pad)) {
			neighbours = append(neighbours, models.UnitKey{
				SubjectID: span.SubjectID,
				Date:      models.LocalDate(dayStart.Add(-time.Second), s.loc),
			})
		}
		if !span.Last.Before(dayEnd.Add(-pad)) {
			neighbours = append(neighbours, models.UnitKey{
				SubjectID: span.SubjectID,
				Date:      models.LocalDate(dayEnd, s.loc),
			})
		}
	}
	if len(neighbours) == 0 {
		return keys, nil
	}
	return mergeKeys(keys, neighbours), nil
}

func (s *AnalysisService) analyzeUnits(ctx context.Context, keys []models.UnitKey, report *models.JobReport) {
	s.forEachUnit(ctx, keys, report, func(ctx context.Context, key models.UnitKey) unitOutcome {
		res, err := s.AnalyzeDate(ctx, key.SubjectID, key.Date)
		switch {
		case errors.Is(err, ErrAnalysisConflict):
			return unitOutcome{key: key, outcome: models.OutcomeDeferred}
		case err != nil:
			return unitOutcome{key: key, err: err}
		}
		return unitOutcome{key: key, outcome: res.Outcome}
	})
}

// forEachUnit runs fn for every unit on a bounded pool and folds the
// outcomes into report. A failing unit never affects the others.
func (s *AnalysisService) forEachUnit(ctx context.Context, keys []models.UnitKey, report *models.JobReport, fn func(context.Context, models.UnitKey) unitOutcome) {
	p := pool.NewWithResults[unitOutcome]().WithMaxGoroutines(s.tuning.Jobs.MaxWorkers)
	for _, key := range keys {
		p.Go(func() unitOutcome {
			if err := ctx.Err(); err != nil {
				return unitOutcome{key: key, err: err}
			}
			return fn(ctx, key)
		})
	}

	report.UnitsTotal += len(keys)
	for _, o := range p.Wait() {
		switch {
		case o.err != nil:
			report.Failed++
			report.Failures = append(report.Failures, models.UnitFailure{UnitKey: o.key, Reason: o.err.Error()})
			log.Warn().
				Err(o.err).
				Str("component", "jobs").
				Str("job", string(report.Job)).
				Str("subject_id", o.key.SubjectID).
				Str("date", o.key.Date).
				Msg("Unit failed")
		case o.violation:
			report.Skipped++
			report.Violations = append(report.Violations, o.key)
		case o.outcome == models.OutcomeDeferred:
			report.Deferred++
		default:
			report.Succeeded++
			report.FixesPurged += o.purged
		}
	}

	sort.Slice(report.Failures, func(i, j int) bool { return lessKey(report.Failures[i].UnitKey, report.Failures[j].UnitKey) })
	sort.Slice(report.Violations, func(i, j int) bool { return lessKey(report.Violations[i], report.Violations[j]) })
}

// runJob persists a JobRun around body and turns it into a report
func (s *AnalysisService) runJob(ctx context.Context, job models.JobName, body func(context.Context, time.Time, *models.JobReport) error) (*models.JobReport, error) {
	started := s.now()
	report := &models.JobReport{
		RunID:     uuid.NewString(),
		Job:       job,
		Status:    models.JobStatusCompleted,
		StartedAt: started,
	}

	run := &models.JobRun{ID: report.RunID, Job: job, Status: models.JobStatusRunning, StartedAt: started}
	if err := s.jobRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record job run: %w", err)
	}

	bodyErr := body(ctx, started, report)
	if bodyErr != nil {
		report.Status = models.JobStatusFailed
	}
	report.FinishedAt = s.now()

	if err := s.finishRun(context.WithoutCancel(ctx), run, report); err != nil {
		log.Warn().Err(err).Str("component", "jobs").Str("run_id", run.ID).Msg("Failed to finish job run")
	}

	log.Info().
		Str("component", "jobs").
		Str("job", string(job)).
		Str("status", report.Status).
		Int("units", report.UnitsTotal).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("deferred", report.Deferred).
		Int("skipped", report.Skipped).
		Int64("fixes_purged", report.FixesPurged).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Job finished")

	if bodyErr != nil {
		return report, fmt.Errorf("failed to run %s job: %w", job, bodyErr)
	}
	return report, nil
}

func (s *AnalysisService) finishRun(ctx context.Context, run *models.JobRun, report *models.JobReport) error {
	summary, err := json.Marshal(struct {
		Failures   []models.UnitFailure `json:"failures,omitempty"`
		Violations []models.UnitKey     `json:"violations,omitempty"`
	}{report.Failures, report.Violations})
	if err != nil {
		return fmt.Errorf("failed to encode job summary: %w", err)
	}

	finished := report.FinishedAt
	run.Status = report.Status
	run.FinishedAt = &finished
	run.UnitsTotal = report.UnitsTotal
	run.Succeeded = report.Succeeded
	run.Failed = report.Failed
	run.Deferred = report.Deferred
	run.Skipped = report.Skipped
	run.FixesPurged = report.FixesPurged
	run.SummaryJSON = string(summary)
	return s.jobRepo.Finish(ctx, run)
}

// ListJobRuns retrieves recent job runs, optionally for one job
func (s *AnalysisService) ListJobRuns(ctx context.Context, job models.JobName, limit, offset int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobRepo.List(ctx, job, limit, offset)
}

func mergeKeys(sets ...[]models.UnitKey) []models.UnitKey {
	seen := map[models.UnitKey]bool{}
	var merged []models.UnitKey
	for _, set := range sets {
		for _, k := range set {
			if !seen[k] {
				seen[k] = true
				merged = append(merged, k)
			}
		}
	}
	sort.Slice(merged, func(i, j int) bool { return lessKey(merged[i], merged[j]) })
	return merged
}

func lessKey(a, b models.UnitKey) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	return a.SubjectID < b.SubjectID
}
