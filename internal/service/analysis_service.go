package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jengzang/commute-trips-backend/internal/analysis"
	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/database"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
)

// AnalysisService runs the trip pipeline per (subject, date) and owns the
// unit state machine: unanalyzed -> analyzing -> committed, with failed
// runs parked as failed until catch-up resets them.
type AnalysisService struct {
	db       *sql.DB
	fixRepo  *repository.FixRepository
	tripRepo *repository.TripRepository
	unitRepo *repository.AnalysisUnitRepository
	jobRepo  *repository.JobRunRepository
	pipeline *analysis.Pipeline
	tuning   *config.Tuning
	loc      *time.Location
	now      func() time.Time
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(db *sql.DB, pipeline *analysis.Pipeline, tuning *config.Tuning, loc *time.Location) *AnalysisService {
	return &AnalysisService{
		db:       db,
		fixRepo:  repository.NewFixRepository(db),
		tripRepo: repository.NewTripRepository(db),
		unitRepo: repository.NewAnalysisUnitRepository(db),
		jobRepo:  repository.NewJobRunRepository(db),
		pipeline: pipeline,
		tuning:   tuning,
		loc:      loc,
		now:      time.Now,
	}
}

// AnalyzeDate re-derives the trips of one (subject, date). The date's trip
// set is replaced atomically; on any failure the previous set is kept.
func (s *AnalysisService) AnalyzeDate(ctx context.Context, subjectID, date string) (*models.AnalysisResult, error) {
	return s.analyzeDate(ctx, subjectID, date, true)
}

// analyzeDate runs one unit. With follow set, a neighbouring date whose
// stored trips disagree with a trip stitched across midnight is analysed
// again, once.
func (s *AnalysisService) analyzeDate(ctx context.Context, subjectID, date string, follow bool) (*models.AnalysisResult, error) {
	dayStart, dayEnd, err := models.DayBounds(date, s.loc)
	if err != nil {
		return nil, err
	}
	if subjectID == "" {
		return nil, &models.ValidationError{Field: "subject_id", Reason: "required"}
	}

	unit, err := s.unitRepo.Claim(ctx, subjectID, date, s.now(), s.tuning.GetAnalysisLease())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrAnalysisConflict, err)
		}
		return nil, fmt.Errorf("failed to claim unit: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.tuning.GetAnalysisBudget())
	defer cancel()

	window := analysis.Window{SubjectID: subjectID, Date: date, DayStart: dayStart, DayEnd: dayEnd}
	result, run, err := s.analyze(runCtx, window, unit.Version)
	if err == nil {
		log.Info().
			Str("component", "orchestrator").
			Str("subject_id", subjectID).
			Str("date", date).
			Int("trips", result.TripCount).
			Int64("version", unit.Version).
			Msg("Analysis committed")
		if follow {
			s.reconcileNeighbours(ctx, window, run)
		}
		return result, nil
	}

	if errors.Is(err, repository.ErrConflict) {
		// The lease ran out and another worker took over
		return nil, fmt.Errorf("%w: %v", ErrAnalysisConflict, err)
	}

	// Record the failure even when the caller's context is gone
	if markErr := s.unitRepo.MarkFailed(context.WithoutCancel(ctx), subjectID, date, unit.Version, err.Error(), s.now()); markErr != nil {
		log.Warn().Err(markErr).Str("subject_id", subjectID).Str("date", date).Msg("Failed to mark unit failed")
	}
	log.Error().
		Err(err).
		Str("component", "orchestrator").
		Str("subject_id", subjectID).
		Str("date", date).
		Msg("Analysis failed")

	return &models.AnalysisResult{
		SubjectID: subjectID,
		Date:      date,
		Outcome:   models.OutcomeFailed,
		Version:   unit.Version,
		Error:     err.Error(),
	}, fmt.Errorf("failed to analyse %s/%s: %w", subjectID, date, err)
}

func (s *AnalysisService) analyze(ctx context.Context, w analysis.Window, version int64) (*models.AnalysisResult, *analysis.Result, error) {
	pad := s.tuning.GetStitchWindow()
	fixes, err := s.fixRepo.ListWindow(ctx, w.SubjectID, w.DayStart.Add(-pad), w.DayEnd.Add(pad))
	if err != nil {
		return nil, nil, err
	}

	// Only the date's own fixes are consumed; stitching padding belongs to
	// the neighbouring units
	var maxID int64
	dayFixes := 0
	for _, f := range fixes {
		if f.LocalDate != w.Date {
			continue
		}
		dayFixes++
		if f.ID > maxID {
			maxID = f.ID
		}
	}

	res, err := s.pipeline.Run(ctx, w, fixes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run pipeline: %w", err)
	}

	err = database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tripRepo.ReplaceForDate(ctx, tx, w.SubjectID, w.Date, res.Trips); err != nil {
			return err
		}
		if maxID > 0 {
			if _, err := s.fixRepo.MarkProcessed(ctx, tx, w.SubjectID, w.Date, maxID); err != nil {
				return err
			}
		}
		return s.unitRepo.Commit(ctx, tx, w.SubjectID, w.Date, version, len(res.Trips), s.now())
	})
	if err != nil {
		return nil, nil, err
	}

	return &models.AnalysisResult{
		SubjectID:     w.SubjectID,
		Date:          w.Date,
		Outcome:       models.OutcomeCommitted,
		TripCount:     len(res.Trips),
		FixesAnalyzed: dayFixes,
		FixesExcluded: res.Excluded,
		Version:       version,
	}, res, nil
}

// reconcileNeighbours re-analyses the previous date when the trip running
// into this date is not stored there as seen now, and the next date when
// one of its trips starts inside the trip this date carries past midnight.
func (s *AnalysisService) reconcileNeighbours(ctx context.Context, w analysis.Window, run *analysis.Result) {
	if run == nil {
		return
	}
	if in := run.CarriedIn; in != nil {
		prev := models.LocalDate(w.DayStart.Add(-time.Second), s.loc)
		trip, err := s.tripRepo.GetTripByID(ctx, w.SubjectID, analysis.TripID(w.SubjectID, prev, in.Start, in.End))
		if err != nil {
			log.Warn().Err(err).Str("subject_id", w.SubjectID).Str("date", prev).Msg("Failed to check stitched trip")
		} else if trip == nil {
			s.followUp(ctx, w.SubjectID, prev)
		}
	}
	if out := run.CarriedOut; out != nil {
		next := models.LocalDate(w.DayEnd, s.loc)
		trips, err := s.tripRepo.ListForDate(ctx, w.SubjectID, next)
		if err != nil {
			log.Warn().Err(err).Str("subject_id", w.SubjectID).Str("date", next).Msg("Failed to check stitched trip")
			return
		}
		for _, t := range trips {
			if t.StartTime.Before(out.End) {
				s.followUp(ctx, w.SubjectID, next)
				break
			}
		}
	}
}

func (s *AnalysisService) followUp(ctx context.Context, subjectID, date string) {
	_, err := s.analyzeDate(ctx, subjectID, date, false)
	switch {
	case err == nil:
		log.Info().Str("component", "orchestrator").Str("subject_id", subjectID).Str("date", date).Msg("Neighbour re-analysed for stitched trip")
	case errors.Is(err, ErrAnalysisConflict):
		log.Debug().Err(err).Str("subject_id", subjectID).Str("date", date).Msg("Neighbour busy, left to jobs")
	default:
		log.Warn().Err(err).Str("subject_id", subjectID).Str("date", date).Msg("Neighbour re-analysis failed")
	}
}

// AnalyzeRange analyses every date in [from, to]. Per-date conflicts and
// failures are reported in the results; only an invalid range or a
// cancelled context returns an error.
func (s *AnalysisService) AnalyzeRange(ctx context.Context, subjectID, from, to string) ([]models.AnalysisResult, error) {
	dates, err := s.dateRange(from, to)
	if err != nil {
		return nil, err
	}

	results := make([]models.AnalysisResult, 0, len(dates))
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := s.AnalyzeDate(ctx, subjectID, date)
		switch {
		case err == nil:
			results = append(results, *res)
		case errors.Is(err, ErrAnalysisConflict):
			results = append(results, models.AnalysisResult{
				SubjectID: subjectID, Date: date, Outcome: models.OutcomeDeferred, Error: err.Error(),
			})
		case res != nil:
			results = append(results, *res)
		default:
			return results, err
		}
	}
	return results, nil
}

func (s *AnalysisService) dateRange(from, to string) ([]string, error) {
	start, _, err := models.DayBounds(from, s.loc)
	if err != nil {
		return nil, &models.ValidationError{Field: "from", Reason: "expected YYYY-MM-DD"}
	}
	end, _, err := models.DayBounds(to, s.loc)
	if err != nil {
		return nil, &models.ValidationError{Field: "to", Reason: "expected YYYY-MM-DD"}
	}
	if end.Before(start) {
		return nil, &models.ValidationError{Field: "to", Reason: "before from"}
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, models.LocalDate(d, s.loc))
		if len(dates) > s.tuning.Analysis.MaxRangeDays {
			return nil, &models.ValidationError{
				Field:  "to",
				Reason: fmt.Sprintf("range exceeds %d days", s.tuning.Analysis.MaxRangeDays),
			}
		}
	}
	return dates, nil
}

// DeleteTrips removes the trips of a date. confirm must repeat the date.
// The unit returns to unanalyzed while its fixes stay processed, so
// background jobs do not rebuild the trips.
func (s *AnalysisService) DeleteTrips(ctx context.Context, subjectID, date, confirm string) (int64, error) {
	if _, _, err := models.DayBounds(date, s.loc); err != nil {
		return 0, err
	}
	if confirm != date {
		return 0, fmt.Errorf("%w: confirm must repeat the date %s", ErrConfirmationRequired, date)
	}

	unit, err := s.unitRepo.Claim(ctx, subjectID, date, s.now(), s.tuning.GetAnalysisLease())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, fmt.Errorf("%w: %v", ErrAnalysisConflict, err)
		}
		return 0, fmt.Errorf("failed to claim unit: %w", err)
	}

	var deleted int64
	err = database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if deleted, err = s.tripRepo.DeleteForDate(ctx, tx, subjectID, date); err != nil {
			return err
		}
		return s.unitRepo.Reset(ctx, tx, subjectID, date, unit.Version, s.now())
	})
	if err != nil {
		if markErr := s.unitRepo.MarkFailed(context.WithoutCancel(ctx), subjectID, date, unit.Version, err.Error(), s.now()); markErr != nil {
			log.Warn().Err(markErr).Str("subject_id", subjectID).Str("date", date).Msg("Failed to mark unit failed")
		}
		return 0, fmt.Errorf("failed to delete trips: %w", err)
	}

	log.Info().
		Str("component", "orchestrator").
		Str("subject_id", subjectID).
		Str("date", date).
		Int64("trips", deleted).
		Msg("Trips deleted")
	return deleted, nil
}

// PurgeDate deletes the raw fixes of a committed date. Dates that are not
// committed, or that received fixes since, fail with ErrRetentionViolation.
func (s *AnalysisService) PurgeDate(ctx context.Context, subjectID, date string) (int64, error) {
	var purged int64
	err := database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		unit, err := s.unitRepo.Get(ctx, tx, subjectID, date)
		if err != nil {
			return err
		}
		if unit == nil || unit.State != models.UnitStateCommitted {
			state := "never analysed"
			if unit != nil {
				state = string(unit.State)
			}
			return fmt.Errorf("%w: %s/%s is %s", ErrRetentionViolation, subjectID, date, state)
		}

		pending, err := s.fixRepo.CountUnprocessed(ctx, tx, subjectID, date)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: %s/%s has %d unprocessed fixes", ErrRetentionViolation, subjectID, date, pending)
		}

		purged, err = s.fixRepo.DeleteForDate(ctx, tx, subjectID, date)
		return err
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
