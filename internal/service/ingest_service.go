package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jengzang/commute-trips-backend/internal/database"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
)

// IngestService validates and stores raw fixes
type IngestService struct {
	db        *sql.DB
	fixRepo   *repository.FixRepository
	loc       *time.Location
	clockSkew time.Duration
	now       func() time.Time
}

// NewIngestService creates a new ingest service. Local dates are computed
// in loc.
func NewIngestService(db *sql.DB, loc *time.Location, clockSkew time.Duration) *IngestService {
	return &IngestService{
		db:        db,
		fixRepo:   repository.NewFixRepository(db),
		loc:       loc,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

// Ingest stores a single fix
func (s *IngestService) Ingest(ctx context.Context, input models.FixInput) (*models.FixResult, error) {
	batch, err := s.IngestBatch(ctx, []models.FixInput{input})
	if err != nil {
		return nil, err
	}
	return &batch.Results[0], nil
}

// IngestBatch stores fixes in one transaction. Invalid fixes are rejected
// individually and duplicates of stored fixes are reported, neither aborts
// the batch.
func (s *IngestService) IngestBatch(ctx context.Context, inputs []models.FixInput) (*models.BatchResult, error) {
	now := s.now()
	result := &models.BatchResult{Results: make([]models.FixResult, len(inputs))}

	err := database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		*result = models.BatchResult{Results: make([]models.FixResult, len(inputs))}
		for i, input := range inputs {
			res := models.FixResult{Index: i}

			if err := input.Validate(now, s.clockSkew); err != nil {
				var verr *models.ValidationError
				if !errors.As(err, &verr) {
					return err
				}
				res.Status = models.FixStatusRejected
				res.Reason = verr.Error()
				result.Rejected++
				result.Results[i] = res
				continue
			}

			fix := input.ToFix(s.loc, now)
			inserted, err := s.fixRepo.Insert(ctx, tx, &fix)
			if err != nil {
				return fmt.Errorf("failed to store fix %d: %w", i, err)
			}
			if inserted {
				res.Status = models.FixStatusAccepted
				result.Accepted++
			} else {
				res.Status = models.FixStatusDuplicate
				result.Duplicates++
			}
			result.Results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest fixes: %w", err)
	}

	log.Debug().
		Str("component", "ingest").
		Int("accepted", result.Accepted).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected).
		Msg("Ingested fix batch")

	return result, nil
}
