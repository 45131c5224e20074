package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
)

// StatsService handles business logic for statistics
type StatsService struct {
	statsRepo *repository.StatsRepository
	unitRepo  *repository.AnalysisUnitRepository
	fixRepo   *repository.FixRepository
}

// NewStatsService creates a new stats service
func NewStatsService(statsRepo *repository.StatsRepository, unitRepo *repository.AnalysisUnitRepository, fixRepo *repository.FixRepository) *StatsService {
	return &StatsService{
		statsRepo: statsRepo,
		unitRepo:  unitRepo,
		fixRepo:   fixRepo,
	}
}

// GetSubjectStatistics summarises a subject's trips, analysis units and
// fixes over an optional date range
func (s *StatsService) GetSubjectStatistics(ctx context.Context, subjectID string, filter models.StatsFilter) (*models.SubjectStatistics, error) {
	// Validate date range
	for field, value := range map[string]string{"from": filter.From, "to": filter.To} {
		if value == "" {
			continue
		}
		if _, _, err := models.DayBounds(value, time.UTC); err != nil {
			return nil, &models.ValidationError{Field: field, Reason: "expected YYYY-MM-DD"}
		}
	}
	if filter.From != "" && filter.To != "" && filter.From > filter.To {
		return nil, &models.ValidationError{Field: "to", Reason: "before from"}
	}

	byMode, err := s.statsRepo.GetModeStatistics(ctx, subjectID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get mode statistics: %w", err)
	}
	commutes, err := s.statsRepo.GetCommuteTripCount(ctx, subjectID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get commute statistics: %w", err)
	}
	states, err := s.unitRepo.CountByState(ctx, subjectID, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit statistics: %w", err)
	}
	fixes, err := s.fixRepo.Counts(ctx, subjectID, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("failed to get fix statistics: %w", err)
	}

	stats := &models.SubjectStatistics{
		SubjectID:    subjectID,
		From:         filter.From,
		To:           filter.To,
		CommuteTrips: commutes,
		ByMode:       byMode,
		UnitStates:   states,
		Fixes:        fixes,
	}
	for _, m := range byMode {
		stats.TripCount += m.TripCount
		stats.TotalDistanceKm += m.TotalDistanceKm
		stats.CarbonEmissionKg += m.CarbonEmissionKg
	}
	return stats, nil
}
