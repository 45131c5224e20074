package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
)

// TripService handles business logic for trips
type TripService struct {
	repo    *repository.TripRepository
	fixRepo *repository.FixRepository
}

// NewTripService creates a new trip service
func NewTripService(repo *repository.TripRepository, fixRepo *repository.FixRepository) *TripService {
	return &TripService{repo: repo, fixRepo: fixRepo}
}

// GetTrips retrieves a subject's trips with filtering and pagination
func (s *TripService) GetTrips(ctx context.Context, subjectID string, filter models.TripFilter) (*models.TripsResponse, error) {
	if filter.Mode != "" {
		mode, ok := models.ParseTransportMode(filter.Mode)
		if !ok {
			return nil, &models.ValidationError{Field: "mode", Reason: "unknown transport mode " + filter.Mode}
		}
		filter.Mode = string(mode)
	}
	filter.Normalize()

	trips, total, err := s.repo.GetTrips(ctx, subjectID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get trips: %w", err)
	}

	return &models.TripsResponse{
		Data:       trips,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.PageSize))),
	}, nil
}

// GetTripByID retrieves one of a subject's trips
func (s *TripService) GetTripByID(ctx context.Context, subjectID, id string) (*models.Trip, error) {
	trip, err := s.repo.GetTripByID(ctx, subjectID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	if trip == nil {
		return nil, fmt.Errorf("%w: trip %s", ErrNotFound, id)
	}
	return trip, nil
}

// GetTripTrace returns a trip with the fixes recorded during it. Fixes the
// filter excluded are included; purged dates have none.
func (s *TripService) GetTripTrace(ctx context.Context, subjectID, id string) (*models.TripTrace, error) {
	trip, err := s.GetTripByID(ctx, subjectID, id)
	if err != nil {
		return nil, err
	}

	fixes, err := s.fixRepo.ListWindow(ctx, subjectID, trip.StartTime, trip.EndTime.Add(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("failed to get trip fixes: %w", err)
	}
	if fixes == nil {
		fixes = []models.Fix{}
	}

	return &models.TripTrace{Trip: *trip, Fixes: fixes}, nil
}
