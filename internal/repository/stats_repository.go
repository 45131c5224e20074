package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

// StatsRepository handles database operations for statistics
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func tripDateWhere(subjectID string, filter models.StatsFilter) (string, []interface{}) {
	conditions := []string{"subject_id = ?"}
	args := []interface{}{subjectID}
	if filter.From != "" {
		conditions = append(conditions, "trip_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "trip_date <= ?")
		args = append(args, filter.To)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// GetModeStatistics sums a subject's trips per transport mode
func (r *StatsRepository) GetModeStatistics(ctx context.Context, subjectID string, filter models.StatsFilter) ([]models.ModeStatistics, error) {
	where, args := tripDateWhere(subjectID, filter)
	query := `SELECT transport_mode, COUNT(*), COALESCE(SUM(distance_km), 0),
		COALESCE(SUM(duration_s), 0), COALESCE(SUM(carbon_emission_kg), 0)
		FROM trips` + where + `
		GROUP BY transport_mode
		ORDER BY transport_mode`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mode statistics: %w", err)
	}
	defer rows.Close()

	stats := []models.ModeStatistics{}
	for rows.Next() {
		var m models.ModeStatistics
		if err := rows.Scan(&m.TransportMode, &m.TripCount, &m.TotalDistanceKm, &m.TotalDurationS, &m.CarbonEmissionKg); err != nil {
			return nil, fmt.Errorf("failed to scan mode statistics: %w", err)
		}
		stats = append(stats, m)
	}

	return stats, rows.Err()
}

// GetCommuteTripCount counts a subject's trips categorised as commutes
func (r *StatsRepository) GetCommuteTripCount(ctx context.Context, subjectID string, filter models.StatsFilter) (int, error) {
	where, args := tripDateWhere(subjectID, filter)
	query := `SELECT COUNT(*) FROM trips` + where + ` AND trip_category IN (?, ?)`
	args = append(args, models.TripCategoryCommuteTo, models.TripCategoryCommuteFrom)

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count commute trips: %w", err)
	}
	return n, nil
}
