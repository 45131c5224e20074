package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

const tripColumns = `id, subject_id, trip_date, trip_number, start_time, end_time, duration_s,
	start_lat, start_lon, end_lat, end_lon, distance_km, avg_speed_kmh, max_speed_kmh,
	transport_mode, confidence, classified_by, emission_factor, carbon_emission_kg,
	trip_category, fix_count, algo_version`

// TripRepository handles database operations for trips
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// ReplaceForDate swaps the trips of one (subject, date) for trips. Run it
// inside a transaction so readers never see a partial set.
func (r *TripRepository) ReplaceForDate(ctx context.Context, q DBTX, subjectID, date string, trips []models.Trip) error {
	if _, err := r.DeleteForDate(ctx, q, subjectID, date); err != nil {
		return err
	}

	query := `INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, t := range trips {
		_, err := q.ExecContext(ctx, query,
			t.ID, t.SubjectID, t.TripDate, t.TripNumber,
			toMillis(t.StartTime), toMillis(t.EndTime), t.DurationS,
			t.StartLat, t.StartLon, t.EndLat, t.EndLon,
			t.DistanceKm, t.AvgSpeedKmh, t.MaxSpeedKmh,
			t.TransportMode, t.Confidence, t.ClassifiedBy,
			t.EmissionFactor, t.CarbonEmissionKg,
			t.TripCategory, t.FixCount, t.AlgoVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trip %d: %w", t.TripNumber, err)
		}
	}
	return nil
}

// DeleteForDate removes the trips of one (subject, date)
func (r *TripRepository) DeleteForDate(ctx context.Context, q DBTX, subjectID, date string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM trips WHERE subject_id = ? AND trip_date = ?`,
		subjectID, date,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete trips: %w", err)
	}
	return result.RowsAffected()
}

// GetTrips retrieves a subject's trips with filtering and pagination
func (r *TripRepository) GetTrips(ctx context.Context, subjectID string, filter models.TripFilter) ([]models.Trip, int64, error) {
	conditions := []string{"subject_id = ?"}
	args := []interface{}{subjectID}

	// Add filters
	if filter.Date != "" {
		conditions = append(conditions, "trip_date = ?")
		args = append(args, filter.Date)
	}
	if filter.From != "" {
		conditions = append(conditions, "trip_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "trip_date <= ?")
		args = append(args, filter.To)
	}
	if filter.Mode != "" {
		conditions = append(conditions, "transport_mode = ?")
		args = append(args, filter.Mode)
	}
	if filter.Category != "" {
		conditions = append(conditions, "trip_category = ?")
		args = append(args, filter.Category)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	// Get total count
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trips"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	filter.Normalize()
	offset := (filter.Page - 1) * filter.PageSize
	query := "SELECT " + tripColumns + " FROM trips" + where +
		" ORDER BY start_time DESC LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, offset)

	trips, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return trips, total, nil
}

// ListForDate returns the trips of one (subject, date) in trip order
func (r *TripRepository) ListForDate(ctx context.Context, subjectID, date string) ([]models.Trip, error) {
	return r.query(ctx,
		"SELECT "+tripColumns+" FROM trips WHERE subject_id = ? AND trip_date = ? ORDER BY trip_number",
		subjectID, date,
	)
}

// GetTripByID retrieves one of a subject's trips. It returns nil when the
// trip does not exist or belongs to someone else.
func (r *TripRepository) GetTripByID(ctx context.Context, subjectID, id string) (*models.Trip, error) {
	trips, err := r.query(ctx,
		"SELECT "+tripColumns+" FROM trips WHERE id = ? AND subject_id = ?",
		id, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return &trips[0], nil
}

func (r *TripRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Trip, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	trips := []models.Trip{}
	for rows.Next() {
		var (
			t          models.Trip
			start, end int64
		)
		err := rows.Scan(
			&t.ID, &t.SubjectID, &t.TripDate, &t.TripNumber, &start, &end, &t.DurationS,
			&t.StartLat, &t.StartLon, &t.EndLat, &t.EndLon,
			&t.DistanceKm, &t.AvgSpeedKmh, &t.MaxSpeedKmh,
			&t.TransportMode, &t.Confidence, &t.ClassifiedBy,
			&t.EmissionFactor, &t.CarbonEmissionKg,
			&t.TripCategory, &t.FixCount, &t.AlgoVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.StartTime = fromMillis(start)
		t.EndTime = fromMillis(end)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trips: %w", err)
	}

	return trips, nil
}
