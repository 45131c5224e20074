package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

// AnalysisUnitRepository persists the per-(subject, date) analysis state.
// Every transition after a claim is guarded by the version the claim
// returned, so a stale worker can never overwrite a newer run.
type AnalysisUnitRepository struct {
	db *sql.DB
}

// NewAnalysisUnitRepository creates a new analysis unit repository
func NewAnalysisUnitRepository(db *sql.DB) *AnalysisUnitRepository {
	return &AnalysisUnitRepository{db: db}
}

// Get returns a unit, or nil if it was never touched
func (r *AnalysisUnitRepository) Get(ctx context.Context, q DBTX, subjectID, date string) (*models.AnalysisUnit, error) {
	query := `SELECT subject_id, unit_date, state, version, lease_until, trip_count,
			attempts, last_error, analyzed_at, updated_at
		FROM analysis_units WHERE subject_id = ? AND unit_date = ?`

	var (
		u                      models.AnalysisUnit
		leaseUntil, analyzedAt sql.NullInt64
		lastError              sql.NullString
		updatedAt              int64
	)
	err := q.QueryRowContext(ctx, query, subjectID, date).Scan(
		&u.SubjectID, &u.UnitDate, &u.State, &u.Version, &leaseUntil, &u.TripCount,
		&u.Attempts, &lastError, &analyzedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis unit: %w", err)
	}

	u.LeaseUntil = fromNullMillis(leaseUntil)
	u.AnalyzedAt = fromNullMillis(analyzedAt)
	u.LastError = lastError.String
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// Claim moves a unit to analyzing and bumps its version. It fails with
// ErrConflict when another worker holds a live lease or wins the race.
func (r *AnalysisUnitRepository) Claim(ctx context.Context, subjectID, date string, now time.Time, lease time.Duration) (*models.AnalysisUnit, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO analysis_units (subject_id, unit_date, state, version, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (subject_id, unit_date) DO NOTHING`,
		subjectID, date, models.UnitStateUnanalyzed, toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis unit: %w", err)
	}

	unit, err := r.Get(ctx, r.db, subjectID, date)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: unit %s/%s vanished", ErrConflict, subjectID, date)
	}
	if unit.State == models.UnitStateAnalyzing && unit.LeaseUntil != nil && unit.LeaseUntil.After(now) {
		return nil, fmt.Errorf("%w: unit %s/%s is being analysed until %s",
			ErrConflict, subjectID, date, unit.LeaseUntil.Format(time.RFC3339))
	}

	leaseUntil := now.Add(lease)
	result, err := r.db.ExecContext(ctx,
		`UPDATE analysis_units
		SET state = ?, version = version + 1, lease_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE subject_id = ? AND unit_date = ? AND version = ?`,
		models.UnitStateAnalyzing, toMillis(leaseUntil), toMillis(now),
		subjectID, date, unit.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim analysis unit: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: unit %s/%s was claimed concurrently", ErrConflict, subjectID, date)
	}

	unit.State = models.UnitStateAnalyzing
	unit.Version++
	unit.LeaseUntil = &leaseUntil
	unit.Attempts++
	unit.UpdatedAt = now
	return unit, nil
}

// Commit marks a claimed unit committed
func (r *AnalysisUnitRepository) Commit(ctx context.Context, q DBTX, subjectID, date string, version int64, tripCount int, now time.Time) error {
	return r.transition(ctx, q,
		`UPDATE analysis_units
		SET state = ?, lease_until = NULL, trip_count = ?, last_error = NULL, analyzed_at = ?, updated_at = ?
		WHERE subject_id = ? AND unit_date = ? AND version = ? AND state = ?`,
		models.UnitStateCommitted, tripCount, toMillis(now), toMillis(now),
		subjectID, date, version, models.UnitStateAnalyzing,
	)
}

// MarkFailed records a failed run on a claimed unit
func (r *AnalysisUnitRepository) MarkFailed(ctx context.Context, subjectID, date string, version int64, reason string, now time.Time) error {
	return r.transition(ctx, r.db,
		`UPDATE analysis_units
		SET state = ?, lease_until = NULL, last_error = ?, updated_at = ?
		WHERE subject_id = ? AND unit_date = ? AND version = ? AND state = ?`,
		models.UnitStateFailed, reason, toMillis(now),
		subjectID, date, version, models.UnitStateAnalyzing,
	)
}

// Reset returns a claimed unit to unanalyzed with no trips
func (r *AnalysisUnitRepository) Reset(ctx context.Context, q DBTX, subjectID, date string, version int64, now time.Time) error {
	return r.transition(ctx, q,
		`UPDATE analysis_units
		SET state = ?, lease_until = NULL, trip_count = 0, analyzed_at = NULL, updated_at = ?
		WHERE subject_id = ? AND unit_date = ? AND version = ? AND state = ?`,
		models.UnitStateUnanalyzed, toMillis(now),
		subjectID, date, version, models.UnitStateAnalyzing,
	)
}

// ResetFailed returns every failed unit dated on or after sinceDate to
// unanalyzed and lists them
func (r *AnalysisUnitRepository) ResetFailed(ctx context.Context, sinceDate string, now time.Time) ([]models.UnitKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE analysis_units
		SET state = ?, version = version + 1, updated_at = ?
		WHERE state = ? AND unit_date >= ?
		RETURNING subject_id, unit_date`,
		models.UnitStateUnanalyzed, toMillis(now), models.UnitStateFailed, sinceDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reset failed units: %w", err)
	}
	defer rows.Close()

	var keys []models.UnitKey
	for rows.Next() {
		var k models.UnitKey
		if err := rows.Scan(&k.SubjectID, &k.Date); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountByState counts a subject's units per state, optionally limited to a
// date range
func (r *AnalysisUnitRepository) CountByState(ctx context.Context, subjectID, fromDate, toDate string) (map[models.UnitState]int, error) {
	query := `SELECT state, COUNT(*) FROM analysis_units WHERE subject_id = ?`
	args := []interface{}{subjectID}
	if fromDate != "" {
		query += " AND unit_date >= ?"
		args = append(args, fromDate)
	}
	if toDate != "" {
		query += " AND unit_date <= ?"
		args = append(args, toDate)
	}
	query += " GROUP BY state"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count units: %w", err)
	}
	defer rows.Close()

	counts := map[models.UnitState]int{}
	for rows.Next() {
		var (
			state models.UnitState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unit count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (r *AnalysisUnitRepository) transition(ctx context.Context, q DBTX, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update analysis unit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: version no longer current", ErrConflict)
	}
	return nil
}
