package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

const fixColumns = `id, subject_id, latitude, longitude, speed_kmh, accuracy_m,
	recorded_at, local_date, source, processed, received_at`

// FixRepository handles database operations for raw fixes
type FixRepository struct {
	db *sql.DB
}

// NewFixRepository creates a new fix repository
func NewFixRepository(db *sql.DB) *FixRepository {
	return &FixRepository{db: db}
}

// Insert stores a fix unless (subject_id, recorded_at) already exists.
// It reports whether a row was written and sets fix.ID when it was.
func (r *FixRepository) Insert(ctx context.Context, q DBTX, fix *models.Fix) (bool, error) {
	query := `INSERT INTO fixes (
			subject_id, latitude, longitude, speed_kmh, accuracy_m,
			recorded_at, local_date, source, processed, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (subject_id, recorded_at) DO NOTHING`

	result, err := q.ExecContext(ctx, query,
		fix.SubjectID, fix.Latitude, fix.Longitude,
		nullFloat(fix.SpeedKmh), nullFloat(fix.AccuracyM),
		toMillis(fix.RecordedAt), fix.LocalDate, fix.Source, toMillis(fix.ReceivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert fix: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	fix.ID = id
	fix.Processed = false
	return true, nil
}

// ListWindow returns a subject's fixes recorded in [from, to), oldest first
func (r *FixRepository) ListWindow(ctx context.Context, subjectID string, from, to time.Time) ([]models.Fix, error) {
	query := `SELECT ` + fixColumns + ` FROM fixes
		WHERE subject_id = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at ASC`

	rows, err := r.db.QueryContext(ctx, query, subjectID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []models.Fix
	for rows.Next() {
		f, err := scanFix(rows)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fixes: %w", err)
	}

	return fixes, nil
}

// MarkProcessed flags the fixes of a date loaded by an analysis run. Fixes
// with a higher id arrived after the run loaded its window and stay
// unprocessed.
func (r *FixRepository) MarkProcessed(ctx context.Context, q DBTX, subjectID, date string, maxID int64) (int64, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE fixes SET processed = 1
		WHERE subject_id = ? AND local_date = ? AND id <= ? AND processed = 0`,
		subjectID, date, maxID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark fixes processed: %w", err)
	}
	return result.RowsAffected()
}

// PendingSpan is a unit with unprocessed fixes and the time range they cover
type PendingSpan struct {
	models.UnitKey
	First time.Time
	Last  time.Time
}

// PendingUnits lists (subject, date) pairs with unprocessed fixes on or after
// sinceDate
func (r *FixRepository) PendingUnits(ctx context.Context, sinceDate string) ([]PendingSpan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subject_id, local_date, MIN(recorded_at), MAX(recorded_at) FROM fixes
		WHERE processed = 0 AND local_date >= ?
		GROUP BY subject_id, local_date
		ORDER BY local_date, subject_id`,
		sinceDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending units: %w", err)
	}
	defer rows.Close()

	var spans []PendingSpan
	for rows.Next() {
		var (
			span        PendingSpan
			first, last int64
		)
		if err := rows.Scan(&span.SubjectID, &span.Date, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan pending unit: %w", err)
		}
		span.First, span.Last = fromMillis(first), fromMillis(last)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// PurgeCandidates lists (subject, date) pairs holding fixes dated before
// beforeDate
func (r *FixRepository) PurgeCandidates(ctx context.Context, beforeDate string) ([]models.UnitKey, error) {
	return r.unitKeys(ctx,
		`SELECT DISTINCT subject_id, local_date FROM fixes
		WHERE local_date < ?
		ORDER BY local_date, subject_id`,
		beforeDate,
	)
}

// CountUnprocessed counts the unprocessed fixes of one date
func (r *FixRepository) CountUnprocessed(ctx context.Context, q DBTX, subjectID, date string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fixes WHERE subject_id = ? AND local_date = ? AND processed = 0`,
		subjectID, date,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed fixes: %w", err)
	}
	return n, nil
}

// DeleteForDate removes the fixes of one date
func (r *FixRepository) DeleteForDate(ctx context.Context, q DBTX, subjectID, date string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM fixes WHERE subject_id = ? AND local_date = ?`,
		subjectID, date,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete fixes: %w", err)
	}
	return result.RowsAffected()
}

// Counts returns a subject's fix counters, optionally limited to a date range
func (r *FixRepository) Counts(ctx context.Context, subjectID, fromDate, toDate string) (models.FixCounters, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END), 0)
		FROM fixes WHERE subject_id = ?`
	args := []interface{}{subjectID}
	if fromDate != "" {
		query += " AND local_date >= ?"
		args = append(args, fromDate)
	}
	if toDate != "" {
		query += " AND local_date <= ?"
		args = append(args, toDate)
	}

	var c models.FixCounters
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.Total, &c.Unprocessed); err != nil {
		return c, fmt.Errorf("failed to count fixes: %w", err)
	}
	return c, nil
}

func (r *FixRepository) unitKeys(ctx context.Context, query string, args ...interface{}) ([]models.UnitKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
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

func scanFix(rows *sql.Rows) (models.Fix, error) {
	var (
		f                     models.Fix
		speed, accuracy       sql.NullFloat64
		recordedAt, receiveAt int64
	)
	err := rows.Scan(
		&f.ID, &f.SubjectID, &f.Latitude, &f.Longitude, &speed, &accuracy,
		&recordedAt, &f.LocalDate, &f.Source, &f.Processed, &receiveAt,
	)
	if err != nil {
		return f, fmt.Errorf("failed to scan fix: %w", err)
	}
	f.SpeedKmh = fromNullFloat(speed)
	f.AccuracyM = fromNullFloat(accuracy)
	f.RecordedAt = fromMillis(recordedAt)
	f.ReceivedAt = fromMillis(receiveAt)
	return f, nil
}
