package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

const jobRunColumns = `id, job, status, started_at, finished_at, units_total, succeeded,
	failed, deferred, skipped, fixes_purged, summary_json`

// JobRunRepository handles database operations for job runs
type JobRunRepository struct {
	db *sql.DB
}

// NewJobRunRepository creates a new job run repository
func NewJobRunRepository(db *sql.DB) *JobRunRepository {
	return &JobRunRepository{db: db}
}

// Create records a job run as started
func (r *JobRunRepository) Create(ctx context.Context, run *models.JobRun) error {
	query := `
		INSERT INTO job_runs (id, job, status, started_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, run.ID, run.Job, run.Status, toMillis(run.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}

	return nil
}

// Finish stores the final status and counters of a run
func (r *JobRunRepository) Finish(ctx context.Context, run *models.JobRun) error {
	query := `
		UPDATE job_runs
		SET status = ?, finished_at = ?, units_total = ?, succeeded = ?, failed = ?,
			deferred = ?, skipped = ?, fixes_purged = ?, summary_json = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		run.Status,
		nullMillis(run.FinishedAt),
		run.UnitsTotal,
		run.Succeeded,
		run.Failed,
		run.Deferred,
		run.Skipped,
		run.FixesPurged,
		run.SummaryJSON,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}

	return nil
}

// GetByID retrieves a job run by ID
func (r *JobRunRepository) GetByID(ctx context.Context, id string) (*models.JobRun, error) {
	runs, err := r.query(ctx, "SELECT "+jobRunColumns+" FROM job_runs WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// List retrieves job runs, newest first, optionally for one job
func (r *JobRunRepository) List(ctx context.Context, job models.JobName, limit int, offset int) ([]*models.JobRun, error) {
	query := "SELECT " + jobRunColumns + " FROM job_runs WHERE 1=1"

	args := []interface{}{}
	if job != "" {
		query += " AND job = ?"
		args = append(args, job)
	}

	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return r.query(ctx, query, args...)
}

func (r *JobRunRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.JobRun
	for rows.Next() {
		var (
			run        models.JobRun
			startedAt  int64
			finishedAt sql.NullInt64
			summary    sql.NullString
		)
		err := rows.Scan(
			&run.ID,
			&run.Job,
			&run.Status,
			&startedAt,
			&finishedAt,
			&run.UnitsTotal,
			&run.Succeeded,
			&run.Failed,
			&run.Deferred,
			&run.Skipped,
			&run.FixesPurged,
			&summary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.StartedAt = fromMillis(startedAt)
		run.FinishedAt = fromNullMillis(finishedAt)
		run.SummaryJSON = summary.String
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}
