package models

import "time"

// JobName identifies a periodic orchestrator job
type JobName string

// JobName constants
const (
	JobSync    JobName = "sync"
	JobCatchUp JobName = "catchup"
	JobPurge   JobName = "purge"
)

// JobStatus constants
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusSkipped   = "skipped"
	JobStatusFailed    = "failed"
)

// JobRun is the persisted record of one job execution
type JobRun struct {
	ID          string     `json:"id" db:"id"`
	Job         JobName    `json:"job" db:"job"`
	Status      string     `json:"status" db:"status"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	UnitsTotal  int        `json:"units_total" db:"units_total"`
	Succeeded   int        `json:"succeeded" db:"succeeded"`
	Failed      int        `json:"failed" db:"failed"`
	Deferred    int        `json:"deferred" db:"deferred"`
	Skipped     int        `json:"skipped" db:"skipped"`
	FixesPurged int64      `json:"fixes_purged" db:"fixes_purged"`
	SummaryJSON string     `json:"summary_json,omitempty" db:"summary_json"`
}

// UnitFailure names a unit a job could not process
type UnitFailure struct {
	UnitKey
	Reason string `json:"reason"`
}

// JobReport is what a job returns to its caller
type JobReport struct {
	RunID       string        `json:"run_id"`
	Job         JobName       `json:"job"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	UnitsTotal  int           `json:"units_total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Deferred    int           `json:"deferred"`
	Skipped     int           `json:"skipped"`
	FixesPurged int64         `json:"fixes_purged"`
	Failures    []UnitFailure `json:"failures,omitempty"`
	Violations  []UnitKey     `json:"violations,omitempty"`
}
