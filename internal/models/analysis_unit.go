package models

import "time"

// UnitState is the analysis state of one (subject, date)
type UnitState string

// UnitState constants
const (
	UnitStateUnanalyzed UnitState = "unanalyzed"
	UnitStateAnalyzing  UnitState = "analyzing"
	UnitStateCommitted  UnitState = "committed"
	UnitStateFailed     UnitState = "failed"
)

// AnalysisUnit tracks one (subject, date) through analysis. Version is bumped
// on every claim and guards every later transition.
type AnalysisUnit struct {
	SubjectID  string     `json:"subject_id" db:"subject_id"`
	UnitDate   string     `json:"unit_date" db:"unit_date"`
	State      UnitState  `json:"state" db:"state"`
	Version    int64      `json:"version" db:"version"`
	LeaseUntil *time.Time `json:"lease_until,omitempty" db:"lease_until"`
	TripCount  int        `json:"trip_count" db:"trip_count"`
	Attempts   int        `json:"attempts" db:"attempts"`
	LastError  string     `json:"last_error,omitempty" db:"last_error"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty" db:"analyzed_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// UnitKey identifies an analysis unit
type UnitKey struct {
	SubjectID string `json:"subject_id"`
	Date      string `json:"date"`
}

// AnalysisOutcome is the result of analysing one unit
type AnalysisOutcome string

// AnalysisOutcome constants
const (
	OutcomeCommitted AnalysisOutcome = "committed"
	OutcomeDeferred  AnalysisOutcome = "deferred"
	OutcomeFailed    AnalysisOutcome = "failed"
)

// AnalysisResult describes one AnalyzeDate run
type AnalysisResult struct {
	SubjectID     string          `json:"subject_id"`
	Date          string          `json:"date"`
	Outcome       AnalysisOutcome `json:"outcome"`
	TripCount     int             `json:"trip_count"`
	FixesAnalyzed int             `json:"fixes_analyzed"`
	FixesExcluded int             `json:"fixes_excluded"`
	Version       int64           `json:"version,omitempty"`
	Error         string          `json:"error,omitempty"`
}
