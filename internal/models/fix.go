package models

import (
	"fmt"
	"math"
	"time"
)

// FixSource identifies where a fix came from
type FixSource string

// FixSource constants
const (
	FixSourceDevice    FixSource = "device"
	FixSourceSimulated FixSource = "simulated"
	FixSourceImported  FixSource = "imported"
)

// Valid reports whether s is a known source
func (s FixSource) Valid() bool {
	switch s {
	case FixSourceDevice, FixSourceSimulated, FixSourceImported:
		return true
	}
	return false
}

// Fix is one raw location sample reported by a badge
type Fix struct {
	ID        int64   `json:"id" db:"id"`
	SubjectID string  `json:"subject_id" db:"subject_id"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`

	// Optional device readings. Speed is km/h, accuracy is metres.
	SpeedKmh  *float64 `json:"speed,omitempty" db:"speed_kmh"`
	AccuracyM *float64 `json:"accuracy,omitempty" db:"accuracy_m"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"` // stored as unix milliseconds
	LocalDate  string    `json:"local_date" db:"local_date"`   // YYYY-MM-DD in the analysis time zone
	Source     FixSource `json:"source" db:"source"`
	Processed  bool      `json:"processed" db:"processed"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// FixInput is the wire shape accepted by ingestion
type FixInput struct {
	SubjectID  string     `json:"subject_id"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Speed      *float64   `json:"speed,omitempty"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	RecordedAt *time.Time `json:"recorded_at"`
	Source     FixSource  `json:"source,omitempty"`
}

// ValidationError describes why a single fix was rejected
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a fix against basic sanity rules. now and skew bound how far
// in the future a recorded_at may lie.
func (in FixInput) Validate(now time.Time, skew time.Duration) error {
	if in.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Reason: "required"}
	}
	if in.RecordedAt == nil || in.RecordedAt.IsZero() {
		return &ValidationError{Field: "recorded_at", Reason: "required"}
	}
	if in.RecordedAt.After(now.Add(skew)) {
		return &ValidationError{Field: "recorded_at", Reason: "in the future"}
	}
	if in.Latitude == nil {
		return &ValidationError{Field: "latitude", Reason: "required"}
	}
	if in.Longitude == nil {
		return &ValidationError{Field: "longitude", Reason: "required"}
	}
	lat, lon := *in.Latitude, *in.Longitude
	if !finite(lat) || lat < -90 || lat > 90 {
		return &ValidationError{Field: "latitude", Reason: "out of range"}
	}
	if !finite(lon) || lon < -180 || lon > 180 {
		return &ValidationError{Field: "longitude", Reason: "out of range"}
	}
	// (0, 0) is what badges report before their first satellite lock
	if lat == 0 && lon == 0 {
		return &ValidationError{Field: "latitude", Reason: "null island"}
	}
	if in.Speed != nil && (!finite(*in.Speed) || *in.Speed < 0) {
		return &ValidationError{Field: "speed", Reason: "negative or not finite"}
	}
	if in.Accuracy != nil && (!finite(*in.Accuracy) || *in.Accuracy < 0) {
		return &ValidationError{Field: "accuracy", Reason: "negative or not finite"}
	}
	if in.Source != "" && !in.Source.Valid() {
		return &ValidationError{Field: "source", Reason: "unknown source " + string(in.Source)}
	}
	return nil
}

// ToFix converts a validated input into a storable fix
func (in FixInput) ToFix(loc *time.Location, receivedAt time.Time) Fix {
	source := in.Source
	if source == "" {
		source = FixSourceDevice
	}
	recorded := in.RecordedAt.UTC().Truncate(time.Millisecond)
	return Fix{
		SubjectID:  in.SubjectID,
		Latitude:   *in.Latitude,
		Longitude:  *in.Longitude,
		SpeedKmh:   in.Speed,
		AccuracyM:  in.Accuracy,
		RecordedAt: recorded,
		LocalDate:  LocalDate(recorded, loc),
		Source:     source,
		ReceivedAt: receivedAt.UTC(),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FixStatus is the per-item outcome of ingestion
type FixStatus string

// FixStatus constants
const (
	FixStatusAccepted  FixStatus = "accepted"
	FixStatusDuplicate FixStatus = "duplicate"
	FixStatusRejected  FixStatus = "rejected"
)

// FixResult reports what happened to one submitted fix
type FixResult struct {
	Index  int       `json:"index"`
	Status FixStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// BatchResult summarises an ingestion batch
type BatchResult struct {
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   int         `json:"rejected"`
	Results    []FixResult `json:"results"`
}

// DateLayout is the calendar date format used for analysis units
const DateLayout = "2006-01-02"

// LocalDate returns the calendar date of t in loc
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// DayBounds returns [start, end) of a calendar date in loc
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return start, start.AddDate(0, 0, 1), nil
}
