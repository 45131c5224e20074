package models

import "time"

// Trip is one movement episode of a subject between two stationary periods
type Trip struct {
	ID         string `json:"id" db:"id"` // deterministic, see analysis.TripID
	SubjectID  string `json:"subject_id" db:"subject_id"`
	TripDate   string `json:"trip_date" db:"trip_date"`     // YYYY-MM-DD, date the trip started on
	TripNumber int    `json:"trip_number" db:"trip_number"` // 1st, 2nd, 3rd trip of the day

	// Temporal info, stored as unix milliseconds
	StartTime time.Time `json:"start_time" db:"start_time"`
	EndTime   time.Time `json:"end_time" db:"end_time"`
	DurationS int64     `json:"duration_s" db:"duration_s"`

	StartLat float64 `json:"start_lat" db:"start_lat"`
	StartLon float64 `json:"start_lon" db:"start_lon"`
	EndLat   float64 `json:"end_lat" db:"end_lat"`
	EndLon   float64 `json:"end_lon" db:"end_lon"`

	DistanceKm  float64 `json:"distance_km" db:"distance_km"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh" db:"avg_speed_kmh"`
	MaxSpeedKmh float64 `json:"max_speed_kmh" db:"max_speed_kmh"`

	TransportMode TransportMode `json:"transport_mode" db:"transport_mode"`
	Confidence    float64       `json:"confidence" db:"confidence"`
	ClassifiedBy  ClassifiedBy  `json:"classified_by" db:"classified_by"`

	EmissionFactor   float64 `json:"emission_factor" db:"emission_factor"` // kg/km
	CarbonEmissionKg float64 `json:"carbon_emission_kg" db:"carbon_emission_kg"`

	TripCategory TripCategory `json:"trip_category" db:"trip_category"`
	FixCount     int          `json:"fix_count" db:"fix_count"`
	AlgoVersion  string       `json:"algo_version" db:"algo_version"`
}

// TripCategory classifies a trip by its time of day
type TripCategory string

// TripCategory constants
const (
	TripCategoryCommuteTo   TripCategory = "commute-to"
	TripCategoryCommuteFrom TripCategory = "commute-from"
	TripCategoryOther       TripCategory = "other"
)

// Overlaps reports whether two trips share any instant
func (t Trip) Overlaps(o Trip) bool {
	return t.StartTime.Before(o.EndTime) && o.StartTime.Before(t.EndTime)
}

// TripsResponse represents a paginated response of trips
type TripsResponse struct {
	Data       []Trip `json:"data"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	TotalPages int    `json:"totalPages"`
}

// TripTrace is a trip together with the fixes it was built from
type TripTrace struct {
	Trip  Trip  `json:"trip"`
	Fixes []Fix `json:"fixes"`
}
