package models

// ModeStatistics aggregates a subject's trips for one transport mode
type ModeStatistics struct {
	TransportMode    TransportMode `json:"transport_mode" db:"transport_mode"`
	TripCount        int           `json:"trip_count" db:"trip_count"`
	TotalDistanceKm  float64       `json:"total_distance_km" db:"total_distance_km"`
	TotalDurationS   int64         `json:"total_duration_s" db:"total_duration_s"`
	CarbonEmissionKg float64       `json:"carbon_emission_kg" db:"carbon_emission_kg"`
}

// SubjectStatistics is the response of the statistics endpoint
type SubjectStatistics struct {
	SubjectID        string            `json:"subject_id"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	TripCount        int               `json:"trip_count"`
	TotalDistanceKm  float64           `json:"total_distance_km"`
	CarbonEmissionKg float64           `json:"carbon_emission_kg"`
	CommuteTrips     int               `json:"commute_trips"`
	ByMode           []ModeStatistics  `json:"by_mode"`
	UnitStates       map[UnitState]int `json:"unit_states"`
	Fixes            FixCounters       `json:"fixes"`
}

// FixCounters counts a subject's stored fixes
type FixCounters struct {
	Total       int64 `json:"total" db:"total"`
	Unprocessed int64 `json:"unprocessed" db:"unprocessed"`
}
