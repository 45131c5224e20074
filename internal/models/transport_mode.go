package models

import "strings"

// TransportMode is the inferred locomotion class of a trip
type TransportMode string

// TransportMode constants
const (
	ModeWalking    TransportMode = "walking"
	ModeBicycle    TransportMode = "bicycle"
	ModeMotorcycle TransportMode = "motorcycle"
	ModeCar        TransportMode = "car"
	ModeBus        TransportMode = "bus"
	ModeRail       TransportMode = "rail"
	ModeUnknown    TransportMode = "unknown"
)

// AllModes lists every mode in band order
var AllModes = []TransportMode{
	ModeWalking, ModeBicycle, ModeMotorcycle, ModeCar, ModeBus, ModeRail, ModeUnknown,
}

// Valid reports whether m is a known mode
func (m TransportMode) Valid() bool {
	switch m {
	case ModeWalking, ModeBicycle, ModeMotorcycle, ModeCar, ModeBus, ModeRail, ModeUnknown:
		return true
	}
	return false
}

// ParseTransportMode maps free-form labels (as returned by external
// classifiers) onto a TransportMode.
func ParseTransportMode(s string) (TransportMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "walking", "walk", "foot", "on_foot":
		return ModeWalking, true
	case "bicycle", "bike", "cycling":
		return ModeBicycle, true
	case "motorcycle", "motorbike", "scooter", "e-bike", "ebike":
		return ModeMotorcycle, true
	case "car", "driving", "taxi":
		return ModeCar, true
	case "bus":
		return ModeBus, true
	case "rail", "train", "subway", "metro", "tram":
		return ModeRail, true
	case "unknown":
		return ModeUnknown, true
	}
	return "", false
}

// ClassifiedBy records which classifier produced a trip's mode
type ClassifiedBy string

// ClassifiedBy constants
const (
	ClassifiedByRules ClassifiedBy = "rules"
	ClassifiedByAI    ClassifiedBy = "ai"
)

// EmissionFactorTable holds kg CO2 per km for every mode. Each mode has its
// own field so a new mode cannot be added without a factor.
type EmissionFactorTable struct {
	Walking    float64 `json:"walking" yaml:"walking"`
	Bicycle    float64 `json:"bicycle" yaml:"bicycle"`
	Motorcycle float64 `json:"motorcycle" yaml:"motorcycle"`
	Car        float64 `json:"car" yaml:"car"`
	Bus        float64 `json:"bus" yaml:"bus"`
	Rail       float64 `json:"rail" yaml:"rail"`
	Unknown    float64 `json:"unknown" yaml:"unknown"`
}

// DefaultEmissionFactors are per-passenger averages in kg CO2/km. Unknown
// sits between bus and car so an unclassified trip is never free.
var DefaultEmissionFactors = EmissionFactorTable{
	Walking:    0,
	Bicycle:    0,
	Motorcycle: 0.103,
	Car:        0.192,
	Bus:        0.105,
	Rail:       0.041,
	Unknown:    0.15,
}

// Factor returns the factor for m. Unrecognised modes use the unknown factor.
func (t EmissionFactorTable) Factor(m TransportMode) float64 {
	switch m {
	case ModeWalking:
		return t.Walking
	case ModeBicycle:
		return t.Bicycle
	case ModeMotorcycle:
		return t.Motorcycle
	case ModeCar:
		return t.Car
	case ModeBus:
		return t.Bus
	case ModeRail:
		return t.Rail
	default:
		return t.Unknown
	}
}
