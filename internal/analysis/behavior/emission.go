package behavior

import (
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
	"github.com/jengzang/commute-trips-backend/internal/stats"
)

// TripMeasure holds the physical quantities of a trip
type TripMeasure struct {
	DistanceKm  float64
	Duration    time.Duration
	AvgSpeedKmh float64
	MaxSpeedKmh float64
}

// EmissionEstimator measures trips and prices them in kg CO2
type EmissionEstimator struct {
	Factors models.EmissionFactorTable
}

// NewEmissionEstimator creates an estimator with the given factor table
func NewEmissionEstimator(factors models.EmissionFactorTable) *EmissionEstimator {
	return &EmissionEstimator{Factors: factors}
}

// Measure sums great-circle legs between consecutive fixes. The distance is
// never the start-to-end chord.
func (e *EmissionEstimator) Measure(fixes []models.Fix) TripMeasure {
	if len(fixes) == 0 {
		return TripMeasure{}
	}

	m := TripMeasure{
		DistanceKm: spatial.PathLength(fixPoints(fixes)) / 1000,
		Duration:   fixes[len(fixes)-1].RecordedAt.Sub(fixes[0].RecordedAt),
	}
	if hours := m.Duration.Hours(); hours > 0 {
		m.AvgSpeedKmh = m.DistanceKm / hours
	}
	m.MaxSpeedKmh = stats.Max(SampleSpeeds(fixes))
	return m
}

// Emission returns the factor used for mode and the resulting kg CO2
func (e *EmissionEstimator) Emission(distanceKm float64, mode models.TransportMode) (factor, kg float64) {
	factor = e.Factors.Factor(mode)
	return factor, distanceKm * factor
}
