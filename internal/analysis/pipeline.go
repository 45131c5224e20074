// Package analysis turns a window of raw fixes into classified, priced trips.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jengzang/commute-trips-backend/internal/analysis/behavior"
	"github.com/jengzang/commute-trips-backend/internal/analysis/foundation"
	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

// tripNamespace seeds deterministic trip ids
var tripNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jengzang/commute-trips-backend/trips"))

// TripID derives a stable id from what identifies a trip, so re-analysing
// unchanged fixes reproduces the same ids.
func TripID(subjectID, date string, start, end time.Time) string {
	key := fmt.Sprintf("%s|%s|%d|%d", subjectID, date, start.UnixMilli(), end.UnixMilli())
	return uuid.NewSHA1(tripNamespace, []byte(key)).String()
}

// Window is the period covered by one analysis unit. Fixes may extend past
// DayStart/DayEnd when trips are stitched across midnight, but only trips
// starting inside [DayStart, DayEnd) belong to the unit.
type Window struct {
	SubjectID string
	Date      string
	DayStart  time.Time
	DayEnd    time.Time
}

// Span is the time range of a trip
type Span struct {
	Start time.Time
	End   time.Time
}

// Result is the output of one pipeline run
type Result struct {
	Trips    []models.Trip
	Kept     int // fixes used for segmentation
	Excluded int // fixes dropped by the filter

	// Only set when stitching pads the window. CarriedIn is a trip of the
	// previous date running into this one, CarriedOut a trip of this date
	// running into the next.
	CarriedIn  *Span
	CarriedOut *Span
}

// Pipeline chains filtering, segmentation, classification, estimation and
// categorisation. It has no side effects apart from AI classifier calls.
type Pipeline struct {
	Filter      *foundation.FixFilter
	Segmenter   *behavior.TripSegmenter
	Classifier  *behavior.ModeClassifier
	Estimator   *behavior.EmissionEstimator
	Categorizer *behavior.CommuteCategorizer
	AlgoVersion string
}

// NewPipeline builds a pipeline from tuning. ai may be nil to run on rules
// alone.
func NewPipeline(tuning *config.Tuning, loc *time.Location, ai behavior.AIClassifier) *Pipeline {
	var gate *behavior.AIGate
	if ai != nil {
		gate = behavior.NewAIGate(ai, tuning.AIGateParams())
	}
	return &Pipeline{
		Filter:      foundation.NewFixFilter(tuning.FilterThresholds()),
		Segmenter:   behavior.NewTripSegmenter(tuning.SegmentationParams()),
		Classifier:  behavior.NewModeClassifier(tuning.ClassificationParams(), gate),
		Estimator:   behavior.NewEmissionEstimator(tuning.EmissionFactors),
		Categorizer: behavior.NewCommuteCategorizer(tuning.CommuteWindows(), loc),
		AlgoVersion: tuning.Analysis.AlgoVersion,
	}
}

// Run analyses fixes for one window
func (p *Pipeline) Run(ctx context.Context, w Window, fixes []models.Fix) (*Result, error) {
	filtered := p.Filter.Apply(fixes)
	candidates := p.Segmenter.Segment(filtered.Kept)

	res := &Result{
		Kept:     len(filtered.Kept),
		Excluded: len(filtered.Excluded),
	}
	trips := make([]models.Trip, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.Start().Before(w.DayStart) {
			if !c.End().Before(w.DayStart) {
				res.CarriedIn = &Span{Start: c.Start(), End: c.End()}
			}
			continue
		}
		if !c.Start().Before(w.DayEnd) {
			continue
		}
		if !c.End().Before(w.DayEnd) {
			res.CarriedOut = &Span{Start: c.Start(), End: c.End()}
		}
		trips = append(trips, p.buildTrip(ctx, w, c, len(trips)+1))
	}
	// The last classification may have been cut short by the deadline
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("component", "pipeline").
		Str("subject_id", w.SubjectID).
		Str("date", w.Date).
		Int("fixes", len(fixes)).
		Int("excluded", len(filtered.Excluded)).
		Int("candidates", len(candidates)).
		Int("trips", len(trips)).
		Msg("Pipeline run complete")

	res.Trips = trips
	return res, nil
}

func (p *Pipeline) buildTrip(ctx context.Context, w Window, c behavior.TripCandidate, number int) models.Trip {
	first := c.Fixes[0]
	last := c.Fixes[len(c.Fixes)-1]

	measure := p.Estimator.Measure(c.Fixes)
	class := p.Classifier.Classify(ctx, c.Fixes)
	factor, emission := p.Estimator.Emission(measure.DistanceKm, class.Mode)

	return models.Trip{
		ID:               TripID(w.SubjectID, w.Date, c.Start(), c.End()),
		SubjectID:        w.SubjectID,
		TripDate:         w.Date,
		TripNumber:       number,
		StartTime:        c.Start(),
		EndTime:          c.End(),
		DurationS:        int64(measure.Duration / time.Second),
		StartLat:         first.Latitude,
		StartLon:         first.Longitude,
		EndLat:           last.Latitude,
		EndLon:           last.Longitude,
		DistanceKm:       measure.DistanceKm,
		AvgSpeedKmh:      measure.AvgSpeedKmh,
		MaxSpeedKmh:      measure.MaxSpeedKmh,
		TransportMode:    class.Mode,
		Confidence:       class.Confidence,
		ClassifiedBy:     class.ClassifiedBy,
		EmissionFactor:   factor,
		CarbonEmissionKg: emission,
		TripCategory:     p.Categorizer.Categorize(c.Start()),
		FixCount:         len(c.Fixes),
		AlgoVersion:      p.AlgoVersion,
	}
}
