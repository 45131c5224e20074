package behavior

import (
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
)

// SegmentationParams controls how a fix series is split into trips
type SegmentationParams struct {
	StationaryRadiusM  float64       // jitter radius around a resting position
	StationaryDuration time.Duration // minimum rest that ends a trip
	MaxFixGap          time.Duration // silence longer than this ends a trip
	MinTripFixes       int
	MinTripDistanceKm  float64
	MinTripDuration    time.Duration
}

// DefaultSegmentationParams provides default segmentation settings
var DefaultSegmentationParams = SegmentationParams{
	StationaryRadiusM:  20,
	StationaryDuration: 5 * time.Minute,
	MaxFixGap:          15 * time.Minute,
	MinTripFixes:       2,
	MinTripDistanceKm:  0.1,
	MinTripDuration:    60 * time.Second,
}

// TripCandidate is a movement episode before classification
type TripCandidate struct {
	Fixes []models.Fix
}

// Start returns the time of the first fix
func (c TripCandidate) Start() time.Time { return c.Fixes[0].RecordedAt }

// End returns the time of the last fix
func (c TripCandidate) End() time.Time { return c.Fixes[len(c.Fixes)-1].RecordedAt }

// Points returns the fix coordinates in order
func (c TripCandidate) Points() []spatial.Point {
	return fixPoints(c.Fixes)
}

// TripSegmenter splits an ordered fix series into trips separated by
// stationary periods.
type TripSegmenter struct {
	Params SegmentationParams
}

// NewTripSegmenter creates a trip segmenter
func NewTripSegmenter(params SegmentationParams) *TripSegmenter {
	return &TripSegmenter{Params: params}
}

// Segment partitions time-ordered fixes into non-overlapping trip candidates.
// A trip opens at the first moving fix after a stationary run and closes at
// the last moving fix before the next one. A trip still open at the end of
// the series closes at its last fix.
func (s *TripSegmenter) Segment(fixes []models.Fix) []TripCandidate {
	if len(fixes) < 2 {
		return nil
	}

	stationary := s.markStationary(fixes)

	var trips []TripCandidate
	start := -1
	flush := func(end int) {
		if start >= 0 {
			candidate := TripCandidate{Fixes: fixes[start:end]}
			if s.keep(candidate) {
				trips = append(trips, candidate)
			}
		}
		start = -1
	}

	for i := range fixes {
		if stationary[i] {
			flush(i)
			continue
		}
		if start >= 0 && s.Params.MaxFixGap > 0 &&
			fixes[i].RecordedAt.Sub(fixes[i-1].RecordedAt) > s.Params.MaxFixGap {
			flush(i)
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(fixes))

	return trips
}

// markStationary flags every fix that belongs to a stay: a run of fixes all
// within StationaryRadiusM of its first fix lasting at least
// StationaryDuration.
func (s *TripSegmenter) markStationary(fixes []models.Fix) []bool {
	n := len(fixes)
	stationary := make([]bool, n)
	points := fixPoints(fixes)

	i := 0
	for i < n {
		j := i + 1
		for j < n && spatial.Distance(points[i], points[j]) <= s.Params.StationaryRadiusM {
			j++
		}
		if fixes[j-1].RecordedAt.Sub(fixes[i].RecordedAt) >= s.Params.StationaryDuration {
			for k := i; k < j; k++ {
				stationary[k] = true
			}
			i = j
			continue
		}
		i++
	}

	return stationary
}

// keep drops candidates too small to be a real trip
func (s *TripSegmenter) keep(c TripCandidate) bool {
	if len(c.Fixes) < s.Params.MinTripFixes {
		return false
	}
	if c.End().Sub(c.Start()) < s.Params.MinTripDuration {
		return false
	}
	return spatial.PathLength(c.Points())/1000 >= s.Params.MinTripDistanceKm
}

func fixPoints(fixes []models.Fix) []spatial.Point {
	points := make([]spatial.Point, len(fixes))
	for i, f := range fixes {
		points[i] = spatial.Point{Lat: f.Latitude, Lon: f.Longitude}
	}
	return points
}
