package foundation

import (
	"sort"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
)

// Exclusion reasons
const (
	ReasonDuplicateTime  = "DUPLICATE_TIME"
	ReasonLowAccuracy    = "LOW_ACCURACY"
	ReasonExcessiveSpeed = "EXCESSIVE_SPEED"
	ReasonJump           = "JUMP"
)

// FilterThresholds defines configurable thresholds for fix filtering
type FilterThresholds struct {
	MaxAccuracyM float64 // 100 m
	MaxSpeedKmh  float64 // 250 km/h, covers every commuting mode
}

// DefaultThresholds provides default fix filtering thresholds
var DefaultThresholds = FilterThresholds{
	MaxAccuracyM: 100.0,
	MaxSpeedKmh:  250.0,
}

// Exclusion records why a fix was kept out of segmentation
type Exclusion struct {
	FixID   int64
	Reasons []string
}

// FilterResult is the output of FixFilter.Apply
type FilterResult struct {
	Kept     []models.Fix
	Excluded []Exclusion
}

// FixFilter orders a window of fixes and drops the ones that cannot be
// trusted for segmentation. Excluded fixes stay in the store.
type FixFilter struct {
	Thresholds FilterThresholds
}

// NewFixFilter creates a fix filter
func NewFixFilter(thresholds FilterThresholds) *FixFilter {
	return &FixFilter{Thresholds: thresholds}
}

// Apply returns the usable fixes in time order. The input is not modified.
func (f *FixFilter) Apply(fixes []models.Fix) FilterResult {
	ordered := make([]models.Fix, len(fixes))
	copy(ordered, fixes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RecordedAt.Equal(ordered[j].RecordedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})

	result := FilterResult{Kept: make([]models.Fix, 0, len(ordered))}
	var last models.Fix
	hasLast := false

	for i := range ordered {
		fix := ordered[i]
		var reasons []string

		if hasLast && !fix.RecordedAt.After(last.RecordedAt) {
			reasons = append(reasons, ReasonDuplicateTime)
		}
		if fix.AccuracyM != nil && *fix.AccuracyM > f.Thresholds.MaxAccuracyM {
			reasons = append(reasons, ReasonLowAccuracy)
		}
		if fix.SpeedKmh != nil && *fix.SpeedKmh > f.Thresholds.MaxSpeedKmh {
			reasons = append(reasons, ReasonExcessiveSpeed)
		}

		// Teleport check against the last fix we trust
		if hasLast && len(reasons) == 0 {
			from := spatial.Point{Lat: last.Latitude, Lon: last.Longitude}
			to := spatial.Point{Lat: fix.Latitude, Lon: fix.Longitude}
			if spatial.SpeedKmh(from, to, fix.RecordedAt.Sub(last.RecordedAt)) > f.Thresholds.MaxSpeedKmh {
				reasons = append(reasons, ReasonJump)
			}
		}

		if len(reasons) > 0 {
			result.Excluded = append(result.Excluded, Exclusion{FixID: fix.ID, Reasons: reasons})
			continue
		}

		result.Kept = append(result.Kept, fix)
		last, hasLast = fix, true
	}

	return result
}
