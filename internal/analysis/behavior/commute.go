package behavior

import (
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

// CommuteWindows are local time-of-day ranges, as offsets from midnight
type CommuteWindows struct {
	ToStart      time.Duration
	ToEnd        time.Duration
	FromStart    time.Duration
	FromEnd      time.Duration
	WeekdaysOnly bool
}

// DefaultCommuteWindows: 05:00-11:00 to work, 15:00-21:00 back
var DefaultCommuteWindows = CommuteWindows{
	ToStart:      5 * time.Hour,
	ToEnd:        11 * time.Hour,
	FromStart:    15 * time.Hour,
	FromEnd:      21 * time.Hour,
	WeekdaysOnly: true,
}

// CommuteCategorizer tags trips by the local time they start at
type CommuteCategorizer struct {
	Windows  CommuteWindows
	Location *time.Location
}

// NewCommuteCategorizer creates a categorizer for loc
func NewCommuteCategorizer(windows CommuteWindows, loc *time.Location) *CommuteCategorizer {
	if loc == nil {
		loc = time.UTC
	}
	return &CommuteCategorizer{Windows: windows, Location: loc}
}

// Categorize returns the category of a trip starting at start
func (c *CommuteCategorizer) Categorize(start time.Time) models.TripCategory {
	local := start.In(c.Location)
	if c.Windows.WeekdaysOnly && (local.Weekday() == time.Saturday || local.Weekday() == time.Sunday) {
		return models.TripCategoryOther
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location)
	offset := local.Sub(midnight)

	switch {
	case offset >= c.Windows.ToStart && offset < c.Windows.ToEnd:
		return models.TripCategoryCommuteTo
	case offset >= c.Windows.FromStart && offset < c.Windows.FromEnd:
		return models.TripCategoryCommuteFrom
	}
	return models.TripCategoryOther
}
