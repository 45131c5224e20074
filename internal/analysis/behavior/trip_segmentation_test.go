package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var morning = time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC) // a Monday

func TestSegmentSingleTripBetweenStays(t *testing.T) {
	fixes := newTrack(morning, 51.5, -0.12).
		stay(10*time.Minute, time.Minute).
		move(30*time.Second, walkingSteps(20)...).
		stay(10*time.Minute, time.Minute).
		fixes

	trips := NewTripSegmenter(DefaultSegmentationParams).Segment(fixes)
	require.Len(t, trips, 1)
	// The arrival fix sits inside the second stay's radius and belongs to it
	assert.Len(t, trips[0].Fixes, 19)
	assert.Equal(t, fixes[10].RecordedAt, trips[0].Start())
	assert.Equal(t, fixes[28].RecordedAt, trips[0].End())
}

func TestSegmentTwoTripsDoNotOverlap(t *testing.T) {
	fixes := newTrack(morning, 51.5, -0.12).
		stay(6*time.Minute, time.Minute).
		move(30*time.Second, repeat(10, 200)...).
		stay(12*time.Minute, time.Minute).
		move(30*time.Second, repeat(10, 200)...).
		fixes

	trips := NewTripSegmenter(DefaultSegmentationParams).Segment(fixes)
	require.Len(t, trips, 2)
	assert.True(t, trips[0].End().Before(trips[1].Start()))
	// Open at the end of the series: closes at the last fix
	assert.Equal(t, fixes[len(fixes)-1].RecordedAt, trips[1].End())
}

func TestSegmentJitterOnlyYieldsNoTrips(t *testing.T) {
	fixes := newTrack(morning, 51.5, -0.12).stay(2*time.Hour, 30*time.Second).fixes
	assert.Empty(t, NewTripSegmenter(DefaultSegmentationParams).Segment(fixes))
}

func TestSegmentDropsShortHops(t *testing.T) {
	// 3 x 25 m = 75 m, under the 0.1 km minimum
	fixes := newTrack(morning, 51.5, -0.12).
		stay(10*time.Minute, time.Minute).
		move(30*time.Second, 25, 25, 25).
		stay(10*time.Minute, time.Minute).
		fixes

	assert.Empty(t, NewTripSegmenter(DefaultSegmentationParams).Segment(fixes))
}

func TestSegmentSplitsOnLongSilence(t *testing.T) {
	b := newTrack(morning, 51.5, -0.12).move(30*time.Second, repeat(10, 200)...)
	b.t = b.t.Add(time.Hour) // badge switched off mid-journey
	fixes := b.move(30*time.Second, repeat(10, 200)...).fixes

	trips := NewTripSegmenter(DefaultSegmentationParams).Segment(fixes)
	require.Len(t, trips, 2)
	assert.Len(t, trips[0].Fixes, 10)
	assert.Len(t, trips[1].Fixes, 10)
}

func TestSegmentTooFewFixes(t *testing.T) {
	fixes := newTrack(morning, 51.5, -0.12).move(30*time.Second, 500).fixes
	assert.Nil(t, NewTripSegmenter(DefaultSegmentationParams).Segment(fixes))
}
