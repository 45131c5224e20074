package spatial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistanceKnownPair(t *testing.T) {
	// London to Paris is roughly 343.5 km
	d := HaversineDistance(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 343500, d, 1500)
	assert.Zero(t, HaversineDistance(10, 10, 10, 10))
}

func TestPathLengthNotShorterThanChord(t *testing.T) {
	path := []Point{
		{Lat: 51.5000, Lon: -0.1200},
		{Lat: 51.5050, Lon: -0.1100},
		{Lat: 51.5000, Lon: -0.1000},
		{Lat: 51.5080, Lon: -0.0900},
	}
	chord := Distance(path[0], path[len(path)-1])
	assert.GreaterOrEqual(t, PathLength(path), chord)
	assert.Zero(t, PathLength(path[:1]))
}

func TestSpeedKmh(t *testing.T) {
	a := Point{Lat: 0, Lon: 10}
	b := Point{Lat: 0, Lon: 10.01} // ~1112 m along the equator
	assert.InDelta(t, 66.7, SpeedKmh(a, b, time.Minute), 0.5)
	assert.Zero(t, SpeedKmh(a, b, 0))
}
