package behavior

import (
	"math"
	"time"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
)

const metersPerDegreeLat = spatial.EarthRadiusMeters * math.Pi / 180

// track builds synthetic fix series heading north from a start position
type track struct {
	fixes  []models.Fix
	t      time.Time
	lat    float64
	lon    float64
	nextID int64
}

func newTrack(start time.Time, lat, lon float64) *track {
	return &track{t: start, lat: lat, lon: lon, nextID: 1}
}

func (b *track) add(lat float64) {
	b.fixes = append(b.fixes, models.Fix{
		ID:         b.nextID,
		SubjectID:  "badge-1",
		Latitude:   lat,
		Longitude:  b.lon,
		RecordedAt: b.t,
		LocalDate:  models.LocalDate(b.t, time.UTC),
		Source:     models.FixSourceDevice,
	})
	b.nextID++
}

// stay reports a resting position with a few metres of jitter
func (b *track) stay(d, every time.Duration) *track {
	for i := 0; i < int(d/every); i++ {
		b.t = b.t.Add(every)
		jitter := 3.0
		if i%2 == 0 {
			jitter = -3.0
		}
		b.add(b.lat + jitter/metersPerDegreeLat)
	}
	return b
}

// move reports one fix per step, each steps[i] metres north of the last
func (b *track) move(every time.Duration, steps ...float64) *track {
	for _, m := range steps {
		b.t = b.t.Add(every)
		b.lat += m / metersPerDegreeLat
		b.add(b.lat)
	}
	return b
}

// repeat returns steps repeated n times
func repeat(n int, steps ...float64) []float64 {
	out := make([]float64, 0, n*len(steps))
	for i := 0; i < n; i++ {
		out = append(out, steps...)
	}
	return out
}

// walkingSteps gives ~4 km/h ±1 at 30 s sampling
func walkingSteps(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 28
		} else {
			out[i] = 38
		}
	}
	return out
}
