package behavior

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
	"github.com/jengzang/commute-trips-backend/internal/stats"
)

// SpeedBand is an inclusive km/h range
type SpeedBand struct {
	MinKmh float64
	MaxKmh float64
}

// Contains reports whether v lies within the band
func (b SpeedBand) Contains(v float64) bool {
	return v >= b.MinKmh && v <= b.MaxKmh
}

// Centeredness is 1 at the middle of the band and 0 at (or past) its edges
func (b SpeedBand) Centeredness(v float64) float64 {
	half := (b.MaxKmh - b.MinKmh) / 2
	if half <= 0 {
		return 0
	}
	mid := b.MinKmh + half
	return clamp01(1 - math.Abs(v-mid)/half)
}

// ModeBands holds one speed band per rule-classifiable mode. Rail has no
// band; only the AI classifier reports it.
type ModeBands struct {
	Walking    SpeedBand
	Bicycle    SpeedBand
	Motorcycle SpeedBand
	Car        SpeedBand
	Bus        SpeedBand
}

// For returns the band of m
func (b ModeBands) For(m models.TransportMode) (SpeedBand, bool) {
	switch m {
	case models.ModeWalking:
		return b.Walking, true
	case models.ModeBicycle:
		return b.Bicycle, true
	case models.ModeMotorcycle:
		return b.Motorcycle, true
	case models.ModeCar:
		return b.Car, true
	case models.ModeBus:
		return b.Bus, true
	}
	return SpeedBand{}, false
}

// StopRatios holds the share of stopped samples typical for each mode
type StopRatios struct {
	Walking    float64
	Bicycle    float64
	Motorcycle float64
	Car        float64
	Bus        float64
}

// For returns the typical stop ratio of m
func (r StopRatios) For(m models.TransportMode) float64 {
	switch m {
	case models.ModeWalking:
		return r.Walking
	case models.ModeBicycle:
		return r.Bicycle
	case models.ModeMotorcycle:
		return r.Motorcycle
	case models.ModeCar:
		return r.Car
	case models.ModeBus:
		return r.Bus
	}
	return 0
}

// ClassificationParams configures the rule-based classifier
type ClassificationParams struct {
	Bands             ModeBands
	ExpectedStopRatio StopRatios

	StopSpeedKmh      float64 // samples below this count as stopped
	MinSamples        int
	ConfidenceFloor   float64 // below this the AI classifier is consulted
	UnknownConfidence float64

	BusMinStopRatio     float64
	BusMinStopEvents    int
	BusMinSpeedCV       float64
	BicycleMaxStopRatio float64
	CarMaxStopRatio     float64

	StopRatioSeparation float64 // stop ratio gap that counts as a clear win
	OverspeedFactor     float64
	OverspeedPenalty    float64
}

// DefaultClassificationParams provides the default bands and thresholds
var DefaultClassificationParams = ClassificationParams{
	Bands: ModeBands{
		Walking:    SpeedBand{MinKmh: 0, MaxKmh: 6},
		Bicycle:    SpeedBand{MinKmh: 5, MaxKmh: 20},
		Motorcycle: SpeedBand{MinKmh: 20, MaxKmh: 60},
		Car:        SpeedBand{MinKmh: 30, MaxKmh: 100},
		Bus:        SpeedBand{MinKmh: 10, MaxKmh: 50},
	},
	ExpectedStopRatio: StopRatios{
		Walking:    0.05,
		Bicycle:    0.05,
		Motorcycle: 0.10,
		Car:        0.02,
		Bus:        0.25,
	},
	StopSpeedKmh:        2,
	MinSamples:          3,
	ConfidenceFloor:     0.5,
	UnknownConfidence:   0.2,
	BusMinStopRatio:     0.15,
	BusMinStopEvents:    2,
	BusMinSpeedCV:       0.6,
	BicycleMaxStopRatio: 0.3,
	CarMaxStopRatio:     0.15,
	StopRatioSeparation: 0.1,
	OverspeedFactor:     1.5,
	OverspeedPenalty:    0.7,
}

// SpeedProfile summarises the speed samples of one trip
type SpeedProfile struct {
	Samples     []float64
	AvgSpeedKmh float64 // path length over elapsed time
	MedianKmh   float64
	P85Kmh      float64
	MaxKmh      float64
	StopRatio   float64
	StopEvents  int // moving to stopped transitions
	SpeedCV     float64
}

// SampleSpeeds returns one km/h sample per leg. A fix's reported speed is
// used when present, otherwise the speed implied by the leg from the
// previous fix.
func SampleSpeeds(fixes []models.Fix) []float64 {
	if len(fixes) < 2 {
		return nil
	}
	samples := make([]float64, 0, len(fixes)-1)
	for i := 1; i < len(fixes); i++ {
		if fixes[i].SpeedKmh != nil {
			samples = append(samples, *fixes[i].SpeedKmh)
			continue
		}
		from := spatial.Point{Lat: fixes[i-1].Latitude, Lon: fixes[i-1].Longitude}
		to := spatial.Point{Lat: fixes[i].Latitude, Lon: fixes[i].Longitude}
		samples = append(samples, spatial.SpeedKmh(from, to, fixes[i].RecordedAt.Sub(fixes[i-1].RecordedAt)))
	}
	return samples
}

// BuildSpeedProfile computes the classification features of a trip
func BuildSpeedProfile(fixes []models.Fix, stopSpeedKmh float64) SpeedProfile {
	samples := SampleSpeeds(fixes)
	p := SpeedProfile{Samples: samples}
	if len(samples) == 0 {
		return p
	}

	elapsed := fixes[len(fixes)-1].RecordedAt.Sub(fixes[0].RecordedAt).Hours()
	if elapsed > 0 {
		p.AvgSpeedKmh = spatial.PathLength(fixPoints(fixes)) / 1000 / elapsed
	}
	p.MedianKmh = stats.Median(samples)
	p.P85Kmh = stats.Quantile(samples, 0.85)
	p.MaxKmh = stats.Max(samples)
	p.SpeedCV = stats.CoefficientOfVariation(samples)

	stopped := 0
	moving := false
	for _, v := range samples {
		if v < stopSpeedKmh {
			stopped++
			if moving {
				p.StopEvents++
			}
			moving = false
			continue
		}
		moving = true
	}
	p.StopRatio = float64(stopped) / float64(len(samples))

	return p
}

// Classification is the outcome of mode classification
type Classification struct {
	Mode         models.TransportMode
	Confidence   float64
	ClassifiedBy models.ClassifiedBy
}

// ModeClassifier infers a trip's transport mode from its speed profile,
// optionally asking an AI classifier when the rules are unsure.
type ModeClassifier struct {
	Params ClassificationParams
	AI     *AIGate
}

// NewModeClassifier creates a mode classifier. ai may be nil.
func NewModeClassifier(params ClassificationParams, ai *AIGate) *ModeClassifier {
	return &ModeClassifier{Params: params, AI: ai}
}

// Classify returns the mode of a trip. AI failures never surface; the rule
// result is returned instead.
func (c *ModeClassifier) Classify(ctx context.Context, fixes []models.Fix) Classification {
	result := c.ClassifyProfile(BuildSpeedProfile(fixes, c.Params.StopSpeedKmh))
	if result.Confidence >= c.Params.ConfidenceFloor || c.AI == nil {
		return result
	}

	ai, err := c.AI.Classify(ctx, fixes)
	if err != nil {
		if !errors.Is(err, ErrClassificationUnavailable) {
			log.Warn().Err(err).Str("component", "classifier").Msg("Unexpected AI classifier error")
		} else {
			log.Debug().Err(err).Str("component", "classifier").Msg("Keeping rule-based mode")
		}
		return result
	}
	if ai.Confidence <= result.Confidence {
		return result
	}

	return Classification{Mode: ai.Mode, Confidence: ai.Confidence, ClassifiedBy: models.ClassifiedByAI}
}

type modeCandidate struct {
	mode     models.TransportMode
	band     SpeedBand
	distance float64 // |observed stop ratio - expected stop ratio|
}

// ClassifyProfile applies the rule policy only
func (c *ModeClassifier) ClassifyProfile(p SpeedProfile) Classification {
	params := c.Params
	unknown := Classification{
		Mode:         models.ModeUnknown,
		Confidence:   params.UnknownConfidence,
		ClassifiedBy: models.ClassifiedByRules,
	}
	if len(p.Samples) < params.MinSamples {
		return unknown
	}
	v := p.AvgSpeedKmh

	// Stop-and-go inside the bus band is the most specific signal
	if c.isBus(p) {
		conf := 0.5 + 0.5*params.Bands.Bus.Centeredness(v)
		return c.finish(models.ModeBus, params.Bands.Bus, conf, p)
	}

	var candidates []modeCandidate
	for _, m := range []models.TransportMode{models.ModeWalking, models.ModeBicycle, models.ModeMotorcycle, models.ModeCar} {
		band, _ := params.Bands.For(m)
		if !band.Contains(v) {
			continue
		}
		// A few fast legs can lift a slow trip's average into the band
		if (m == models.ModeWalking || m == models.ModeBicycle) && !band.Contains(p.MedianKmh) {
			continue
		}
		if m == models.ModeBicycle && p.StopRatio > params.BicycleMaxStopRatio {
			continue
		}
		if m == models.ModeCar && p.StopRatio > params.CarMaxStopRatio {
			continue
		}
		candidates = append(candidates, modeCandidate{
			mode:     m,
			band:     band,
			distance: math.Abs(p.StopRatio - params.ExpectedStopRatio.For(m)),
		})
	}
	if len(candidates) == 0 {
		return unknown
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].band.Centeredness(v) > candidates[j].band.Centeredness(v)
	})

	best := candidates[0]
	conf := 0.5 + 0.5*best.band.Centeredness(v)
	if len(candidates) > 1 {
		separation := 0.0
		if params.StopRatioSeparation > 0 {
			separation = clamp01((candidates[1].distance - best.distance) / params.StopRatioSeparation)
		}
		conf *= 0.8 + 0.2*separation
	}

	return c.finish(best.mode, best.band, conf, p)
}

func (c *ModeClassifier) isBus(p SpeedProfile) bool {
	params := c.Params
	if p.StopRatio < params.BusMinStopRatio || !params.Bands.Bus.Contains(p.AvgSpeedKmh) {
		return false
	}
	return p.StopEvents >= params.BusMinStopEvents || p.SpeedCV >= params.BusMinSpeedCV
}

// finish applies the overspeed penalty: a trip whose 85th percentile is far
// above its band is unlikely to be that mode.
func (c *ModeClassifier) finish(mode models.TransportMode, band SpeedBand, conf float64, p SpeedProfile) Classification {
	if c.Params.OverspeedFactor > 0 && p.P85Kmh > band.MaxKmh*c.Params.OverspeedFactor {
		conf *= c.Params.OverspeedPenalty
	}
	return Classification{Mode: mode, Confidence: clamp01(conf), ClassifiedBy: models.ClassifiedByRules}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
