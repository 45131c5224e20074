package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/jengzang/commute-trips-backend/internal/analysis/behavior"
	"github.com/jengzang/commute-trips-backend/internal/analysis/foundation"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

//go:embed tuning.defaults.yaml
var defaultTuningYAML []byte

// Tuning holds every algorithm parameter. Durations are duration strings
// like "5m" and are checked by Validate.
type Tuning struct {
	FixFilter       FixFilterTuning            `yaml:"fix_filter"`
	Segmentation    SegmentationTuning         `yaml:"segmentation"`
	Classification  ClassificationTuning       `yaml:"classification"`
	EmissionFactors models.EmissionFactorTable `yaml:"emission_factors"`
	Commute         CommuteTuning              `yaml:"commute"`
	AI              AITuning                   `yaml:"ai"`
	Analysis        AnalysisTuning             `yaml:"analysis"`
	Jobs            JobsTuning                 `yaml:"jobs"`
	Retention       RetentionTuning            `yaml:"retention"`
}

type FixFilterTuning struct {
	MaxAccuracyM float64 `yaml:"max_accuracy_m"`
	MaxSpeedKmh  float64 `yaml:"max_speed_kmh"`
	ClockSkew    string  `yaml:"clock_skew"`
}

type SegmentationTuning struct {
	StationaryRadiusM  float64 `yaml:"stationary_radius_m"`
	StationaryDuration string  `yaml:"stationary_duration"`
	MaxFixGap          string  `yaml:"max_fix_gap"`
	MinTripFixes       int     `yaml:"min_trip_fixes"`
	MinTripDistanceKm  float64 `yaml:"min_trip_distance_km"`
	MinTripDuration    string  `yaml:"min_trip_duration"`
	StitchAcrossDays   bool    `yaml:"stitch_across_days"`
	StitchWindow       string  `yaml:"stitch_window"`
}

type BandTuning struct {
	MinKmh float64 `yaml:"min_kmh"`
	MaxKmh float64 `yaml:"max_kmh"`
}

type ClassificationTuning struct {
	StopSpeedKmh        float64 `yaml:"stop_speed_kmh"`
	MinSamples          int     `yaml:"min_samples"`
	ConfidenceFloor     float64 `yaml:"confidence_floor"`
	UnknownConfidence   float64 `yaml:"unknown_confidence"`
	BusMinStopRatio     float64 `yaml:"bus_min_stop_ratio"`
	BusMinStopEvents    int     `yaml:"bus_min_stop_events"`
	BusMinSpeedCV       float64 `yaml:"bus_min_speed_cv"`
	BicycleMaxStopRatio float64 `yaml:"bicycle_max_stop_ratio"`
	CarMaxStopRatio     float64 `yaml:"car_max_stop_ratio"`
	StopRatioSeparation float64 `yaml:"stop_ratio_separation"`
	OverspeedFactor     float64 `yaml:"overspeed_factor"`
	OverspeedPenalty    float64 `yaml:"overspeed_penalty"`

	Bands struct {
		Walking    BandTuning `yaml:"walking"`
		Bicycle    BandTuning `yaml:"bicycle"`
		Motorcycle BandTuning `yaml:"motorcycle"`
		Car        BandTuning `yaml:"car"`
		Bus        BandTuning `yaml:"bus"`
	} `yaml:"bands"`

	ExpectedStopRatio struct {
		Walking    float64 `yaml:"walking"`
		Bicycle    float64 `yaml:"bicycle"`
		Motorcycle float64 `yaml:"motorcycle"`
		Car        float64 `yaml:"car"`
		Bus        float64 `yaml:"bus"`
	} `yaml:"expected_stop_ratio"`
}

type CommuteTuning struct {
	ToWindow     string `yaml:"to_window"`   // HH:MM-HH:MM local time
	FromWindow   string `yaml:"from_window"` // HH:MM-HH:MM local time
	WeekdaysOnly bool   `yaml:"weekdays_only"`
}

type AITuning struct {
	MaxConcurrent   int64  `yaml:"max_concurrent"`
	Timeout         string `yaml:"timeout"`
	BreakerFailures int    `yaml:"breaker_failures"`
	BreakerCooldown string `yaml:"breaker_cooldown"`
}

type AnalysisTuning struct {
	Budget       string `yaml:"budget"`
	Lease        string `yaml:"lease"`
	MaxRangeDays int    `yaml:"max_range_days"`
	AlgoVersion  string `yaml:"algo_version"`
}

type JobsTuning struct {
	MaxWorkers          int    `yaml:"max_workers"`
	ActiveHoursStart    int    `yaml:"active_hours_start"`
	ActiveHoursEnd      int    `yaml:"active_hours_end"`
	RecentLookback      string `yaml:"recent_lookback"`
	CatchUpLookbackDays int    `yaml:"catchup_lookback_days"`
	SyncInterval        string `yaml:"sync_interval"`
	CatchUpInterval     string `yaml:"catchup_interval"`
	PurgeInterval       string `yaml:"purge_interval"`
}

type RetentionTuning struct {
	HorizonDays int `yaml:"horizon_days"`
}

// DefaultTuning returns the embedded defaults.
func DefaultTuning() (*Tuning, error) {
	return parseTuning(defaultTuningYAML, nil)
}

// LoadTuning merges the YAML file at path over the embedded defaults.
func LoadTuning(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("tuning file must have .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return parseTuning(defaultTuningYAML, data)
}

func parseTuning(base, overlay []byte) (*Tuning, error) {
	merged := map[string]interface{}{}
	if err := yaml.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("failed to parse default tuning: %w", err)
	}
	if len(overlay) > 0 {
		override := map[string]interface{}{}
		if err := yaml.Unmarshal(overlay, &override); err != nil {
			return nil, fmt.Errorf("failed to parse tuning file: %w", err)
		}
		mergeMaps(merged, override)
	}

	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged tuning: %w", err)
	}
	t := &Tuning{}
	if err := yaml.UnmarshalWithOptions(data, t, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to decode tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// mergeMaps copies src into dst, descending into nested mappings
func mergeMaps(dst, src map[string]interface{}) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// Validate checks that the configuration values are valid.
func (t *Tuning) Validate() error {
	durations := map[string]string{
		"fix_filter.clock_skew":            t.FixFilter.ClockSkew,
		"segmentation.stationary_duration": t.Segmentation.StationaryDuration,
		"segmentation.max_fix_gap":         t.Segmentation.MaxFixGap,
		"segmentation.min_trip_duration":   t.Segmentation.MinTripDuration,
		"segmentation.stitch_window":       t.Segmentation.StitchWindow,
		"ai.timeout":                       t.AI.Timeout,
		"ai.breaker_cooldown":              t.AI.BreakerCooldown,
		"analysis.budget":                  t.Analysis.Budget,
		"analysis.lease":                   t.Analysis.Lease,
		"jobs.recent_lookback":             t.Jobs.RecentLookback,
		"jobs.sync_interval":               t.Jobs.SyncInterval,
		"jobs.catchup_interval":            t.Jobs.CatchUpInterval,
		"jobs.purge_interval":              t.Jobs.PurgeInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", key, value)
		}
	}

	c := t.Classification
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("classification.confidence_floor must be between 0 and 1, got %f", c.ConfidenceFloor)
	}
	if c.UnknownConfidence >= c.ConfidenceFloor {
		return fmt.Errorf("classification.unknown_confidence must be below confidence_floor")
	}
	bands := map[string]BandTuning{
		"walking":    c.Bands.Walking,
		"bicycle":    c.Bands.Bicycle,
		"motorcycle": c.Bands.Motorcycle,
		"car":        c.Bands.Car,
		"bus":        c.Bands.Bus,
	}
	for name, b := range bands {
		if b.MinKmh < 0 || b.MaxKmh <= b.MinKmh {
			return fmt.Errorf("classification.bands.%s must satisfy 0 <= min_kmh < max_kmh", name)
		}
	}

	f := t.EmissionFactors
	for _, v := range []float64{f.Walking, f.Bicycle, f.Motorcycle, f.Car, f.Bus, f.Rail, f.Unknown} {
		if v < 0 {
			return fmt.Errorf("emission_factors must be non-negative")
		}
	}
	if f.Unknown == 0 {
		return fmt.Errorf("emission_factors.unknown must be set")
	}

	if _, _, err := parseWindow(t.Commute.ToWindow); err != nil {
		return fmt.Errorf("invalid commute.to_window: %w", err)
	}
	if _, _, err := parseWindow(t.Commute.FromWindow); err != nil {
		return fmt.Errorf("invalid commute.from_window: %w", err)
	}

	if t.Segmentation.MinTripFixes < 2 {
		return fmt.Errorf("segmentation.min_trip_fixes must be at least 2, got %d", t.Segmentation.MinTripFixes)
	}
	if t.AI.MaxConcurrent < 1 {
		return fmt.Errorf("ai.max_concurrent must be positive, got %d", t.AI.MaxConcurrent)
	}
	if t.Jobs.MaxWorkers < 1 {
		return fmt.Errorf("jobs.max_workers must be positive, got %d", t.Jobs.MaxWorkers)
	}
	if t.Jobs.ActiveHoursStart < 0 || t.Jobs.ActiveHoursEnd > 24 || t.Jobs.ActiveHoursStart >= t.Jobs.ActiveHoursEnd {
		return fmt.Errorf("jobs active hours must satisfy 0 <= start < end <= 24")
	}
	if t.Analysis.MaxRangeDays < 1 {
		return fmt.Errorf("analysis.max_range_days must be positive, got %d", t.Analysis.MaxRangeDays)
	}
	if t.Retention.HorizonDays < 1 {
		return fmt.Errorf("retention.horizon_days must be positive, got %d", t.Retention.HorizonDays)
	}
	return nil
}

// duration parses a value already accepted by Validate
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// parseWindow parses "HH:MM-HH:MM" into offsets from midnight
func parseWindow(s string) (time.Duration, time.Duration, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM-HH:MM, got %q", s)
	}
	var bounds [2]time.Duration
	for i, p := range parts {
		clock, err := time.Parse("15:04", strings.TrimSpace(p))
		if err != nil {
			return 0, 0, fmt.Errorf("expected HH:MM-HH:MM, got %q", s)
		}
		bounds[i] = time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute
	}
	if bounds[0] >= bounds[1] {
		return 0, 0, fmt.Errorf("window %q ends before it starts", s)
	}
	return bounds[0], bounds[1], nil
}

// GetClockSkew returns how far in the future a fix may be recorded.
func (t *Tuning) GetClockSkew() time.Duration { return duration(t.FixFilter.ClockSkew) }

// GetStitchWindow returns the padding added around a day when stitching is on.
func (t *Tuning) GetStitchWindow() time.Duration {
	if !t.Segmentation.StitchAcrossDays {
		return 0
	}
	return duration(t.Segmentation.StitchWindow)
}

func (t *Tuning) GetAnalysisBudget() time.Duration { return duration(t.Analysis.Budget) }
func (t *Tuning) GetAnalysisLease() time.Duration  { return duration(t.Analysis.Lease) }
func (t *Tuning) GetRecentLookback() time.Duration { return duration(t.Jobs.RecentLookback) }
func (t *Tuning) GetSyncInterval() time.Duration   { return duration(t.Jobs.SyncInterval) }
func (t *Tuning) GetCatchUpInterval() time.Duration {
	return duration(t.Jobs.CatchUpInterval)
}
func (t *Tuning) GetPurgeInterval() time.Duration { return duration(t.Jobs.PurgeInterval) }

// FilterThresholds returns the fix filter settings.
func (t *Tuning) FilterThresholds() foundation.FilterThresholds {
	return foundation.FilterThresholds{
		MaxAccuracyM: t.FixFilter.MaxAccuracyM,
		MaxSpeedKmh:  t.FixFilter.MaxSpeedKmh,
	}
}

// SegmentationParams returns the trip segmenter settings.
func (t *Tuning) SegmentationParams() behavior.SegmentationParams {
	s := t.Segmentation
	return behavior.SegmentationParams{
		StationaryRadiusM:  s.StationaryRadiusM,
		StationaryDuration: duration(s.StationaryDuration),
		MaxFixGap:          duration(s.MaxFixGap),
		MinTripFixes:       s.MinTripFixes,
		MinTripDistanceKm:  s.MinTripDistanceKm,
		MinTripDuration:    duration(s.MinTripDuration),
	}
}

// ClassificationParams returns the mode classifier settings.
func (t *Tuning) ClassificationParams() behavior.ClassificationParams {
	c := t.Classification
	band := func(b BandTuning) behavior.SpeedBand {
		return behavior.SpeedBand{MinKmh: b.MinKmh, MaxKmh: b.MaxKmh}
	}
	return behavior.ClassificationParams{
		Bands: behavior.ModeBands{
			Walking:    band(c.Bands.Walking),
			Bicycle:    band(c.Bands.Bicycle),
			Motorcycle: band(c.Bands.Motorcycle),
			Car:        band(c.Bands.Car),
			Bus:        band(c.Bands.Bus),
		},
		ExpectedStopRatio: behavior.StopRatios{
			Walking:    c.ExpectedStopRatio.Walking,
			Bicycle:    c.ExpectedStopRatio.Bicycle,
			Motorcycle: c.ExpectedStopRatio.Motorcycle,
			Car:        c.ExpectedStopRatio.Car,
			Bus:        c.ExpectedStopRatio.Bus,
		},
		StopSpeedKmh:        c.StopSpeedKmh,
		MinSamples:          c.MinSamples,
		ConfidenceFloor:     c.ConfidenceFloor,
		UnknownConfidence:   c.UnknownConfidence,
		BusMinStopRatio:     c.BusMinStopRatio,
		BusMinStopEvents:    c.BusMinStopEvents,
		BusMinSpeedCV:       c.BusMinSpeedCV,
		BicycleMaxStopRatio: c.BicycleMaxStopRatio,
		CarMaxStopRatio:     c.CarMaxStopRatio,
		StopRatioSeparation: c.StopRatioSeparation,
		OverspeedFactor:     c.OverspeedFactor,
		OverspeedPenalty:    c.OverspeedPenalty,
	}
}

// CommuteWindows returns the commute categorizer settings.
func (t *Tuning) CommuteWindows() behavior.CommuteWindows {
	toStart, toEnd, _ := parseWindow(t.Commute.ToWindow)
	fromStart, fromEnd, _ := parseWindow(t.Commute.FromWindow)
	return behavior.CommuteWindows{
		ToStart:      toStart,
		ToEnd:        toEnd,
		FromStart:    fromStart,
		FromEnd:      fromEnd,
		WeekdaysOnly: t.Commute.WeekdaysOnly,
	}
}

// AIGateParams returns the limits applied around the AI classifier.
func (t *Tuning) AIGateParams() behavior.AIGateParams {
	return behavior.AIGateParams{
		MaxConcurrent:   t.AI.MaxConcurrent,
		Timeout:         duration(t.AI.Timeout),
		BreakerFailures: t.AI.BreakerFailures,
		BreakerCooldown: duration(t.AI.BreakerCooldown),
	}
}
