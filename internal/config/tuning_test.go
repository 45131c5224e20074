package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/analysis/behavior"
	"github.com/jengzang/commute-trips-backend/internal/analysis/foundation"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

func TestDefaultTuningMatchesPackageDefaults(t *testing.T) {
	tuning, err := DefaultTuning()
	require.NoError(t, err)

	if diff := cmp.Diff(behavior.DefaultClassificationParams, tuning.ClassificationParams()); diff != "" {
		t.Errorf("classification params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(behavior.DefaultSegmentationParams, tuning.SegmentationParams()); diff != "" {
		t.Errorf("segmentation params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(behavior.DefaultCommuteWindows, tuning.CommuteWindows()); diff != "" {
		t.Errorf("commute windows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(behavior.DefaultAIGateParams, tuning.AIGateParams()); diff != "" {
		t.Errorf("ai gate params mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, foundation.DefaultThresholds, tuning.FilterThresholds())
	assert.Equal(t, models.DefaultEmissionFactors, tuning.EmissionFactors)

	assert.Equal(t, 5*time.Minute, tuning.GetClockSkew())
	assert.Equal(t, 2*time.Minute, tuning.GetAnalysisBudget())
	assert.Equal(t, 15*time.Minute, tuning.GetSyncInterval())
	assert.Equal(t, time.Duration(0), tuning.GetStitchWindow(), "stitching is off by default")
	assert.Equal(t, 31, tuning.Analysis.MaxRangeDays)
	assert.Equal(t, 90, tuning.Retention.HorizonDays)
}

func TestParseTuningOverlay(t *testing.T) {
	overlay := []byte(`
emission_factors:
  car: 0.25
segmentation:
  stitch_across_days: true
jobs:
  max_workers: 8
`)
	tuning, err := parseTuning(defaultTuningYAML, overlay)
	require.NoError(t, err)

	assert.Equal(t, 0.25, tuning.EmissionFactors.Car)
	// Siblings of overridden keys keep their defaults
	assert.Equal(t, 0.105, tuning.EmissionFactors.Bus)
	assert.Equal(t, 8, tuning.Jobs.MaxWorkers)
	assert.Equal(t, 5, tuning.Jobs.ActiveHoursStart)
	assert.Equal(t, 2*time.Hour, tuning.GetStitchWindow())
}

func TestParseTuningRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		overlay string
	}{
		{"bad duration", "analysis:\n  budget: soon\n"},
		{"negative factor", "emission_factors:\n  bus: -1\n"},
		{"inverted band", "classification:\n  bands:\n    car: { min_kmh: 80, max_kmh: 30 }\n"},
		{"bad window", "commute:\n  to_window: \"11:00-05:00\"\n"},
		{"unknown key", "analysis:\n  budgte: 1m\n"},
		{"floor below unknown", "classification:\n  confidence_floor: 0.1\n"},
		{"bad active hours", "jobs:\n  active_hours_start: 23\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTuning(defaultTuningYAML, []byte(tt.overlay))
			assert.Error(t, err)
		})
	}
}

func TestLoadTuningFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  horizon_days: 30\n"), 0o600))
	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 30, tuning.Retention.HorizonDays)

	wrongExt := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(wrongExt, []byte("{}"), 0o600))
	_, err = LoadTuning(wrongExt)
	assert.Error(t, err)

	_, err = LoadTuning(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TIMEZONE", "Europe/London")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("TUNING_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", cfg.Location.String())
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.NotNil(t, cfg.Tuning)

	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}
