package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

// Wednesday 1 May 2024 at midnight
var wednesday = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func stitching(t *config.Tuning) {
	t.Segmentation.StitchAcrossDays = true
}

// overnightDrive is a stay at home, a 45 km/h drive from 23:30 to 00:30 and
// a stay at the destination
func overnightDrive(subjectID string) []models.FixInput {
	var inputs []models.FixInput
	lat := 51.5
	at := wednesday.Add(23 * time.Hour)
	add := func() {
		recorded := at
		inputs = append(inputs, models.FixInput{SubjectID: subjectID, Latitude: ptr(lat), Longitude: ptr(-0.12), RecordedAt: &recorded})
	}

	add()
	for at.Before(wednesday.Add(23*time.Hour + 30*time.Minute)) {
		at = at.Add(time.Minute)
		add()
	}
	for i := 0; i < 120; i++ {
		at = at.Add(30 * time.Second)
		lat += 375 / metersPerDegreeLat
		add()
	}
	for at.Before(wednesday.Add(25 * time.Hour)) {
		at = at.Add(time.Minute)
		add()
	}
	return inputs
}

func tripsBetween(t *testing.T, env *testEnv, from, to string) []models.Trip {
	t.Helper()
	res, err := env.trips.GetTrips(context.Background(), "s1", models.TripFilter{From: from, To: to})
	require.NoError(t, err)
	return res.Data
}

func TestStitchedTripSurvivesLateContinuation(t *testing.T) {
	ctx := context.Background()
	fixes := overnightDrive("s1")
	midnight := wednesday.AddDate(0, 0, 1)

	var before, after []models.FixInput
	for _, f := range fixes {
		if f.RecordedAt.Before(midnight) {
			before = append(before, f)
		} else {
			after = append(after, f)
		}
	}
	require.NotEmpty(t, before)
	require.NotEmpty(t, after)

	// Everything uploaded before either date is analysed
	whole := newTunedTestEnv(t, stitching)
	_, err := whole.ingest.IngestBatch(ctx, fixes)
	require.NoError(t, err)
	_, err = whole.analysis.AnalyzeRange(ctx, "s1", "2024-05-01", "2024-05-02")
	require.NoError(t, err)
	want := tripsBetween(t, whole, "2024-05-01", "2024-05-02")
	require.Len(t, want, 1)
	assert.Equal(t, "2024-05-01", want[0].TripDate)
	assert.InDelta(t, 44.5, want[0].DistanceKm, 1.0)

	// The first date is analysed before midnight, the rest arrives later
	split := newTunedTestEnv(t, stitching)
	_, err = split.ingest.IngestBatch(ctx, before)
	require.NoError(t, err)
	_, err = split.analysis.AnalyzeDate(ctx, "s1", "2024-05-01")
	require.NoError(t, err)
	partial := tripsBetween(t, split, "2024-05-01", "2024-05-02")
	require.Len(t, partial, 1)
	assert.Less(t, partial[0].DistanceKm, want[0].DistanceKm)

	_, err = split.ingest.IngestBatch(ctx, after)
	require.NoError(t, err)
	report, err := split.analysis.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UnitsTotal)
	assert.Equal(t, 2, report.Succeeded)

	got := tripsBetween(t, split, "2024-05-01", "2024-05-02")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trips differ from one-shot analysis (-want +got):\n%s", diff)
	}
}

func TestAnalyzeDateReconcilesStitchedNeighbour(t *testing.T) {
	ctx := context.Background()
	fixes := overnightDrive("s1")
	midnight := wednesday.AddDate(0, 0, 1)

	whole := newTunedTestEnv(t, stitching)
	_, err := whole.ingest.IngestBatch(ctx, fixes)
	require.NoError(t, err)
	_, err = whole.analysis.AnalyzeRange(ctx, "s1", "2024-05-01", "2024-05-02")
	require.NoError(t, err)
	want := tripsBetween(t, whole, "2024-05-01", "2024-05-02")
	require.Len(t, want, 1)

	t.Run("late continuation analysed on its own date", func(t *testing.T) {
		env := newTunedTestEnv(t, stitching)
		var before, after []models.FixInput
		for _, f := range fixes {
			if f.RecordedAt.Before(midnight) {
				before = append(before, f)
			} else {
				after = append(after, f)
			}
		}
		_, err := env.ingest.IngestBatch(ctx, before)
		require.NoError(t, err)
		_, err = env.analysis.AnalyzeDate(ctx, "s1", "2024-05-01")
		require.NoError(t, err)

		_, err = env.ingest.IngestBatch(ctx, after)
		require.NoError(t, err)
		res, err := env.analysis.AnalyzeDate(ctx, "s1", "2024-05-02")
		require.NoError(t, err)
		assert.Equal(t, 0, res.TripCount)

		got := tripsBetween(t, env, "2024-05-01", "2024-05-02")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("trips differ from one-shot analysis (-want +got):\n%s", diff)
		}
	})

	t.Run("second date analysed first", func(t *testing.T) {
		env := newTunedTestEnv(t, stitching)
		_, err := env.ingest.IngestBatch(ctx, fixes)
		require.NoError(t, err)
		_, err = env.analysis.AnalyzeDate(ctx, "s1", "2024-05-02")
		require.NoError(t, err)

		got := tripsBetween(t, env, "2024-05-01", "2024-05-02")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("trips differ from one-shot analysis (-want +got):\n%s", diff)
		}
		pending, err := env.analysis.pendingUnits(ctx, "2024-04-01")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestPendingUnitsQueuesStitchNeighbours(t *testing.T) {
	ctx := context.Background()
	env := newTunedTestEnv(t, stitching)

	late := wednesday.Add(23*time.Hour + 50*time.Minute)
	noon := wednesday.AddDate(0, 0, 3).Add(12 * time.Hour)
	for _, at := range []time.Time{late, noon} {
		_, err := env.ingest.Ingest(ctx, models.FixInput{SubjectID: "s1", Latitude: ptr(51.5), Longitude: ptr(-0.12), RecordedAt: &at})
		require.NoError(t, err)
	}

	keys, err := env.analysis.pendingUnits(ctx, "2024-04-01")
	require.NoError(t, err)
	assert.Equal(t, []models.UnitKey{
		{SubjectID: "s1", Date: "2024-05-01"},
		{SubjectID: "s1", Date: "2024-05-02"},
		{SubjectID: "s1", Date: "2024-05-04"},
	}, keys)

	// Without stitching only the fixes' own dates are pending
	plain := newTestEnv(t)
	_, err = plain.ingest.Ingest(ctx, models.FixInput{SubjectID: "s1", Latitude: ptr(51.5), Longitude: ptr(-0.12), RecordedAt: &late})
	require.NoError(t, err)
	keys, err = plain.analysis.pendingUnits(ctx, "2024-04-01")
	require.NoError(t, err)
	assert.Equal(t, []models.UnitKey{{SubjectID: "s1", Date: "2024-05-01"}}, keys)
}
