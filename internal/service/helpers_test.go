package service

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/analysis"
	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/database"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
)

const metersPerDegreeLat = spatial.EarthRadiusMeters * math.Pi / 180

// now is a Monday evening, inside the default active hours
var now = time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *sql.DB
	tuning   *config.Tuning
	ingest   *IngestService
	analysis *AnalysisService
	trips    *TripService
	stats    *StatsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTunedTestEnv(t, nil)
}

// newTunedTestEnv lets tune adjust the default tuning before the pipeline is
// built
func newTunedTestEnv(t *testing.T, tune func(*config.Tuning)) *testEnv {
	t.Helper()

	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, database.MigrateUp(conn))
	t.Cleanup(func() { conn.Close() })

	tuning, err := config.DefaultTuning()
	require.NoError(t, err)
	if tune != nil {
		tune(tuning)
		require.NoError(t, tuning.Validate())
	}

	clock := func() time.Time { return now }

	ingest := NewIngestService(conn, time.UTC, tuning.GetClockSkew())
	ingest.now = clock

	svc := NewAnalysisService(conn, analysis.NewPipeline(tuning, time.UTC, nil), tuning, time.UTC)
	svc.now = clock

	fixRepo := repository.NewFixRepository(conn)
	return &testEnv{
		db:       conn,
		tuning:   tuning,
		ingest:   ingest,
		analysis: svc,
		trips:    NewTripService(repository.NewTripRepository(conn), fixRepo),
		stats:    NewStatsService(repository.NewStatsRepository(conn), repository.NewAnalysisUnitRepository(conn), fixRepo),
	}
}

// commuteDay returns a day at home, a 45 km/h drive at 07:50, a day at work
// and a walk at 17:00
func commuteDay(subjectID string, day time.Time) []models.FixInput {
	var inputs []models.FixInput
	lat := 51.5
	at := day.Add(7*time.Hour - time.Minute)
	add := func() {
		recorded := at
		inputs = append(inputs, models.FixInput{SubjectID: subjectID, Latitude: ptr(lat), Longitude: ptr(-0.12), RecordedAt: &recorded})
	}
	stay := func(until time.Time) {
		for next := at.Add(time.Minute); next.Before(until); next = next.Add(time.Minute) {
			at = next
			add()
		}
	}
	move := func(n int, step float64) {
		for i := 0; i < n; i++ {
			at = at.Add(30 * time.Second)
			lat += step / metersPerDegreeLat
			add()
		}
	}

	stay(day.Add(7*time.Hour + 50*time.Minute))
	move(40, 375)
	stay(day.Add(17 * time.Hour))
	move(20, 33)
	stay(day.Add(17*time.Hour + 30*time.Minute))
	return inputs
}

func ptr[T any](v T) *T { return &v }

func countRows(t *testing.T, conn *sql.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(query, args...).Scan(&n))
	return n
}
