package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/analysis"
	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/database"
	"github.com/jengzang/commute-trips-backend/internal/middleware"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/repository"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/internal/spatial"
)

const secret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	require.NoError(t, database.MigrateUp(conn))
	t.Cleanup(func() { conn.Close() })

	tuning, err := config.DefaultTuning()
	require.NoError(t, err)

	fixRepo := repository.NewFixRepository(conn)
	svc := Services{
		Ingest:   service.NewIngestService(conn, time.UTC, tuning.GetClockSkew()),
		Analysis: service.NewAnalysisService(conn, analysis.NewPipeline(tuning, time.UTC, nil), tuning, time.UTC),
		Trips:    service.NewTripService(repository.NewTripRepository(conn), fixRepo),
		Stats:    service.NewStatsService(repository.NewStatsRepository(conn), repository.NewAnalysisUnitRepository(conn), fixRepo),
	}
	cfg := &config.Config{JWTSecret: secret, Location: time.UTC, Tuning: tuning}
	return SetupRouter(cfg, svc)
}

func do(t *testing.T, r http.Handler, method, path, subject string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		token, err := middleware.IssueToken(secret, subject, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

// commuteDay is a morning drive and an evening walk on a Monday
func commuteDay(subjectID string) []models.FixInput {
	const metersPerDegreeLat = spatial.EarthRadiusMeters * math.Pi / 180
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	var inputs []models.FixInput
	lat := 51.5
	at := day.Add(7*time.Hour - time.Minute)
	add := func() {
		recorded := at
		latitude, longitude := lat, -0.12
		inputs = append(inputs, models.FixInput{SubjectID: subjectID, Latitude: &latitude, Longitude: &longitude, RecordedAt: &recorded})
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

func TestHealth(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestIngestFixes(t *testing.T) {
	r := newRouter(t)
	fixes := commuteDay("badge-1")

	code, env := do(t, r, http.MethodPost, "/api/v1/fixes", "", fixes)
	require.Equal(t, http.StatusOK, code)
	var res models.BatchResult
	decode(t, env.Data, &res)
	assert.Equal(t, len(fixes), res.Accepted)

	// Replaying the upload changes nothing
	_, env = do(t, r, http.MethodPost, "/api/v1/fixes", "", fixes)
	decode(t, env.Data, &res)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, len(fixes), res.Duplicates)

	// A single object is accepted too
	lat, lon := 123.0, 0.0
	bad := models.FixInput{SubjectID: "badge-1", Latitude: &lat, Longitude: &lon, RecordedAt: fixes[0].RecordedAt}
	code, env = do(t, r, http.MethodPost, "/api/v1/fixes", "", bad)
	require.Equal(t, http.StatusOK, code)
	decode(t, env.Data, &res)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.FixStatusRejected, res.Results[0].Status)

	// Omitted coordinates are not read as zero
	code, env = do(t, r, http.MethodPost, "/api/v1/fixes", "", `{"subject_id":"badge-1","longitude":13.4,"recorded_at":"2024-05-06T19:00:00Z"}`)
	require.Equal(t, http.StatusOK, code)
	decode(t, env.Data, &res)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Contains(t, res.Results[0].Reason, "latitude")

	code, _ = do(t, r, http.MethodPost, "/api/v1/fixes", "", `{"subject_id":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/fixes", "", `[]`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubjectEndpointsRequireToken(t *testing.T) {
	r := newRouter(t)
	code, _ := do(t, r, http.MethodGet, "/api/v1/me/trips", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAnalysisLifecycle(t *testing.T) {
	r := newRouter(t)
	code, _ := do(t, r, http.MethodPost, "/api/v1/fixes", "", commuteDay("badge-1"))
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, r, http.MethodPost, "/api/v1/me/analysis/date", "badge-1", gin.H{"date": "2024-05-06"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var result models.AnalysisResult
	decode(t, env.Data, &result)
	assert.Equal(t, models.OutcomeCommitted, result.Outcome)
	assert.Equal(t, 2, result.TripCount)

	code, env = do(t, r, http.MethodGet, "/api/v1/me/trips?date=2024-05-06", "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	var trips models.TripsResponse
	decode(t, env.Data, &trips)
	require.Len(t, trips.Data, 2)
	assert.EqualValues(t, 2, trips.Total)

	code, env = do(t, r, http.MethodGet, "/api/v1/me/trips?mode=car", "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, env.Data, &trips)
	require.Len(t, trips.Data, 1)
	car := trips.Data[0]
	assert.Equal(t, models.TripCategoryCommuteTo, car.TripCategory)

	code, env = do(t, r, http.MethodGet, "/api/v1/me/trips/"+car.ID, "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	var got models.Trip
	decode(t, env.Data, &got)
	assert.Equal(t, car.ID, got.ID)

	code, env = do(t, r, http.MethodGet, "/api/v1/me/trips/"+car.ID+"/trace", "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	var trace models.TripTrace
	decode(t, env.Data, &trace)
	assert.Len(t, trace.Fixes, car.FixCount)

	// Another subject cannot see the trip
	code, _ = do(t, r, http.MethodGet, "/api/v1/me/trips/"+car.ID, "badge-2", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/me/stats?from=2024-05-01&to=2024-05-31", "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	var stats models.SubjectStatistics
	decode(t, env.Data, &stats)
	assert.Equal(t, 2, stats.TripCount)
	assert.Equal(t, 2, stats.CommuteTrips)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/me/trips?date=2024-05-06", "badge-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodDelete, "/api/v1/me/trips?date=2024-05-06&confirm=2024-05-06", "badge-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"date":"2024-05-06","deleted":2}`, string(env.Data))
}

func TestAnalysisValidation(t *testing.T) {
	r := newRouter(t)

	code, _ := do(t, r, http.MethodPost, "/api/v1/me/analysis/date", "badge-1", gin.H{"date": "06/05/2024"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/me/analysis/date", "badge-1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/me/analysis/range", "badge-1", gin.H{"from": "2024-01-01", "to": "2024-06-01"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := do(t, r, http.MethodPost, "/api/v1/me/analysis/range", "badge-1", gin.H{"from": "2024-05-06", "to": "2024-05-07"})
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Results []models.AnalysisResult `json:"results"`
	}
	decode(t, env.Data, &body)
	assert.Len(t, body.Results, 2)

	code, _ = do(t, r, http.MethodGet, "/api/v1/me/trips?mode=plane", "badge-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
