package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

func sampleFixes() []models.Fix {
	speed := 32.0
	start := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	return []models.Fix{
		{Latitude: 51.50, Longitude: -0.12, SpeedKmh: &speed, RecordedAt: start},
		{Latitude: 51.51, Longitude: -0.12, RecordedAt: start.Add(time.Minute)},
	}
}

func newTestClient(url string) *Client {
	c := New(url, "secret")
	c.InitialBackoff = time.Millisecond
	return c
}

func TestClassifySendsFixesAndParsesMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body []map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body, 2)
		assert.Equal(t, 32.0, body[0]["speed"])
		assert.NotContains(t, body[1], "speed")
		assert.Equal(t, float64(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC).UnixMilli()), body[0]["timestamp"])

		w.Write([]byte(`{"transport_mode":"Train","confidence":0.83,"total_distance":1.1,"carbon_emission":99,"suggestions":["take the bus"]}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Classify(context.Background(), sampleFixes())
	require.NoError(t, err)
	assert.Equal(t, models.ModeRail, res.Mode)
	assert.InDelta(t, 0.83, res.Confidence, 1e-9)
}

func TestClassifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"transport_mode":"bus","confidence":0.7}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Classify(context.Background(), sampleFixes())
	require.NoError(t, err)
	assert.Equal(t, models.ModeBus, res.Mode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClassifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), sampleFixes())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassifyRejectsMalformedResponses(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `<html>`,
		"unknown mode": `{"transport_mode":"hovercraft","confidence":0.9}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Classify(context.Background(), sampleFixes())
			assert.Error(t, err)
		})
	}
}

func TestClassifyGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Classify(context.Background(), sampleFixes())
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
