// Package aiclient talks to the external trip classification service.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jengzang/commute-trips-backend/internal/analysis/behavior"
	"github.com/jengzang/commute-trips-backend/internal/models"
)

const maxResponseBytes = 1 << 20

// Client posts a trip's fixes to the classifier and parses its verdict
type Client struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries uint64
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
}

// New creates a client. Each attempt is bounded by the caller's context.
func New(url, apiKey string) *Client {
	return &Client{
		URL:            url,
		APIKey:         apiKey,
		HTTPClient:     &http.Client{},
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
	}
}

type fixPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

type classifyResponse struct {
	TransportMode  string   `json:"transport_mode"`
	Confidence     float64  `json:"confidence"`
	TotalDistance  float64  `json:"total_distance"`
	TotalDuration  float64  `json:"total_duration"`
	CarbonEmission float64  `json:"carbon_emission"`
	Suggestions    []string `json:"suggestions"`
}

// Classify implements behavior.AIClassifier. Only the mode and confidence of
// the answer are used; distance and emission are always computed locally.
func (c *Client) Classify(ctx context.Context, fixes []models.Fix) (*behavior.AIResult, error) {
	payload := make([]fixPayload, len(fixes))
	for i, f := range fixes {
		payload[i] = fixPayload{
			Latitude:  f.Latitude,
			Longitude: f.Longitude,
			Speed:     f.SpeedKmh,
			Timestamp: f.RecordedAt.UnixMilli(),
			Accuracy:  f.AccuracyM,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fixes: %w", err)
	}

	var result *behavior.AIResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("classifier returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("classifier returned %d", resp.StatusCode))
		}

		var parsed classifyResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed classifier response: %w", err))
		}
		mode, ok := models.ParseTransportMode(parsed.TransportMode)
		if !ok {
			return backoff.Permanent(fmt.Errorf("unrecognised transport mode %q", parsed.TransportMode))
		}

		result = &behavior.AIResult{Mode: mode, Confidence: parsed.Confidence}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.MaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to classify trip: %w", err)
	}
	return result, nil
}
