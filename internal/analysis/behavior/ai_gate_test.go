package behavior

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

type blockingAI struct{}

func (blockingAI) Classify(ctx context.Context, fixes []models.Fix) (*AIResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAIGateTimeout(t *testing.T) {
	params := DefaultAIGateParams
	params.Timeout = 20 * time.Millisecond
	gate := NewAIGate(blockingAI{}, params)

	start := time.Now()
	_, err := gate.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClassificationUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAIGateBreakerOpensAndRecovers(t *testing.T) {
	ai := &fakeAI{err: errors.New("503")}
	params := DefaultAIGateParams
	params.BreakerFailures = 3
	params.BreakerCooldown = time.Minute
	gate := NewAIGate(ai, params)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := gate.Classify(context.Background(), nil)
		require.ErrorIs(t, err, ErrClassificationUnavailable)
	}
	require.Equal(t, 3, ai.calls)

	// Open: the classifier is not called
	_, err := gate.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClassificationUnavailable)
	assert.Equal(t, 3, ai.calls)

	// After the cooldown a failing trial call reopens immediately
	now = now.Add(2 * time.Minute)
	_, _ = gate.Classify(context.Background(), nil)
	assert.Equal(t, 4, ai.calls)
	_, _ = gate.Classify(context.Background(), nil)
	assert.Equal(t, 4, ai.calls)

	// A successful trial call closes it
	now = now.Add(2 * time.Minute)
	ai.err = nil
	ai.result = &AIResult{Mode: models.ModeCar, Confidence: 0.8}
	res, err := gate.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ModeCar, res.Mode)
	_, err = gate.Classify(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 6, ai.calls)
}

type countingAI struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingAI) Classify(ctx context.Context, fixes []models.Fix) (*AIResult, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &AIResult{Mode: models.ModeBus, Confidence: 0.7}, nil
}

func TestAIGateBoundsConcurrency(t *testing.T) {
	ai := &countingAI{}
	params := DefaultAIGateParams
	params.MaxConcurrent = 2
	gate := NewAIGate(ai, params)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Classify(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, ai.peak.Load(), int32(2))
}

func TestAIGateCancelledCallerDoesNotTripBreaker(t *testing.T) {
	params := DefaultAIGateParams
	params.BreakerFailures = 1
	gate := NewAIGate(blockingAI{}, params)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gate.Classify(ctx, nil)
	assert.ErrorIs(t, err, ErrClassificationUnavailable)
	assert.False(t, gate.isOpen())
}
