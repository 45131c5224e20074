package behavior

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

// ErrClassificationUnavailable means the AI classifier gave no usable answer
var ErrClassificationUnavailable = errors.New("ai classification unavailable")

// AIResult is a second-opinion classification from an external service
type AIResult struct {
	Mode       models.TransportMode
	Confidence float64
}

// AIClassifier is an external transport mode classifier
type AIClassifier interface {
	Classify(ctx context.Context, fixes []models.Fix) (*AIResult, error)
}

// AIGateParams bounds calls to the AI classifier
type AIGateParams struct {
	MaxConcurrent   int64
	Timeout         time.Duration
	BreakerFailures int // consecutive failures that open the breaker, 0 disables it
	BreakerCooldown time.Duration
}

// DefaultAIGateParams provides default AI call limits
var DefaultAIGateParams = AIGateParams{
	MaxConcurrent:   4,
	Timeout:         10 * time.Second,
	BreakerFailures: 5,
	BreakerCooldown: time.Minute,
}

// AIGate wraps an AIClassifier with a concurrency limit, a per-call timeout
// and a circuit breaker. Every failure is reported as
// ErrClassificationUnavailable.
type AIGate struct {
	classifier AIClassifier
	params     AIGateParams
	sem        *semaphore.Weighted

	mu        sync.Mutex
	failures  int
	tripped   bool
	openUntil time.Time
	now       func() time.Time
}

// NewAIGate creates a gate around classifier
func NewAIGate(classifier AIClassifier, params AIGateParams) *AIGate {
	if params.MaxConcurrent < 1 {
		params.MaxConcurrent = 1
	}
	return &AIGate{
		classifier: classifier,
		params:     params,
		sem:        semaphore.NewWeighted(params.MaxConcurrent),
		now:        time.Now,
	}
}

// Classify asks the wrapped classifier for a second opinion
func (g *AIGate) Classify(ctx context.Context, fixes []models.Fix) (*AIResult, error) {
	if g.isOpen() {
		return nil, fmt.Errorf("%w: circuit open", ErrClassificationUnavailable)
	}

	callCtx := ctx
	if g.params.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.params.Timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(callCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}
	defer g.sem.Release(1)

	result, err := g.classifier.Classify(callCtx, fixes)
	if err == nil {
		err = validateAIResult(result)
	}

	// A cancelled caller says nothing about the classifier's health
	if ctx.Err() == nil {
		g.record(err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}
	return result, nil
}

func validateAIResult(r *AIResult) error {
	if r == nil {
		return errors.New("empty response")
	}
	if !r.Mode.Valid() || r.Mode == models.ModeUnknown {
		return fmt.Errorf("unusable mode %q", r.Mode)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range", r.Confidence)
	}
	return nil
}

func (g *AIGate) isOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.openUntil)
}

func (g *AIGate) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.failures = 0
		g.tripped = false
		return
	}

	g.failures++
	// After a cooldown a single failed trial call reopens the breaker
	if g.params.BreakerFailures > 0 && (g.tripped || g.failures >= g.params.BreakerFailures) {
		g.openUntil = g.now().Add(g.params.BreakerCooldown)
		g.tripped = true
		g.failures = 0
		log.Warn().Str("component", "ai_gate").Err(err).Time("open_until", g.openUntil).Msg("AI classifier circuit opened")
	}
}
