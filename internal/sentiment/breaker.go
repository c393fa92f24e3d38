package sentiment

import (
	"context"
	"time"

	"sentimentengine/internal/retry"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// BreakerScorer wraps a Scorer with a circuit breaker so a failing
// provider endpoint stops being hammered once it has tripped, instead of
// every article paying the full retry cost against a dead endpoint.
type BreakerScorer struct {
	inner   Scorer
	breaker *retry.CircuitBreaker

	// OnStateChange, if set, is called whenever the breaker transitions,
	// e.g. to drive a circuit_breaker_state metric.
	OnStateChange func(from, to retry.State)
}

// NewBreakerScorer wraps inner with a breaker that opens after
// breakerMaxFailures consecutive failures and probes again after
// breakerResetTimeout.
func NewBreakerScorer(inner Scorer) *BreakerScorer {
	b := &BreakerScorer{
		inner:   inner,
		breaker: retry.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout),
	}
	b.breaker.OnStateChange = func(from, to retry.State) {
		if b.OnStateChange != nil {
			b.OnStateChange(from, to)
		}
	}
	return b
}

// Score implements Scorer. When the breaker is open it fails fast with
// ErrUndefined rather than calling inner, so worker.go's existing
// drop-without-saving path handles it the same as any other scoring failure.
func (b *BreakerScorer) Score(ctx context.Context, headline, summary string) (float64, error) {
	var score float64
	err := b.breaker.Execute(func() error {
		s, err := b.inner.Score(ctx, headline, summary)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	if err != nil {
		return 0, ErrUndefined
	}
	return score, nil
}

// State returns the breaker's current state.
func (b *BreakerScorer) State() retry.State {
	return b.breaker.CurrentState()
}
