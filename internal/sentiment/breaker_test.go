package sentiment

import (
	"context"
	"errors"
	"testing"

	"sentimentengine/internal/retry"
)

type failingScorer struct {
	err error
}

func (f *failingScorer) Score(ctx context.Context, headline, summary string) (float64, error) {
	return 0, f.err
}

func TestBreakerScorer_OpensAfterMaxFailures(t *testing.T) {
	inner := &failingScorer{err: errors.New("boom")}
	b := NewBreakerScorer(inner)

	var states []retry.State
	b.OnStateChange = func(from, to retry.State) { states = append(states, to) }

	for i := 0; i < breakerMaxFailures; i++ {
		if _, err := b.Score(context.Background(), "h", "s"); !errors.Is(err, ErrUndefined) {
			t.Fatalf("expected ErrUndefined, got %v", err)
		}
	}

	if b.State() != retry.StateOpen {
		t.Fatalf("expected breaker open after %d failures, got %v", breakerMaxFailures, b.State())
	}
	if len(states) == 0 || states[len(states)-1] != retry.StateOpen {
		t.Error("expected OnStateChange to report open transition")
	}
}

func TestBreakerScorer_PassesThroughSuccess(t *testing.T) {
	inner := &stubScorer{results: []float64{0.5}}
	b := NewBreakerScorer(inner)

	score, err := b.Score(context.Background(), "h", "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.5 {
		t.Errorf("expected 0.5, got %v", score)
	}
	if b.State() != retry.StateClosed {
		t.Errorf("expected closed state, got %v", b.State())
	}
}
