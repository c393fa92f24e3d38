// Package sentiment scores news articles for sentiment and turns them into
// weighted impacts on the live news score.
package sentiment

import (
	"context"
	"errors"
)

// ErrUndefined is returned by a Scorer when no sentiment could be produced
// (provider timeout, malformed response). Callers must never cache this as
// a neutral 0 — the article is simply retried on next discovery.
var ErrUndefined = errors.New("sentiment: undefined result")

// Scorer is the capability interface both provider variants implement: one
// headline+summary in, one sentiment in [-1,+1] out, or ErrUndefined.
type Scorer interface {
	Score(ctx context.Context, headline, summary string) (float64, error)
}

// clipUnit clamps a raw provider score into [-1, +1].
func clipUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
