package sentiment

import (
	"context"
	"log/slog"
	"time"

	"sentimentengine/internal/model"
)

// SaveEnqueuer is the subset of the save package's queue a Worker needs:
// a non-blocking push that reports whether it was accepted.
type SaveEnqueuer interface {
	TryEnqueue(job model.SaveJob) bool
}

// Worker is the per-source scoring worker: it dequeues article jobs,
// scores them, computes the weighted impact, and pushes the impact onto
// the shared queue before handing the article off for durable save.
type Worker struct {
	Source     string
	Scorer     Scorer
	Instrument *model.Instrument
	Impacts    *ImpactQueue
	SaveSink   SaveEnqueuer

	// Timeouts and Backoffs implement the scoring retry policy: each
	// attempt i runs with a deadline of Timeouts[i]; on failure the worker
	// sleeps Backoffs[i] before the next attempt (if any remain).
	Timeouts []time.Duration
	Backoffs []time.Duration

	// OnAttempt is called once per scoring attempt with its outcome:
	// "success", "retry" (failed, another attempt remains), or
	// "undefined" (all attempts exhausted).
	OnAttempt func(outcome string)
	// OnLatency is called with each provider call's wall-clock duration.
	OnLatency func(elapsed time.Duration)

	log *slog.Logger
}

// NewWorker creates a Worker with the fast-provider-style default retry
// schedule (30s, 45s, 60s timeouts; 5s, 10s backoffs).
func NewWorker(source string, scorer Scorer, instrument *model.Instrument, impacts *ImpactQueue, sink SaveEnqueuer, log *slog.Logger) *Worker {
	return &Worker{
		Source:     source,
		Scorer:     scorer,
		Instrument: instrument,
		Impacts:    impacts,
		SaveSink:   sink,
		Timeouts:   []time.Duration{30 * time.Second, 45 * time.Second, 60 * time.Second},
		Backoffs:   []time.Duration{5 * time.Second, 10 * time.Second},
		log:        log,
	}
}

// Run consumes from in until it closes or ctx is cancelled.
func (w *Worker) Run(ctx context.Context, in <-chan model.Article) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-in:
			if !ok {
				return
			}
			w.process(ctx, a)
		}
	}
}

func (w *Worker) process(ctx context.Context, a model.Article) {
	score, ok := w.scoreWithRetry(ctx, a)
	if !ok {
		// Undefined result: never cached. The collector has already
		// recorded the article's hash as seen, so it is scored again only
		// after that dedup entry expires and the collector fetches it anew.
		return
	}

	weight := w.Instrument.WeightFor(a.Symbol)
	raw := score * weight * 100
	impact := clipImpact(raw)

	a.Sentiment = score
	a.WeightedContribution = raw
	a.Impact = impact
	a.Scored = true

	// Impact is pushed before the save is initiated — the composer must
	// see it next second regardless of save latency.
	w.Impacts.Push(impact)

	if w.SaveSink == nil {
		return
	}
	if !w.SaveSink.TryEnqueue(model.SaveJob{Article: a, EnqueuedAt: time.Now()}) {
		if w.log != nil {
			w.log.Warn("to_save queue full, rejecting article", "tag", "SAVEQUEUE", "source", w.Source, "hash", a.Hash)
		}
	}
}

func (w *Worker) scoreWithRetry(ctx context.Context, a model.Article) (float64, bool) {
	for attempt := 0; attempt < len(w.Timeouts); attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.Timeouts[attempt])
		start := time.Now()
		score, err := w.Scorer.Score(attemptCtx, a.Headline, a.Summary)
		cancel()
		if w.OnLatency != nil {
			w.OnLatency(time.Since(start))
		}
		if err == nil {
			if w.OnAttempt != nil {
				w.OnAttempt("success")
			}
			return score, true
		}
		if attempt < len(w.Timeouts)-1 && w.OnAttempt != nil {
			w.OnAttempt("retry")
		}
		if w.log != nil {
			w.log.Debug("scoring attempt failed", "source", w.Source, "attempt", attempt, "error", err)
		}
		if attempt < len(w.Backoffs) {
			select {
			case <-ctx.Done():
				return 0, false
			case <-time.After(w.Backoffs[attempt]):
			}
		}
	}
	if w.OnAttempt != nil {
		w.OnAttempt("undefined")
	}
	return 0, false
}

func clipImpact(v float64) float64 {
	if v > 25 {
		return 25
	}
	if v < -25 {
		return -25
	}
	return v
}
