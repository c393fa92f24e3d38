package save

import (
	"context"
	"log/slog"
	"time"

	"sentimentengine/internal/model"
	"sentimentengine/internal/retry"
)

const (
	saveDeadline = 60 * time.Second
	pollInterval = 50 * time.Millisecond
)

var saveBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Summary is the per-worker shutdown tally logged once the worker exits.
type Summary struct {
	Succeeded int
	Failed    int
	Deadlined int
}

// Worker drains one source's save queue into an ArticleStore, enforcing a
// 60s hard deadline from enqueue and a bounded per-article retry budget.
// It never blocks the scoring workers that feed it.
type Worker struct {
	Source string
	Queue  *Queue
	Store  ArticleStore
	log    *slog.Logger

	// OnOutcome is called once per handled job with "success", "failed",
	// or "deadline".
	OnOutcome func(outcome string)

	summary Summary
}

// NewWorker creates a save Worker for source, draining q into store.
func NewWorker(source string, q *Queue, store ArticleStore, log *slog.Logger) *Worker {
	return &Worker{Source: source, Queue: q, Store: store, log: log}
}

// Run drains the queue until ctx is cancelled, then keeps draining for up
// to 60s to give in-flight and already-enqueued jobs a chance to finish,
// after which it logs the shutdown summary.
func (w *Worker) Run(ctx context.Context) Summary {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainWithDeadline()
			w.logSummary()
			return w.summary
		case <-ticker.C:
			w.drainAvailable(ctx)
		}
	}
}

func (w *Worker) drainAvailable(ctx context.Context) {
	for {
		job, ok := w.Queue.tryDequeue()
		if !ok {
			return
		}
		w.handle(ctx, job)
	}
}

// drainWithDeadline is the shutdown path: process everything left in the
// queue, up to 60s total, then stop regardless of what remains.
func (w *Worker) drainWithDeadline() {
	deadline := time.Now().Add(saveDeadline)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	for time.Now().Before(deadline) {
		job, ok := w.Queue.tryDequeue()
		if !ok {
			return
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job model.SaveJob) {
	if time.Since(job.EnqueuedAt) > saveDeadline {
		w.summary.Deadlined++
		if w.OnOutcome != nil {
			w.OnOutcome("deadline")
		}
		if w.log != nil {
			w.log.Warn("save job exceeded deadline, dropping", "tag", "NEWSSAVING", "source", w.Source, "hash", job.Article.Hash)
		}
		return
	}

	sanitize(&job.Article, time.Now())

	err := retry.Do(saveBackoffs, func() error {
		return w.Store.UpsertArticle(ctx, job.Article)
	})
	if err != nil {
		w.summary.Failed++
		if w.OnOutcome != nil {
			w.OnOutcome("failed")
		}
		if w.log != nil {
			w.log.Error("save failed after all attempts", "tag", "NEWSSAVING", "source", w.Source, "hash", job.Article.Hash, "error", err)
		}
		return
	}
	w.summary.Succeeded++
	if w.OnOutcome != nil {
		w.OnOutcome("success")
	}
}

func (w *Worker) logSummary() {
	if w.log == nil {
		return
	}
	w.log.Info("save worker summary",
		"tag", "NEWSSAVING",
		"source", w.Source,
		"success", w.summary.Succeeded,
		"failed", w.summary.Failed,
		"deadline", w.summary.Deadlined,
	)
}
