// Package news implements the three-source collector fleet (company news,
// market news, RSS) that polls for articles, deduplicates them, and feeds
// them onto bounded per-source queues for scoring.
package news

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"sentimentengine/internal/model"
)

const (
	dedupTTL        = time.Hour
	dedupMaxEntries = 5000
	queueCapacity   = 100
	fetchTimeout    = 3 * time.Second
)

// Unit is one rotation target for a collector: a ticker for company news,
// the single "market" target for market news, or a feed URL for RSS.
type Unit struct {
	ID     string // ticker symbol, "market", or feed URL
	Symbol string // instrument-weight symbol this unit's articles attach to
}

// FetchFunc retrieves the current articles for one unit. It must respect
// ctx's deadline; the collector always calls it with a bounded timeout.
type FetchFunc func(ctx context.Context, unit Unit) ([]model.Article, error)

// Collector runs the shared poll-loop structure for one news source:
// rotate through units one per second, skip a unit polled within its
// min-interval, fetch, filter to today + not-yet-seen, enqueue.
type Collector struct {
	Source      string
	Units       []Unit
	MinInterval time.Duration
	Fetch       FetchFunc
	Queue       *ArticleQueue
	Location    *time.Location
	Limiter     *rate.Limiter

	// OnFetched is called with the number of articles a fetch returned.
	OnFetched func(n int)
	// OnDeduped is called when an article is dropped as a recent duplicate.
	OnDeduped func()
	// OnDroppedNoDate is called when an article arrives with no publish date.
	OnDroppedNoDate func()

	log   *slog.Logger
	dedup *DedupCache

	lastPolled map[string]time.Time
	rotIdx     int
}

// NewCollector builds a Collector for source, polling units no more often
// than minInterval each, delivering onto a fresh bounded queue.
func NewCollector(source string, units []Unit, minInterval time.Duration, fetch FetchFunc, loc *time.Location, log *slog.Logger) *Collector {
	if loc == nil {
		loc = time.UTC
	}
	return &Collector{
		Source:      source,
		Units:       units,
		MinInterval: minInterval,
		Fetch:       fetch,
		Queue:       NewArticleQueue(queueCapacity),
		Location:    loc,
		Limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		log:         log,
		dedup:       NewDedupCache(dedupTTL, dedupMaxEntries),
		lastPolled:  make(map[string]time.Time),
	}
}

// Run drives the 1-second poll loop until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollNext(ctx)
		}
	}
}

func (c *Collector) pollNext(ctx context.Context) {
	if len(c.Units) == 0 {
		return
	}

	unit := c.Units[c.rotIdx]
	c.rotIdx = (c.rotIdx + 1) % len(c.Units)

	now := time.Now()
	if last, ok := c.lastPolled[unit.ID]; ok && now.Sub(last) < c.MinInterval {
		return
	}
	c.lastPolled[unit.ID] = now

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	articles, err := c.Fetch(fetchCtx, unit)
	cancel()
	if err != nil {
		if c.log != nil {
			c.log.Warn("news fetch failed", "source", c.Source, "unit", unit.ID, "error", err)
		}
		return
	}

	if c.OnFetched != nil {
		c.OnFetched(len(articles))
	}

	for _, a := range articles {
		c.ingest(a, unit, now)
	}
}

func (c *Collector) ingest(a model.Article, unit Unit, now time.Time) {
	a.Source = c.Source
	if a.Symbol == "" {
		a.Symbol = unit.Symbol
	}

	if !isToday(a.PublishTime, c.Location) {
		if a.PublishTime.IsZero() && c.OnDroppedNoDate != nil {
			c.OnDroppedNoDate()
		}
		return
	}

	hash := ArticleHash(a.Source, a.URL, a.Headline)
	if c.dedup.SeenRecently(hash, now) {
		if c.OnDeduped != nil {
			c.OnDeduped()
		}
		return
	}
	c.dedup.Record(hash, now)

	a.Hash = hash
	a.EnqueuedAt = now

	if !c.Queue.TryEnqueue(a) {
		if c.log != nil {
			c.log.Warn("to_score queue full, dropping article", "source", c.Source, "hash", hash)
		}
	}
}

// isToday reports whether t falls on the current calendar day in loc.
// A zero PublishTime (no date on the wire) is treated as not-today and
// dropped — publish-date-absent articles are discarded, not guessed at.
func isToday(t time.Time, loc *time.Location) bool {
	if t.IsZero() {
		return false
	}
	now := time.Now().In(loc)
	t = t.In(loc)
	ny, nm, nd := now.Date()
	ty, tm, td := t.Date()
	return ny == ty && nm == tm && nd == td
}
