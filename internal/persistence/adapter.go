package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentimentengine/internal/model"
	"sentimentengine/internal/retry"
	"sentimentengine/internal/ringbuf"
)

// snapshotCacheSize covers the composer's micro-momentum lookback (30)
// with headroom, so RecentSnapshots almost never falls back to SQLite.
const snapshotCacheSize = 64

// MinuteAnalyzerDecayThreshold is how recent the latest snapshot must be
// for IsPerSecondActive to treat the per-second loop as "active", which
// decides whether WriteMinuteRow mirrors a snapshot (spec.md §9 open
// question, resolved as an explicit config constant rather than a
// heuristic). The composer does not read it; it applies its own 70s
// cutoff when choosing its decay base.
const MinuteAnalyzerDecayThreshold = 70 * time.Second

var snapshotRetryBackoffs = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// Adapter is the dual-table persistence facade the composer and save
// workers depend on. SQLite is the durable system of record; Redis is an
// optional best-effort mirror for external readers.
type Adapter struct {
	sqlite *SQLiteStore
	redis  *RedisMirror // nil if the mirror is disabled or failed to connect
	log    *slog.Logger

	cacheMu sync.Mutex
	cache   map[string]*ringbuf.Window[model.SecondSnapshot] // per-symbol recent-snapshot window
}

// NewAdapter wires a durable store with an optional mirror. Pass a nil
// mirror to run with SQLite only (Redis is a non-essential subsystem
// per spec.md §4.9's capability-gating rule).
func NewAdapter(sqlite *SQLiteStore, mirror *RedisMirror, log *slog.Logger) *Adapter {
	return &Adapter{
		sqlite: sqlite,
		redis:  mirror,
		log:    log,
		cache:  make(map[string]*ringbuf.Window[model.SecondSnapshot]),
	}
}

func (a *Adapter) windowFor(symbol string) *ringbuf.Window[model.SecondSnapshot] {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	w, ok := a.cache[symbol]
	if !ok {
		w = ringbuf.NewWindow[model.SecondSnapshot](snapshotCacheSize)
		a.cache[symbol] = w
	}
	return w
}

// UpsertArticle satisfies save.ArticleStore.
func (a *Adapter) UpsertArticle(ctx context.Context, article model.Article) error {
	return a.sqlite.UpsertArticle(ctx, article)
}

// WriteSnapshot is the composer's append-only write path: best-effort
// with a bounded retry budget of up to four attempts and 350ms of backoff
// sleep in total. The time spent inside each insert is not capped here.
func (a *Adapter) WriteSnapshot(ctx context.Context, snap model.SecondSnapshot) error {
	err := retry.Do(snapshotRetryBackoffs, func() error {
		return a.sqlite.InsertSnapshot(ctx, snap)
	})
	if err != nil {
		if a.log != nil {
			a.log.Error("snapshot insert failed after retries", "symbol", snap.Symbol, "bucket", snap.Bucket, "error", err)
		}
		return err
	}
	a.windowFor(snap.Symbol).Push(snap)
	if a.redis != nil {
		a.redis.MirrorSnapshot(ctx, snap)
	}
	return nil
}

// WriteTickCandle persists one 100-tick candle on emission, with the same
// bounded retry budget as snapshot writes.
func (a *Adapter) WriteTickCandle(ctx context.Context, c model.TickCandle100) error {
	err := retry.Do(snapshotRetryBackoffs, func() error {
		return a.sqlite.InsertTickCandle100(ctx, c)
	})
	if err != nil && a.log != nil {
		a.log.Error("tick candle insert failed after retries", "symbol", c.Symbol, "sequence", c.Sequence, "error", err)
	}
	return err
}

// WriteMinuteRow records a new minute-analysis row, mirroring a
// SecondSnapshot from its base when the per-second loop is active so
// the composer has a seamless reference point across the minute
// boundary (spec.md §4.8).
func (a *Adapter) WriteMinuteRow(ctx context.Context, row model.MinuteRow) error {
	if err := a.sqlite.InsertMinuteRow(ctx, row); err != nil {
		return err
	}
	if a.redis != nil {
		a.redis.MirrorMinuteRow(ctx, row)
	}

	active, err := a.IsPerSecondActive(ctx, row.Symbol)
	if err != nil {
		if a.log != nil {
			a.log.Warn("could not determine per-second activity", "symbol", row.Symbol, "error", err)
		}
		return nil
	}
	if !active {
		return nil
	}

	mirror := model.SecondSnapshot{
		Symbol:          row.Symbol,
		Bucket:          row.Timestamp.Truncate(time.Second),
		Composite:       row.Composite,
		NewsCached:      row.News,
		TechnicalCached: row.Technical,
	}
	return a.WriteSnapshot(ctx, mirror)
}

// LatestMinuteRow returns the composer's minute-level base.
func (a *Adapter) LatestMinuteRow(ctx context.Context) (model.MinuteRow, bool, error) {
	return a.sqlite.LatestMinuteRow(ctx)
}

// LatestSnapshot returns the composer's most recent per-second base.
func (a *Adapter) LatestSnapshot(ctx context.Context, symbol string) (model.SecondSnapshot, bool, error) {
	return a.sqlite.LatestSnapshot(ctx, symbol)
}

// RecentSnapshots returns up to n snapshots, oldest first, for the
// composer's micro-momentum window. Served from the in-process rolling
// cache when it already holds enough entries; falls back to SQLite right
// after startup, before the cache has warmed up.
func (a *Adapter) RecentSnapshots(ctx context.Context, symbol string, n int) ([]model.SecondSnapshot, error) {
	w := a.windowFor(symbol)
	if w.Len() >= n {
		return w.Recent(n), nil
	}
	return a.sqlite.RecentSnapshots(ctx, symbol, n)
}

// IsPerSecondActive reports whether the latest snapshot for symbol is
// recent enough that the per-second loop should be treated as the live
// reference point rather than the minute row.
func (a *Adapter) IsPerSecondActive(ctx context.Context, symbol string) (bool, error) {
	snap, ok, err := a.sqlite.LatestSnapshot(ctx, symbol)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return snap.Age(time.Now()) <= MinuteAnalyzerDecayThreshold, nil
}

// MirrorImpactDepth publishes the current impact queue depth for
// observability; a no-op if the Redis mirror is disabled.
func (a *Adapter) MirrorImpactDepth(ctx context.Context, symbol string, depth int) {
	if a.redis != nil {
		a.redis.MirrorImpactGauge(ctx, symbol, depth)
	}
}

// Close closes both underlying stores.
func (a *Adapter) Close() {
	if a.sqlite != nil {
		a.sqlite.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
