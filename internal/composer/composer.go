// Package composer blends the latest minute-level sentiment analysis with
// intraday news impacts and price micro-momentum into one SecondSnapshot
// per finalized candle, applying continuous exponential decay to the news
// component so it fades toward the minute base between updates.
package composer

import (
	"context"
	"log/slog"
	"time"

	"sentimentengine/internal/model"
)

// decayRate is the per-second news decay fraction r = 0.0383/60, chosen
// so it compounds to 3.83% over 60 seconds.
const decayRate = 0.0383 / 60

const (
	residueFloor       = 0.01
	microMomentumMin   = 30
	microMomentumScale = 15
	technicalBaseBlend = 0.8
	technicalMicroBlend = 0.2
	weightNews         = 0.35
	weightReddit       = 0.20
	weightTechnical    = 0.25
	weightAnalyst      = 0.20
)

// Store is the subset of the persistence adapter the composer needs.
type Store interface {
	LatestMinuteRow(ctx context.Context) (model.MinuteRow, bool, error)
	LatestSnapshot(ctx context.Context, symbol string) (model.SecondSnapshot, bool, error)
	RecentSnapshots(ctx context.Context, symbol string, n int) ([]model.SecondSnapshot, error)
	WriteSnapshot(ctx context.Context, snap model.SecondSnapshot) error
}

// ImpactSource is the subset of sentiment.ImpactQueue the composer needs,
// defined locally to avoid a composer -> sentiment import.
type ImpactSource interface {
	DrainAll() []float64
}

// Composer holds no mutable state of its own across calls — every
// decision is recomputed from the store and the just-finalized candle,
// the way the teacher's indicator engine separates Process (mutating,
// once per finalized candle) from a pure-compute read path.
type Composer struct {
	Symbol  string
	Store   Store
	Impacts ImpactSource
	log     *slog.Logger

	// OnComposed is called after each snapshot is composed, with the
	// composite score and the time the composition took.
	OnComposed func(composite float64, elapsed time.Duration)
}

// New creates a Composer for symbol.
func New(symbol string, store Store, impacts ImpactSource, log *slog.Logger) *Composer {
	return &Composer{Symbol: symbol, Store: store, Impacts: impacts, log: log}
}

// Run consumes finalized candles from in, composing and persisting one
// snapshot per candle, until in closes or ctx is cancelled. On
// cancellation it keeps draining whatever remains buffered in in before
// returning, per spec.md's "finish draining the pending-candle queue"
// shutdown contract.
func (c *Composer) Run(ctx context.Context, in <-chan model.SecondCandle) {
	for {
		select {
		case candle, ok := <-in:
			if !ok {
				return
			}
			c.composeOne(ctx, candle)
		case <-ctx.Done():
			c.drainRemaining(in)
			return
		}
	}
}

func (c *Composer) drainRemaining(in <-chan model.SecondCandle) {
	for {
		select {
		case candle, ok := <-in:
			if !ok {
				return
			}
			c.composeOne(context.Background(), candle)
		default:
			return
		}
	}
}

func (c *Composer) composeOne(ctx context.Context, candle model.SecondCandle) {
	start := time.Now()

	baseNews, baseTechnical, reddit, analyst := c.base(ctx)

	news := decay(baseNews)
	for _, impact := range c.Impacts.DrainAll() {
		news += impact
	}
	news = clip100(news)
	if abs(news) < residueFloor {
		news = 0
	}

	micro := c.microMomentum(ctx, candle)
	technical := technicalBaseBlend*baseTechnical + technicalMicroBlend*micro

	composite := clip100(weightNews*news + weightReddit*reddit + weightTechnical*technical + weightAnalyst*analyst)

	snap := model.SecondSnapshot{
		Symbol:          c.Symbol,
		Bucket:          candle.Bucket,
		Composite:       composite,
		NewsCached:      news,
		TechnicalCached: technical,
		Open:            candle.Open,
		High:            candle.High,
		Low:             candle.Low,
		Close:           candle.Close,
		TicksCount:      candle.TicksCount,
	}

	if err := c.Store.WriteSnapshot(ctx, snap); err != nil && c.log != nil {
		c.log.Error("snapshot persist failed", "symbol", c.Symbol, "bucket", candle.Bucket, "error", err)
	}

	elapsed := time.Since(start)
	if c.OnComposed != nil {
		c.OnComposed(composite, elapsed)
	}
	if elapsed > 10*time.Millisecond && c.log != nil {
		c.log.Warn("composer tick exceeded 10ms budget", "symbol", c.Symbol, "elapsed", elapsed)
	}
}

// base resolves the news/technical/reddit/analyst base components: the
// cached per-second snapshot if recent enough, else the minute row.
func (c *Composer) base(ctx context.Context) (news, technical, reddit, analyst float64) {
	haveRecentSnapshot := false
	if snap, ok, err := c.Store.LatestSnapshot(ctx, c.Symbol); err == nil && ok {
		if snap.Age(time.Now()) < 70*time.Second {
			news = snap.NewsCached
			technical = snap.TechnicalCached
			haveRecentSnapshot = true
		}
	}

	row, ok, err := c.Store.LatestMinuteRow(ctx)
	if err == nil && ok {
		reddit = row.Reddit
		analyst = row.Analyst
		if !haveRecentSnapshot {
			news = row.News
			technical = row.Technical
		}
	}
	return news, technical, reddit, analyst
}

func (c *Composer) microMomentum(ctx context.Context, candle model.SecondCandle) float64 {
	history, err := c.Store.RecentSnapshots(ctx, c.Symbol, microMomentumMin)
	if err != nil || len(history) < microMomentumMin {
		return 0
	}
	closeThen := history[0].Close
	if closeThen == 0 {
		return 0
	}
	pct := (candle.Close - closeThen) / closeThen * 100
	return clip100(pct * microMomentumScale)
}

func decay(news float64) float64 {
	return news * (1 - decayRate)
}

func clip100(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < -100 {
		return -100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
