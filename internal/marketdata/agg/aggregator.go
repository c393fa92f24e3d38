// Package agg builds 1-second OHLC candles and 100-tick candles from a
// single instrument's trade-tick stream.
package agg

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sentimentengine/internal/model"
)

// secondBucket accumulates the ticks seen for one not-yet-finalized second.
type secondBucket struct {
	ticks []model.Tick
}

// Aggregator runs the message handler and second-aggregation loop described
// in the tick-aggregation component: ticks are bucketed by wall-clock
// second, a bucket is finalized once wall-clock has moved strictly past it,
// and a parallel 100-tick rolling window emits its own candle independent
// of second boundaries.
type Aggregator struct {
	symbol string

	mu       sync.Mutex
	buckets  map[int64]*secondBucket
	done     map[int64]bool
	doneKeys []int64 // insertion order, for pruning

	tickBuf  []model.Tick
	sequence int64

	flushInterval time.Duration
	pruneEvery    int
	pruneWindow   time.Duration

	// OnLateTick is called when a tick arrives for an already-finalized second.
	OnLateTick func()
	// OnDropped is called when a finalized candle cannot be delivered to the composer queue.
	OnDropped func()

	log *slog.Logger
}

// New creates an Aggregator for the given instrument symbol.
func New(symbol string, log *slog.Logger) *Aggregator {
	return &Aggregator{
		symbol:        symbol,
		buckets:       make(map[int64]*secondBucket),
		done:          make(map[int64]bool),
		flushInterval: 100 * time.Millisecond,
		pruneEvery:    60,
		pruneWindow:   5 * time.Minute,
		log:           log,
	}
}

// HandleTick implements the message handler: bucket by wall-clock second,
// drop into the 1-second dimension unless that second is already processed,
// and always append to the rolling 100-tick buffer. Returns a finalized
// TickCandle100 when the 100-tick window just filled, else nil.
func (a *Aggregator) HandleTick(tick model.Tick) *model.TickCandle100 {
	bucket := tick.BucketSecond().Unix()

	a.mu.Lock()
	if a.done[bucket] {
		a.mu.Unlock()
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
		if a.log != nil {
			a.log.Debug("late tick ignored for second dimension", "symbol", a.symbol, "bucket", bucket)
		}
	} else {
		b, ok := a.buckets[bucket]
		if !ok {
			b = &secondBucket{}
			a.buckets[bucket] = b
		}
		b.ticks = append(b.ticks, tick)
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.tickBuf = append(a.tickBuf, tick)
	var emitted *model.TickCandle100
	if len(a.tickBuf) >= 100 {
		window := a.tickBuf[:100]
		a.tickBuf = append([]model.Tick(nil), a.tickBuf[100:]...)
		a.sequence++
		emitted = buildTickCandle100(a.symbol, a.sequence, window)
	}
	a.mu.Unlock()

	return emitted
}

// Run drives the second-aggregation loop: every flushInterval, any bucket
// strictly behind the current wall-clock second is finalized and handed to
// candleCh. The processed-second set is pruned every pruneEvery iterations.
func (a *Aggregator) Run(ctx context.Context, candleCh chan<- model.SecondCandle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	iterations := 0
	for {
		select {
		case <-ctx.Done():
			a.FlushAll(candleCh)
			return
		case <-ticker.C:
			a.flushFinalizable(candleCh)
			iterations++
			if iterations%a.pruneEvery == 0 {
				a.pruneProcessed()
			}
		}
	}
}

func (a *Aggregator) flushFinalizable(candleCh chan<- model.SecondCandle) {
	now := time.Now().UTC().Unix()

	a.mu.Lock()
	var ready []int64
	for bucket := range a.buckets {
		if bucket < now {
			ready = append(ready, bucket)
		}
	}
	a.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	for _, bucket := range ready {
		a.finalizeAndEmit(bucket, candleCh)
	}
}

// finalizeAndEmit builds the OHLC candle for bucket from ordered ticks and
// delivers it with retry-with-backoff. The second is marked processed
// regardless of delivery outcome.
func (a *Aggregator) finalizeAndEmit(bucket int64, candleCh chan<- model.SecondCandle) {
	a.mu.Lock()
	b, ok := a.buckets[bucket]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.buckets, bucket)
	a.done[bucket] = true
	a.doneKeys = append(a.doneKeys, bucket)
	a.mu.Unlock()

	if len(b.ticks) == 0 {
		return
	}

	candle := buildSecondCandle(a.symbol, bucket, b.ticks)
	a.deliverWithRetry(candle, candleCh)
}

var backoffSchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// deliverWithRetry attempts up to 4 sends: one before each of the 3
// backoffs in backoffSchedule and a final one after the last backoff.
// A permanently-full channel logs and gives up — the loop never blocks
// forever and never crashes.
func (a *Aggregator) deliverWithRetry(candle model.SecondCandle, candleCh chan<- model.SecondCandle) {
	for attempt := 0; attempt < len(backoffSchedule); attempt++ {
		select {
		case candleCh <- candle:
			return
		default:
		}
		time.Sleep(backoffSchedule[attempt])
	}

	select {
	case candleCh <- candle:
		return
	default:
	}

	if a.OnDropped != nil {
		a.OnDropped()
	}
	if a.log != nil {
		a.log.Warn("dropping second candle after retries exhausted", "symbol", a.symbol, "bucket", candle.Bucket)
	}
}

// pruneProcessed keeps only the most recent pruneWindow of processed seconds.
func (a *Aggregator) pruneProcessed() {
	cutoff := time.Now().UTC().Add(-a.pruneWindow).Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.doneKeys[:0]
	for _, k := range a.doneKeys {
		if k < cutoff {
			delete(a.done, k)
		} else {
			kept = append(kept, k)
		}
	}
	a.doneKeys = kept
}

// FlushAll finalizes every open bucket regardless of wall-clock position.
// Used on shutdown so no in-flight second is silently lost.
func (a *Aggregator) FlushAll(candleCh chan<- model.SecondCandle) {
	a.mu.Lock()
	var buckets []int64
	for bucket := range a.buckets {
		buckets = append(buckets, bucket)
	}
	a.mu.Unlock()

	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	for _, bucket := range buckets {
		a.finalizeAndEmit(bucket, candleCh)
	}
}

func buildSecondCandle(symbol string, bucket int64, ticks []model.Tick) model.SecondCandle {
	c := model.SecondCandle{
		Symbol:     symbol,
		Bucket:     time.Unix(bucket, 0).UTC(),
		Open:       ticks[0].Price,
		High:       ticks[0].Price,
		Low:        ticks[0].Price,
		Close:      ticks[len(ticks)-1].Price,
		TicksCount: len(ticks),
	}
	for _, t := range ticks {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Volume
	}
	return c
}

func buildTickCandle100(symbol string, sequence int64, ticks []model.Tick) *model.TickCandle100 {
	c := &model.TickCandle100{
		Symbol:        symbol,
		Sequence:      sequence,
		FirstTickTime: ticks[0].CanonicalTS(),
		LastTickTime:  ticks[len(ticks)-1].CanonicalTS(),
		Open:          ticks[0].Price,
		High:          ticks[0].Price,
		Low:           ticks[0].Price,
		Close:         ticks[len(ticks)-1].Price,
		TicksCount:    len(ticks),
	}
	for _, t := range ticks {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Volume
	}
	return c
}
