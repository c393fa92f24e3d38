package agg

import (
	"context"
	"testing"
	"time"

	"sentimentengine/internal/model"
)

func tickAt(t time.Time, price, vol float64) model.Tick {
	return model.Tick{Symbol: "NIFTYBEES", Price: price, Volume: vol, TickTS: t}
}

func TestHandleTick_SameSecondOHLC(t *testing.T) {
	a := New("NIFTYBEES", nil)
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	a.HandleTick(tickAt(base, 100, 1))
	a.HandleTick(tickAt(base.Add(100*time.Millisecond), 105, 2))
	a.HandleTick(tickAt(base.Add(200*time.Millisecond), 95, 1))

	bucket := base.Unix()
	a.mu.Lock()
	b := a.buckets[bucket]
	a.mu.Unlock()

	if b == nil || len(b.ticks) != 3 {
		t.Fatalf("expected 3 ticks in bucket, got %+v", b)
	}

	candle := buildSecondCandle("NIFTYBEES", bucket, b.ticks)
	if candle.Open != 100 || candle.High != 105 || candle.Low != 95 || candle.Close != 95 {
		t.Errorf("unexpected OHLC: %+v", candle)
	}
	if candle.Volume != 4 {
		t.Errorf("expected volume 4, got %v", candle.Volume)
	}
}

func TestHandleTick_LateTickIgnoredForSecondDimension(t *testing.T) {
	a := New("NIFTYBEES", nil)
	var lateCount int
	a.OnLateTick = func() { lateCount++ }

	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	bucket := base.Unix()

	a.mu.Lock()
	a.done[bucket] = true
	a.mu.Unlock()

	a.HandleTick(tickAt(base, 100, 1))

	if lateCount != 1 {
		t.Errorf("expected OnLateTick called once, got %d", lateCount)
	}

	a.mu.Lock()
	_, exists := a.buckets[bucket]
	a.mu.Unlock()
	if exists {
		t.Error("late tick should not create a new bucket for an already-processed second")
	}
}

func TestHandleTick_LateTickStillCountsInTickBuffer(t *testing.T) {
	a := New("NIFTYBEES", nil)
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	a.mu.Lock()
	a.done[base.Unix()] = true
	a.mu.Unlock()

	a.HandleTick(tickAt(base, 100, 1))

	a.mu.Lock()
	n := len(a.tickBuf)
	a.mu.Unlock()
	if n != 1 {
		t.Errorf("expected late tick to still land in the 100-tick buffer, got len %d", n)
	}
}

func TestHandleTick_100TickWindowEmits(t *testing.T) {
	a := New("NIFTYBEES", nil)
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	var candle *model.TickCandle100
	for i := 0; i < 100; i++ {
		candle = a.HandleTick(tickAt(base.Add(time.Duration(i)*10*time.Millisecond), 100+float64(i), 1))
	}

	if candle == nil {
		t.Fatal("expected a TickCandle100 on the 100th tick")
	}
	if candle.TicksCount != 100 {
		t.Errorf("expected 100 ticks, got %d", candle.TicksCount)
	}
	if candle.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", candle.Sequence)
	}
	if candle.Open != 100 || candle.Close != 199 {
		t.Errorf("unexpected open/close: %v/%v", candle.Open, candle.Close)
	}
}

func TestFlushFinalizable_OnlyPastSeconds(t *testing.T) {
	a := New("NIFTYBEES", nil)
	past := time.Now().UTC().Add(-5 * time.Second).Truncate(time.Second)
	future := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	a.HandleTick(tickAt(past, 100, 1))
	a.HandleTick(tickAt(future, 200, 1))

	candleCh := make(chan model.SecondCandle, 10)
	a.flushFinalizable(candleCh)

	select {
	case c := <-candleCh:
		if !c.Bucket.Equal(past) {
			t.Errorf("expected finalized candle for past bucket, got %v", c.Bucket)
		}
	default:
		t.Fatal("expected a finalized candle for the past bucket")
	}

	select {
	case c := <-candleCh:
		t.Fatalf("did not expect a second candle, got %+v", c)
	default:
	}
}

func TestFlushAll_EmitsEverythingOnShutdown(t *testing.T) {
	a := New("NIFTYBEES", nil)
	future := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	a.HandleTick(tickAt(future, 100, 1))

	candleCh := make(chan model.SecondCandle, 10)
	a.FlushAll(candleCh)

	select {
	case <-candleCh:
	default:
		t.Fatal("expected FlushAll to emit the open bucket regardless of wall-clock position")
	}
}

func TestDeliverWithRetry_DropsWhenChannelStaysFull(t *testing.T) {
	a := New("NIFTYBEES", nil)
	var dropped int
	a.OnDropped = func() { dropped++ }

	full := make(chan model.SecondCandle) // unbuffered, nothing reads
	a.deliverWithRetry(model.SecondCandle{Symbol: "NIFTYBEES"}, full)

	if dropped != 1 {
		t.Errorf("expected OnDropped called once, got %d", dropped)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a := New("NIFTYBEES", nil)
	ctx, cancel := context.WithCancel(context.Background())
	candleCh := make(chan model.SecondCandle, 10)

	done := make(chan struct{})
	go func() {
		a.Run(ctx, candleCh)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
