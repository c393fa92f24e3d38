package bus

import (
	"context"
	"testing"
	"time"

	"sentimentengine/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.SecondCandle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	candle := model.SecondCandle{
		Symbol: "NIFTYBEES",
		Open:   100,
		High:   110,
		Low:    90,
		Close:  105,
	}

	input <- candle
	time.Sleep(50 * time.Millisecond)

	select {
	case c := <-out1:
		if c.Symbol != "NIFTYBEES" {
			t.Errorf("out1: expected symbol NIFTYBEES, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for candle")
	}

	select {
	case c := <-out2:
		if c.Symbol != "NIFTYBEES" {
			t.Errorf("out2: expected symbol NIFTYBEES, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for candle")
	}

	cancel()
}

func TestFanOut_DropsOnFullSubscriber(t *testing.T) {
	fo := New(1)
	var dropped []int
	fo.OnDrop = func(idx int) { dropped = append(dropped, idx) }

	out := fo.Subscribe()
	input := make(chan model.SecondCandle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.SecondCandle{Symbol: "A"}
	input <- model.SecondCandle{Symbol: "B"}
	time.Sleep(50 * time.Millisecond)

	if len(dropped) == 0 {
		t.Error("expected at least one drop when subscriber channel fills up")
	}

	<-out // drain the one that made it through
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(5)
	fo.Subscribe()
	fo.Subscribe()

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats entries, got %d", len(stats))
	}
	for _, s := range stats {
		if s.Cap != 5 {
			t.Errorf("expected cap 5, got %d", s.Cap)
		}
	}
}
