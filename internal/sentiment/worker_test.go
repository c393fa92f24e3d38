package sentiment

import (
	"context"
	"math"
	"testing"
	"time"

	"sentimentengine/internal/model"
)

type stubScorer struct {
	results []float64
	errs    []error
	calls   int
}

func (s *stubScorer) Score(ctx context.Context, headline, summary string) (float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return 0, ErrUndefined
}

type stubSink struct {
	jobs     []model.SaveJob
	accept   bool
}

func (s *stubSink) TryEnqueue(job model.SaveJob) bool {
	if !s.accept {
		return false
	}
	s.jobs = append(s.jobs, job)
	return true
}

func testInstrument() *model.Instrument {
	return &model.Instrument{
		Symbol: "NIFTYBEES",
		Weights: map[string]float64{
			"RELIANCE":          0.14,
			model.MarketWeightKey: 0.30,
		},
	}
}

func TestWorker_ScoresAndPushesImpactBeforeSave(t *testing.T) {
	scorer := &stubScorer{results: []float64{0.9}}
	impacts := NewImpactQueue(10)
	sink := &stubSink{accept: true}
	w := NewWorker("company_news", scorer, testInstrument(), impacts, sink, nil)
	w.Timeouts = []time.Duration{time.Second}
	w.Backoffs = nil

	w.process(context.Background(), model.Article{Symbol: "RELIANCE", Headline: "Big beat", Hash: "h1"})

	if impacts.Len() != 1 {
		t.Fatalf("expected 1 impact pushed, got %d", impacts.Len())
	}
	drained := impacts.DrainAll()
	wantImpact := 0.9 * 0.14 * 100
	if math.Abs(drained[0]-wantImpact) > 1e-9 {
		t.Errorf("expected impact %v, got %v", wantImpact, drained[0])
	}

	if len(sink.jobs) != 1 {
		t.Fatalf("expected article saved, got %d jobs", len(sink.jobs))
	}
	if !sink.jobs[0].Article.Scored {
		t.Error("expected article marked Scored")
	}
}

func TestWorker_UnrecognizedSymbolFallsBackToMarketWeight(t *testing.T) {
	scorer := &stubScorer{results: []float64{0.5}}
	impacts := NewImpactQueue(10)
	sink := &stubSink{accept: true}
	w := NewWorker("market_news", scorer, testInstrument(), impacts, sink, nil)
	w.Timeouts = []time.Duration{time.Second}
	w.Backoffs = nil

	w.process(context.Background(), model.Article{Symbol: "UNKNOWN", Headline: "x", Hash: "h2"})

	drained := impacts.DrainAll()
	want := 0.5 * 0.30 * 100
	if drained[0] != want {
		t.Errorf("expected market-weight fallback impact %v, got %v", want, drained[0])
	}
}

func TestWorker_ImpactClippedToPlusMinus25(t *testing.T) {
	scorer := &stubScorer{results: []float64{1.0}}
	impacts := NewImpactQueue(10)
	w := NewWorker("company_news", scorer, testInstrument(), impacts, &stubSink{accept: true}, nil)
	w.Timeouts = []time.Duration{time.Second}
	w.Backoffs = nil

	// weight 0.30 * sentiment 1.0 * 100 = 30, must clip to 25
	w.process(context.Background(), model.Article{Symbol: "market", Headline: "x", Hash: "h3"})

	got := impacts.DrainAll()[0]
	if got != 25 {
		t.Errorf("expected clipped impact 25, got %v", got)
	}
}

func TestWorker_UndefinedScoreDropsArticleWithoutSaving(t *testing.T) {
	scorer := &stubScorer{errs: []error{ErrUndefined, ErrUndefined, ErrUndefined}}
	impacts := NewImpactQueue(10)
	sink := &stubSink{accept: true}
	w := NewWorker("rss", scorer, testInstrument(), impacts, sink, nil)
	w.Timeouts = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	w.Backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	w.process(context.Background(), model.Article{Symbol: "RELIANCE", Headline: "x", Hash: "h4"})

	if impacts.Len() != 0 {
		t.Error("expected no impact pushed for an undefined score")
	}
	if len(sink.jobs) != 0 {
		t.Error("expected no save for an undefined score")
	}
	if scorer.calls != 3 {
		t.Errorf("expected exactly 3 scoring attempts, got %d", scorer.calls)
	}
}

func TestWorker_SucceedsOnThirdAttempt(t *testing.T) {
	scorer := &stubScorer{errs: []error{ErrUndefined, ErrUndefined, nil}, results: []float64{0, 0, 0.75}}
	impacts := NewImpactQueue(10)
	sink := &stubSink{accept: true}
	w := NewWorker("rss", scorer, testInstrument(), impacts, sink, nil)
	w.Timeouts = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	w.Backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	w.process(context.Background(), model.Article{Symbol: "market", Headline: "x", Hash: "h5"})

	if len(sink.jobs) != 1 {
		t.Fatalf("expected save after eventual success, got %d", len(sink.jobs))
	}
	if sink.jobs[0].Article.Sentiment != 0.75 {
		t.Errorf("expected sentiment 0.75, got %v", sink.jobs[0].Article.Sentiment)
	}
}

func TestWorker_SaveQueueFullStillKeepsImpact(t *testing.T) {
	scorer := &stubScorer{results: []float64{0.6}}
	impacts := NewImpactQueue(10)
	sink := &stubSink{accept: false}
	w := NewWorker("company_news", scorer, testInstrument(), impacts, sink, nil)
	w.Timeouts = []time.Duration{time.Second}
	w.Backoffs = nil

	w.process(context.Background(), model.Article{Symbol: "RELIANCE", Headline: "x", Hash: "h6"})

	if impacts.Len() != 1 {
		t.Error("expected impact to be applied even when save is rejected")
	}
	if len(sink.jobs) != 0 {
		t.Error("expected no accepted save job")
	}
}
