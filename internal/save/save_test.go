package save

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"sentimentengine/internal/model"
	"sentimentengine/internal/retry"
)

func TestSanitize_StripsControlCharsAndNulls(t *testing.T) {
	a := model.Article{Headline: "Big\x00 News\x07Today", PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if a.Headline != "Big NewsToday" {
		t.Errorf("got %q", a.Headline)
	}
}

func TestSanitize_CollapsesWhitespace(t *testing.T) {
	a := model.Article{Headline: "Too   many    spaces", PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if a.Headline != "Too many spaces" {
		t.Errorf("got %q", a.Headline)
	}
}

func TestSanitize_CapsLength(t *testing.T) {
	long := make([]byte, maxHeadlineLen+100)
	for i := range long {
		long[i] = 'x'
	}
	a := model.Article{Headline: string(long), PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if len(a.Headline) != maxHeadlineLen {
		t.Errorf("expected length %d, got %d", maxHeadlineLen, len(a.Headline))
	}
}

func TestSanitize_CoercesNaNAndInfFloats(t *testing.T) {
	a := model.Article{
		Sentiment:            math.NaN(),
		Impact:               math.Inf(1),
		WeightedContribution: math.Inf(-1),
		PublishTime:          time.Now(),
	}
	sanitize(&a, time.Now())
	if a.Sentiment != 0 || a.Impact != 0 || a.WeightedContribution != 0 {
		t.Errorf("expected all coerced to 0, got %v %v %v", a.Sentiment, a.Impact, a.WeightedContribution)
	}
}

func TestSanitize_ClipsExtremeFloats(t *testing.T) {
	a := model.Article{Sentiment: 1e20, PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if a.Sentiment != floatClip {
		t.Errorf("expected clipped to %v, got %v", floatClip, a.Sentiment)
	}
}

func TestSanitize_RejectsNonURL(t *testing.T) {
	a := model.Article{URL: "not a url at all", PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if a.URL != "" {
		t.Errorf("expected URL cleared, got %q", a.URL)
	}
}

func TestSanitize_KeepsValidURL(t *testing.T) {
	a := model.Article{URL: "https://example.com/news/1", PublishTime: time.Now()}
	sanitize(&a, time.Now())
	if a.URL != "https://example.com/news/1" {
		t.Errorf("expected URL preserved, got %q", a.URL)
	}
}

func TestSanitize_PublishTimeOutOfRangeReplacedWithNow(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := model.Article{PublishTime: time.Date(1850, 1, 1, 0, 0, 0, 0, time.UTC)}
	sanitize(&a, now)
	if a.PublishTime != now {
		t.Errorf("expected publish time replaced with now, got %v", a.PublishTime)
	}
}

func TestQueue_RejectsWhenFull(t *testing.T) {
	q := NewQueue()
	for i := 0; i < queueCapacity; i++ {
		if !q.TryEnqueue(model.SaveJob{}) {
			t.Fatalf("unexpected rejection at %d", i)
		}
	}
	if q.TryEnqueue(model.SaveJob{}) {
		t.Error("expected rejection once at capacity")
	}
}

type stubStore struct {
	mu       sync.Mutex
	saved    []model.Article
	failTimes int
	permanent bool
}

func (s *stubStore) UpsertArticle(ctx context.Context, a model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTimes > 0 {
		s.failTimes--
		if s.permanent {
			return errors.New("permanent failure")
		}
		return retry.MarkTransient(errors.New("deadlock"))
	}
	s.saved = append(s.saved, a)
	return nil
}

func TestWorker_SucceedsAfterTransientRetries(t *testing.T) {
	store := &stubStore{failTimes: 2}
	q := NewQueue()
	w := NewWorker("company_news", q, store, nil)

	w.handle(context.Background(), model.SaveJob{
		Article:    model.Article{Hash: "abc", Headline: "x", PublishTime: time.Now()},
		EnqueuedAt: time.Now(),
	})

	if w.summary.Succeeded != 1 {
		t.Errorf("expected 1 success, got %+v", w.summary)
	}
	if len(store.saved) != 1 {
		t.Errorf("expected article persisted, got %d", len(store.saved))
	}
}

func TestWorker_PermanentErrorDoesNotRetry(t *testing.T) {
	store := &stubStore{failTimes: 1, permanent: true}
	q := NewQueue()
	w := NewWorker("rss", q, store, nil)

	w.handle(context.Background(), model.SaveJob{
		Article:    model.Article{Hash: "def", PublishTime: time.Now()},
		EnqueuedAt: time.Now(),
	})

	if w.summary.Failed != 1 {
		t.Errorf("expected failure recorded, got %+v", w.summary)
	}
}

func TestWorker_DropsJobPastDeadline(t *testing.T) {
	store := &stubStore{}
	q := NewQueue()
	w := NewWorker("market_news", q, store, nil)

	w.handle(context.Background(), model.SaveJob{
		Article:    model.Article{Hash: "ghi", PublishTime: time.Now()},
		EnqueuedAt: time.Now().Add(-61 * time.Second),
	})

	if w.summary.Deadlined != 1 {
		t.Errorf("expected deadline drop, got %+v", w.summary)
	}
	if len(store.saved) != 0 {
		t.Error("expected no save attempt past deadline")
	}
}

func TestWorker_RunDrainsQueueOnShutdown(t *testing.T) {
	store := &stubStore{}
	q := NewQueue()
	q.TryEnqueue(model.SaveJob{Article: model.Article{Hash: "j1", PublishTime: time.Now()}, EnqueuedAt: time.Now()})
	q.TryEnqueue(model.SaveJob{Article: model.Article{Hash: "j2", PublishTime: time.Now()}, EnqueuedAt: time.Now()})

	w := NewWorker("company_news", q, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := w.Run(ctx)

	if summary.Succeeded != 2 {
		t.Errorf("expected both jobs drained on shutdown, got %+v", summary)
	}
}
