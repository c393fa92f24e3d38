package model

import (
	"encoding/json"
	"time"
)

// MinuteRow is produced once per minute by the external comprehensive
// analyzer (out of scope here — only its shape is consumed).
type MinuteRow struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Composite float64 `json:"composite"` // [-100, 100]
	News      float64 `json:"news"`
	Reddit    float64 `json:"reddit"`
	Technical float64 `json:"technical"`
	Analyst   float64 `json:"analyst"`

	Label string `json:"label"`

	ArticleCount int `json:"article_count"`
	CachedCount  int `json:"cached_count"`
	NewCount     int `json:"new_count"`

	// Price and macro-indicator snapshots are opaque to the core pipeline;
	// kept as raw JSON so this package has no dependency on the analyzer's
	// indicator set.
	PriceSnapshot     []byte `json:"price_snapshot,omitempty"`
	IndicatorSnapshot []byte `json:"indicator_snapshot,omitempty"`
}

// SecondSnapshot is produced once per second by the composer.
type SecondSnapshot struct {
	Symbol  string    `json:"symbol"`
	Bucket  time.Time `json:"bucket"` // 1-second bucket

	Composite      float64 `json:"composite"`       // [-100, 100]
	NewsCached     float64 `json:"news_cached"`      // [-100, 100]
	TechnicalCached float64 `json:"technical_cached"` // [-100, 100]

	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TicksCount int     `json:"ticks_count"`
}

// Age returns how long ago this snapshot was produced, relative to now.
func (s *SecondSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Bucket)
}

// JSON returns the JSON-encoded snapshot (errors ignored; hot-path usage).
func (s *SecondSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// JSON returns the JSON-encoded minute row (errors ignored; hot-path usage).
func (r *MinuteRow) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
