package model

import (
	"encoding/json"
	"time"
)

// SecondCandle is a 1-second OHLC candle for the instrument: exactly one is
// produced per bucket-second that saw at least one tick.
type SecondCandle struct {
	Symbol     string    `json:"symbol"`
	Bucket     time.Time `json:"bucket"` // UTC, second-aligned
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`      // sum of tick volumes in this second
	TicksCount int       `json:"ticks_count"` // >= 1
}

// JSON returns the JSON-encoded candle (errors ignored; hot-path usage).
func (c *SecondCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// TickCandle100 is emitted every time the rolling tick buffer reaches 100
// ticks, independent of the 1-second bucketing.
type TickCandle100 struct {
	Symbol        string    `json:"symbol"`
	Sequence      int64     `json:"sequence"` // strictly increasing
	FirstTickTime time.Time `json:"first_tick_time"`
	LastTickTime  time.Time `json:"last_tick_time"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	TicksCount    int       `json:"ticks_count"` // always 100
}

// DurationSeconds returns the wall-clock span this 100-tick window covered.
func (c *TickCandle100) DurationSeconds() float64 {
	return c.LastTickTime.Sub(c.FirstTickTime).Seconds()
}

// JSON returns the JSON-encoded candle (errors ignored; hot-path usage).
func (c *TickCandle100) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
