package model

import "time"

// Tick represents a single trade event from the upstream stream.
type Tick struct {
	Symbol  string    `json:"s"`
	Price   float64   `json:"p"`
	Volume  float64   `json:"v"`
	TickTS  time.Time `json:"tick_ts"` // UTC arrival timestamp
	EventTS time.Time `json:"event_ts,omitempty"`
}

// CanonicalTS returns the best available timestamp for this tick: the
// upstream-provided event time when present, else the arrival time.
func (t *Tick) CanonicalTS() time.Time {
	if !t.EventTS.IsZero() {
		return t.EventTS
	}
	return t.TickTS
}

// BucketSecond returns the UTC-floored wall-clock second this tick belongs
// to for the 1-second candle dimension.
func (t *Tick) BucketSecond() time.Time {
	return t.CanonicalTS().UTC().Truncate(time.Second)
}
