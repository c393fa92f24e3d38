// Package markethours answers "is the market open" for the instrument's
// trading venue and gates reconnect attempts on it.
package markethours

import (
	"fmt"
	"log"
	"time"
)

// Config describes a weekday trading window in a fixed timezone.
// Clock never fails: a nil Location falls back to UTC in NewConfig and is
// logged, never a startup crash (spec.md §4.1 failure policy).
type Config struct {
	Location    *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int

	// SkipCheck forces IsOpen to always return true — test/staging mode.
	SkipCheck bool

	// RecheckInterval bounds how long BlockUntilOpen sleeps between
	// re-evaluations of the clock (spec.md §4.1: "periodic (<=5 min) re-check").
	RecheckInterval time.Duration
}

// NewConfig builds a Config, defaulting to UTC and a 5-minute recheck
// interval if not given. loc == nil is the fail-safe default (UTC).
func NewConfig(loc *time.Location, openHour, openMinute, closeHour, closeMinute int, skipCheck bool) Config {
	if loc == nil {
		log.Println("[markethours] nil timezone location, defaulting to UTC (fail-safe)")
		loc = time.UTC
	}
	return Config{
		Location:        loc,
		OpenHour:        openHour,
		OpenMinute:      openMinute,
		CloseHour:       closeHour,
		CloseMinute:     closeMinute,
		SkipCheck:       skipCheck,
		RecheckInterval: 5 * time.Minute,
	}
}

// Clock evaluates market-open/closed state for one Config. Safe for
// concurrent use — it holds no mutable state.
type Clock struct {
	cfg      Config
	holidays HolidaySet
}

// NewClock creates a Clock. holidays may be nil (no holiday exclusions).
func NewClock(cfg Config, holidays HolidaySet) *Clock {
	if holidays == nil {
		holidays = HolidaySet{}
	}
	return &Clock{cfg: cfg, holidays: holidays}
}

// IsOpen returns true if t falls within the configured trading window,
// Mon-Fri, excluding holidays — or unconditionally true if SkipCheck is set.
func (c *Clock) IsOpen(t time.Time) bool {
	if c.cfg.SkipCheck {
		return true
	}
	loc := t.In(c.cfg.Location)
	wd := loc.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.holidays.IsHoliday(loc) {
		return false
	}
	hm := loc.Hour()*60 + loc.Minute()
	openHM := c.cfg.OpenHour*60 + c.cfg.OpenMinute
	closeHM := c.cfg.CloseHour*60 + c.cfg.CloseMinute
	return hm >= openHM && hm < closeHM
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	loc := t.In(c.cfg.Location)
	wd := loc.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays.IsHoliday(loc)
}

// NextOpenAfter returns the next market-open instant strictly after t
// (or t's own open, if t falls before today's open on a trading day).
func (c *Clock) NextOpenAfter(t time.Time) time.Time {
	loc := t.In(c.cfg.Location)

	todayOpen := time.Date(loc.Year(), loc.Month(), loc.Day(), c.cfg.OpenHour, c.cfg.OpenMinute, 0, 0, c.cfg.Location)
	if loc.Before(todayOpen) && c.IsTradingDay(loc) {
		return todayOpen
	}

	d := loc.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // bound: at most two weeks of holidays in a row
		if c.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), c.cfg.OpenHour, c.cfg.OpenMinute, 0, 0, c.cfg.Location)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(loc.Year(), loc.Month(), loc.Day()+1, c.cfg.OpenHour, c.cfg.OpenMinute, 0, 0, c.cfg.Location)
}

// TodayClose returns today's close time in the configured timezone.
func (c *Clock) TodayClose(t time.Time) time.Time {
	loc := t.In(c.cfg.Location)
	return time.Date(loc.Year(), loc.Month(), loc.Day(), c.cfg.CloseHour, c.cfg.CloseMinute, 0, 0, c.cfg.Location)
}

// BlockUntilOpen sleeps until the market opens, re-checking at most every
// RecheckInterval so callers observing a cancellation signal don't block
// indefinitely. Returns immediately if already open or stop fires.
func (c *Clock) BlockUntilOpen(stop <-chan struct{}) {
	for {
		now := time.Now()
		if c.IsOpen(now) {
			return
		}
		next := c.NextOpenAfter(now)
		wait := next.Sub(now)
		if wait > c.cfg.RecheckInterval {
			wait = c.cfg.RecheckInterval
		}
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

// StatusString returns a human-readable market status, for logs.
func (c *Clock) StatusString(t time.Time) string {
	if c.IsOpen(t) {
		close := c.TodayClose(t)
		return fmt.Sprintf("market open - closes in %s", fmtDur(close.Sub(t.In(c.cfg.Location))))
	}
	next := c.NextOpenAfter(t)
	return fmt.Sprintf("market closed - opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
