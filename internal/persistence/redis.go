package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"sentimentengine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const latestMirrorTTL = 5 * time.Minute

// RedisMirror caches the latest minute row and per-second snapshot for
// fast lookup by the (out-of-scope) read API, and publishes each new
// snapshot on a pub/sub channel for live subscribers. It never holds the
// canonical state — SQLiteStore does — so a Redis outage degrades reads,
// it never loses data.
type RedisMirror struct {
	client *goredis.Client
}

// NewRedisMirror connects to addr and pings it once.
func NewRedisMirror(addr, password string, db int) (*RedisMirror, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", addr)
	return &RedisMirror{client: client}, nil
}

// MirrorSnapshot sets the latest-snapshot cache entry and publishes it.
func (m *RedisMirror) MirrorSnapshot(ctx context.Context, snap model.SecondSnapshot) {
	latestKey := "snapshot:latest:" + snap.Symbol
	pubsubCh := "pub:snapshot:" + snap.Symbol
	data := string(snap.JSON())

	pipe := m.client.Pipeline()
	pipe.Set(ctx, latestKey, data, latestMirrorTTL)
	pipe.Publish(ctx, pubsubCh, data)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] snapshot mirror pipeline error for %s: %v", snap.Symbol, err)
	}
}

// MirrorMinuteRow sets the latest-minute-row cache entry.
func (m *RedisMirror) MirrorMinuteRow(ctx context.Context, row model.MinuteRow) {
	latestKey := "minuterow:latest:" + row.Symbol
	if err := m.client.Set(ctx, latestKey, string(row.JSON()), latestMirrorTTL).Err(); err != nil {
		log.Printf("[redis] minute row mirror error: %v", err)
	}
}

// MirrorImpactGauge publishes the current scored_impacts queue depth, for
// observability dashboards watching saturation in real time.
func (m *RedisMirror) MirrorImpactGauge(ctx context.Context, symbol string, depth int) {
	key := "gauge:impactqueue:" + symbol
	if err := m.client.Set(ctx, key, depth, latestMirrorTTL).Err(); err != nil {
		log.Printf("[redis] impact gauge mirror error: %v", err)
	}
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error { return m.client.Close() }
