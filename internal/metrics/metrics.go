// Package metrics exposes Prometheus instrumentation for the sentiment
// pipeline, plus a /healthz liveness endpoint, the way the teacher wires
// its market-data engine's metrics.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric for the sentiment engine.
type Metrics struct {
	TicksTotal       prometheus.Counter
	SecondCandlesTotal prometheus.Counter
	TickCandle100Total prometheus.Counter
	DroppedTicks     prometheus.Counter
	WSReconnects     prometheus.Counter
	MarketState      prometheus.Gauge

	ArticlesFetchedTotal *prometheus.CounterVec // labels: source
	ArticlesDedupedTotal *prometheus.CounterVec // labels: source
	ArticlesDroppedNoDate *prometheus.CounterVec // labels: source

	ScoringAttemptsTotal *prometheus.CounterVec // labels: source, outcome=success|retry|undefined
	ScoringLatency       *prometheus.HistogramVec // labels: source

	ImpactQueueDepth     prometheus.Gauge
	SaveQueueDepth       *prometheus.GaugeVec // labels: source
	SaveOutcomesTotal    *prometheus.CounterVec // labels: source, outcome=success|failed|deadline

	ComposerLatency      prometheus.Histogram
	CompositeScore       prometheus.Gauge

	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	CircuitBreakerState *prometheus.GaugeVec // labels: name; 0=closed,1=open,2=half-open
	CircuitBreakerTrips *prometheus.CounterVec // labels: name
}

// NewMetrics registers and returns every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentimentengine_ticks_total",
			Help: "Total ticks received from the upstream stream",
		}),
		SecondCandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentimentengine_second_candles_total",
			Help: "Total 1s OHLC candles emitted",
		}),
		TickCandle100Total: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentimentengine_tick_candle_100_total",
			Help: "Total 100-tick rolling candles emitted",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentimentengine_dropped_ticks_total",
			Help: "Second candles dropped because the candle channel stayed full through every delivery retry",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentimentengine_ws_reconnects_total",
			Help: "Total tick stream reconnection attempts",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentimentengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		ArticlesFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_articles_fetched_total",
			Help: "Total articles fetched per source",
		}, []string{"source"}),
		ArticlesDedupedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_articles_deduped_total",
			Help: "Total articles dropped as duplicates per source",
		}, []string{"source"}),
		ArticlesDroppedNoDate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_articles_dropped_no_date_total",
			Help: "Total articles dropped for missing publish date per source",
		}, []string{"source"}),

		ScoringAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_scoring_attempts_total",
			Help: "Scoring attempts by source and outcome",
		}, []string{"source", "outcome"}),
		ScoringLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentimentengine_scoring_latency_seconds",
			Help:    "Scoring provider call latency",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 45, 60},
		}, []string{"source"}),

		ImpactQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentimentengine_impact_queue_depth",
			Help: "Current depth of the shared scored_impacts queue",
		}),
		SaveQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentimentengine_save_queue_depth",
			Help: "Current depth of each source's to_save queue",
		}, []string{"source"}),
		SaveOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_save_outcomes_total",
			Help: "Save worker outcomes by source and outcome",
		}, []string{"source", "outcome"}),

		ComposerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentimentengine_composer_latency_seconds",
			Help:    "Per-second composer processing latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		CompositeScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentimentengine_composite_score",
			Help: "Latest composed sentiment score in [-100, 100]",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentimentengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentimentengine_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentimentengine_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.TicksTotal, m.SecondCandlesTotal, m.TickCandle100Total, m.DroppedTicks, m.WSReconnects, m.MarketState,
		m.ArticlesFetchedTotal, m.ArticlesDedupedTotal, m.ArticlesDroppedNoDate,
		m.ScoringAttemptsTotal, m.ScoringLatency,
		m.ImpactQueueDepth, m.SaveQueueDepth, m.SaveOutcomesTotal,
		m.ComposerLatency, m.CompositeScore,
		m.FanoutDropsTotal, m.ChannelSaturationPct,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
	)

	return m
}

// HealthStatus tracks process-wide liveness for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	TickStreamConnected bool      `json:"tick_stream_connected"`
	LastTickTime        time.Time `json:"last_tick_time"`
	PersistenceOK       bool      `json:"persistence_ok"`
	RedisMirrorOK       bool      `json:"redis_mirror_ok"`
	StartedAt           time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetTickStreamConnected(v bool) {
	h.mu.Lock()
	h.TickStreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPersistenceOK(v bool) {
	h.mu.Lock()
	h.PersistenceOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisMirrorOK(v bool) {
	h.mu.Lock()
	h.RedisMirrorOK = v
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.TickStreamConnected || !h.PersistenceOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := struct {
		Status              string `json:"status"`
		Uptime              string `json:"uptime"`
		TickStreamConnected bool   `json:"tick_stream_connected"`
		LastTickAgeSeconds  float64 `json:"last_tick_age_seconds"`
		PersistenceOK       bool   `json:"persistence_ok"`
		RedisMirrorOK       bool   `json:"redis_mirror_ok"`
	}{
		Status:              status,
		Uptime:              time.Since(h.StartedAt).Round(time.Second).String(),
		TickStreamConnected: h.TickStreamConnected,
		PersistenceOK:       h.PersistenceOK,
		RedisMirrorOK:       h.RedisMirrorOK,
	}
	if !h.LastTickTime.IsZero() {
		body.LastTickAgeSeconds = time.Since(h.LastTickTime).Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	srv    *http.Server
}

// NewServer creates a metrics and health server listening on addr.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
