package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"sentimentengine/config"
	"sentimentengine/internal/composer"
	"sentimentengine/internal/logger"
	"sentimentengine/internal/marketdata/agg"
	"sentimentengine/internal/marketdata/bus"
	"sentimentengine/internal/markethours"
	"sentimentengine/internal/metrics"
	"sentimentengine/internal/model"
	"sentimentengine/internal/news"
	"sentimentengine/internal/persistence"
	"sentimentengine/internal/retry"
	"sentimentengine/internal/save"
	"sentimentengine/internal/sentiment"
	"sentimentengine/internal/tickstream"
)

func main() {
	log := logger.Init("sentimentengine", slog.LevelInfo)
	log.Info("starting")

	cfg := config.Load()
	instrument := cfg.Instrument()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- clock ----
	clock := markethours.NewClock(
		markethours.NewConfig(nil, 9, 15, 15, 30, cfg.SkipMarketHoursCheck),
		nil,
	)

	// ---- persistence adapter ----
	os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755)
	sqliteStore, err := persistence.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Error("sqlite init failed, cannot continue", "error", err)
		os.Exit(1)
	}
	health.SetPersistenceOK(true)

	var redisMirror *persistence.RedisMirror
	if cfg.EnableRedisMirror {
		redisMirror, err = persistence.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis mirror init failed, continuing without it", "error", err)
		} else {
			health.SetRedisMirrorOK(true)
		}
	}
	adapter := persistence.NewAdapter(sqliteStore, redisMirror, log)
	defer adapter.Close()

	// ---- scorers + save workers, one pair per enabled source ----
	impacts := sentiment.NewImpactQueue(500)

	scorer := buildScorer(cfg, log, prom)

	var saveSummaries []func() save.Summary
	saveQueues := make(map[string]*save.Queue)

	startSource := func(sourceName string, collector *news.Collector) {
		collector.OnFetched = func(n int) { prom.ArticlesFetchedTotal.WithLabelValues(sourceName).Add(float64(n)) }
		collector.OnDeduped = func() { prom.ArticlesDedupedTotal.WithLabelValues(sourceName).Inc() }
		collector.OnDroppedNoDate = func() { prom.ArticlesDroppedNoDate.WithLabelValues(sourceName).Inc() }

		saveQueue := save.NewQueue()
		saveQueues[sourceName] = saveQueue

		worker := sentiment.NewWorker(sourceName, scorer, instrument, impacts, saveQueue, log)
		worker.OnAttempt = func(outcome string) { prom.ScoringAttemptsTotal.WithLabelValues(sourceName, outcome).Inc() }
		worker.OnLatency = func(elapsed time.Duration) { prom.ScoringLatency.WithLabelValues(sourceName).Observe(elapsed.Seconds()) }

		saveWorker := save.NewWorker(sourceName, saveQueue, adapter, log)
		saveWorker.OnOutcome = func(outcome string) { prom.SaveOutcomesTotal.WithLabelValues(sourceName, outcome).Inc() }

		go worker.Run(ctx, collector.Queue.Chan())
		go collector.Run(ctx)

		var summary save.Summary
		done := make(chan struct{})
		go func() {
			summary = saveWorker.Run(ctx)
			close(done)
		}()
		saveSummaries = append(saveSummaries, func() save.Summary {
			<-done
			return summary
		})
	}

	if cfg.EnableCompanyNews {
		units := []news.Unit{{ID: instrument.Symbol, Symbol: instrument.Symbol}}
		for sym := range instrument.Weights {
			if sym != model.MarketWeightKey {
				units = append(units, news.Unit{ID: sym, Symbol: sym})
			}
		}
		api := news.NewHTTPAPI("https://finnhub.io/api/v1/company-news", cfg.CompanyNewsAPIKey)
		collector := news.NewCollector(model.SourceCompanyNews, units, 30*time.Second, api.FetchCompanyNews, nil, log)
		startSource(model.SourceCompanyNews, collector)
	} else {
		log.Info("company news collector disabled")
	}

	if cfg.EnableMarketNews {
		units := []news.Unit{{ID: "market", Symbol: model.MarketWeightKey}}
		api := news.NewHTTPAPI("https://finnhub.io/api/v1/news", cfg.MarketNewsAPIKey)
		collector := news.NewCollector(model.SourceMarketNews, units, 30*time.Second, api.FetchMarketNews, nil, log)
		startSource(model.SourceMarketNews, collector)
	} else {
		log.Info("market news collector disabled")
	}

	if cfg.EnableRSSNews {
		feeds, err := news.LoadFeedConfig(cfg.RSSFeedsConfigPath)
		if err != nil {
			log.Warn("rss feed config load failed, rss collector disabled", "error", err)
		} else {
			var units []news.Unit
			for _, f := range feeds.Feeds {
				units = append(units, news.Unit{ID: f.URL, Symbol: model.MarketWeightKey})
			}
			fetcher := news.NewRSSFetcher()
			collector := news.NewCollector(model.SourceRSS, units, 60*time.Second, fetcher.Fetch, nil, log)
			startSource(model.SourceRSS, collector)
		}
	} else {
		log.Info("rss news collector disabled")
	}

	// ---- composer ----
	composerIn := make(chan model.SecondCandle, 5000)
	comp := composer.New(instrument.Symbol, adapter, impacts, log)
	comp.OnComposed = func(composite float64, elapsed time.Duration) {
		prom.CompositeScore.Set(composite)
		prom.ComposerLatency.Observe(elapsed.Seconds())
	}
	go comp.Run(ctx, composerIn)

	// ---- fan-out: aggregator -> composer (+ future subscribers) ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	composerFeed := fanout.Subscribe()
	go func() {
		for candle := range composerFeed {
			prom.SecondCandlesTotal.Inc()
			composerIn <- candle
		}
		close(composerIn)
	}()

	candleCh := make(chan model.SecondCandle, 5000)
	go fanout.Run(ctx, candleCh)

	// ---- aggregator ----
	aggregator := agg.New(instrument.Symbol, log)
	aggregator.OnDropped = func() { prom.DroppedTicks.Inc() }
	go aggregator.Run(ctx, candleCh)

	// ---- tick stream ----
	tickCh := make(chan model.Tick, 10000)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-tickCh:
				prom.TicksTotal.Inc()
				health.SetLastTickTime(time.Now())
				if candle := aggregator.HandleTick(tick); candle != nil {
					prom.TickCandle100Total.Inc()
					adapter.WriteTickCandle(ctx, *candle)
				}
			}
		}
	}()

	supervisor := tickstream.NewSupervisor(tickstream.Config{
		URL:        "wss://stream.example.com/ticks",
		APIKey:     cfg.TickStreamAPIKey,
		TOTPSecret: cfg.TickStreamTOTPSecret,
		Symbol:     instrument.Symbol,
	}, clock, log)
	supervisor.OnReconnect = func() { prom.WSReconnects.Inc() }
	go supervisor.Run(ctx, tickCh)
	health.SetTickStreamConnected(true)

	// ---- gauge sampler ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if clock.IsOpen(time.Now()) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
				depth := impacts.Len()
				prom.ImpactQueueDepth.Set(float64(depth))
				adapter.MirrorImpactDepth(ctx, instrument.Symbol, depth)
				for source, q := range saveQueues {
					prom.SaveQueueDepth.WithLabelValues(source).Set(float64(q.Len()))
				}
				prom.ChannelSaturationPct.WithLabelValues("tick_stream").Set(float64(len(tickCh)) / float64(cap(tickCh)) * 100)
				prom.ChannelSaturationPct.WithLabelValues("candles").Set(float64(len(candleCh)) / float64(cap(candleCh)) * 100)
				prom.ChannelSaturationPct.WithLabelValues("composer").Set(float64(len(composerIn)) / float64(cap(composerIn)) * 100)
			}
		}
	}()

	log.Info("pipeline running", "instrument", instrument.Symbol)

	<-sigCh
	log.Info("shutdown signal received, draining")
	cancel()

	aggregator.FlushAll(candleCh)

	for _, wait := range saveSummaries {
		s := wait()
		log.Info("save worker summary", "success", s.Succeeded, "failed", s.Failed, "deadline", s.Deadlined)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}

func buildScorer(cfg *config.Config, log *slog.Logger, prom *metrics.Metrics) sentiment.Scorer {
	var inner sentiment.Scorer
	switch cfg.SentimentProvider {
	case "accurate":
		inner = sentiment.NewAccurateProvider("https://api.example.com/score/accurate", cfg.SentimentAPIKeyAccurate)
	default:
		inner = sentiment.NewFastProvider("https://api.example.com/score/fast", cfg.SentimentAPIKeyFast)
	}

	breaker := sentiment.NewBreakerScorer(inner)
	breaker.OnStateChange = func(from, to retry.State) {
		log.Warn("sentiment provider circuit breaker transitioned", "from", from, "to", to, "provider", cfg.SentimentProvider)
		prom.CircuitBreakerState.WithLabelValues(cfg.SentimentProvider).Set(float64(to))
		if to == retry.StateOpen {
			prom.CircuitBreakerTrips.WithLabelValues(cfg.SentimentProvider).Inc()
		}
	}
	return breaker
}
