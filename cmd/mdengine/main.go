// cmd/mdengine connects to the market hub, aggregates ticks into one-minute
// candles and re-runs the analysis pipeline on every finalized candle.
//
// Pipeline:
//
//	feed.Supervisor -> agg.Aggregator -> bus -> engine   -> redis (analysis, actions)
//	                                         -> redis    (candle events, streams)
//	                                         -> sqlite   (finalized bars)
//
// Configuration is read from the environment; see config.Load.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalflow/config"
	"signalflow/internal/engine"
	"signalflow/internal/logger"
	"signalflow/internal/marketdata/agg"
	"signalflow/internal/marketdata/bus"
	"signalflow/internal/marketdata/feed"
	"signalflow/internal/markethours"
	"signalflow/internal/metrics"
	"signalflow/internal/model"
	redisstore "signalflow/internal/store/redis"
	sqlitestore "signalflow/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[mdengine] %v", err)
	}
	logger.Init("mdengine", cfg.LogLevel)

	contract, ok := model.ResolveContract(cfg.Contract)
	if !ok {
		log.Fatalf("[mdengine] unable to resolve contract %q", cfg.Contract)
	}
	slog.Info("starting", "component", "mdengine", "contract", contract.Code, "feed", cfg.FeedURL,
		"timeframe", cfg.AnalysisTimeframe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics + health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetContract(contract.Code)
	health.SetTimeframe(cfg.AnalysisTimeframe)

	// ---- Event bus + aggregator ----
	evBus := bus.NewEventBus(4096)
	subscribers := []string{"engine"}
	evBus.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(subscriberName(subscribers, idx)).Inc()
	}

	aggregator := agg.New(agg.Config{HistoryLimit: cfg.CandleHistoryLimit}, evBus)
	aggregator.OnDroppedTick = prom.DroppedTicks.Inc
	aggregator.OnMalformed = prom.MalformedPayloads.Inc
	aggregator.OnFinalized = func(symbol string, c model.Candle) {
		prom.CandlesTotal.Inc()
		prom.CandleLag.Set(time.Since(time.Unix(c.Time+60, 0)).Seconds())
		health.SetLastTickTime(time.Now())
	}

	engineEvents := evBus.Subscribe()

	// ---- Stores (optional) ----
	var (
		publisher *redisstore.Publisher
		store     *sqlitestore.Store
		rdb       *goredis.Client
		sqlDB     *sql.DB
		backfill  backfillChain
	)

	if cfg.SQLitePath != "" {
		store, err = sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[mdengine] sqlite: %v", err)
		}
		defer store.Close()
		store.SetMetrics(prom)
		sqlDB = store.DB()
		backfill = append(backfill, store)
		subscribers = append(subscribers, "sqlite")
		go store.Run(ctx, evBus.Subscribe())
	}

	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("[mdengine] redis: %v", err)
		}
		defer publisher.Close()
		publisher.SetMetrics(prom)
		rdb = publisher.Client()
		backfill = append(backfill, redisstore.NewReader(rdb))
		subscribers = append(subscribers, "redis")
		go publisher.Run(ctx, evBus.Subscribe())
	}

	health.Require(publisher != nil, store != nil)
	health.SetRedisConnected(publisher != nil)
	health.SetSQLiteOK(store != nil)
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Analysis engine ----
	var sink engine.ResultSink
	if publisher != nil {
		sink = publisher
	}
	eng := engine.New(engine.Config{
		Timeframe:  cfg.AnalysisTimeframe,
		Selections: cfg.Indicators,
		Profiles:   &cfg.Profiles,
	}, aggregator, sink)
	eng.SetMetrics(prom)
	eng.OnResult = func(r engine.Result) { health.SetLastAnalysis(r.At) }
	go eng.Run(ctx, engineEvents)

	go aggregator.Run(ctx, nil)

	// ---- Feed ----
	transport, err := feed.NewWSTransport(feed.WSConfig{URL: cfg.FeedURL})
	if err != nil {
		log.Fatalf("[mdengine] %v", err)
	}
	var provider feed.BackfillProvider
	if len(backfill) > 0 {
		provider = backfill
	}
	sup := feed.NewSupervisor(feed.Config{
		Contract:       contract,
		RetryDelay:     cfg.RetryDelay,
		ReconnectDelay: cfg.ReconnectDelay,
		BackfillLimit:  cfg.BackfillLimit,
	}, transport, aggregator, provider)
	sup.OnStateChange = func(from, to feed.State) {
		prom.FeedState.Set(float64(to))
		health.SetFeedConnected(to == feed.StateConnected)
	}
	sup.OnReconnect = prom.FeedReconnects.Inc
	sup.OnBackfill = func(symbol string, bars int) { prom.BackfillBars.Add(float64(bars)) }

	supDone := make(chan struct{})
	go func() {
		sup.Start(ctx)
		close(supDone)
	}()

	go reportLoop(ctx, evBus, subscribers, prom)

	// ---- Shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "component", "mdengine", "signal", sig.String())

	cancel()
	select {
	case <-supDone:
	case <-time.After(5 * time.Second):
		slog.Warn("feed did not stop in time", "component", "mdengine")
	}
	transport.Close()
	evBus.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	metricsSrv.Stop(stopCtx)
	slog.Info("stopped", "component", "mdengine")
}

// reportLoop refreshes channel saturation and the market-state gauge.
func reportLoop(ctx context.Context, evBus *bus.FanOut[bus.Event], subscribers []string, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	lastOpen := -1
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for i, st := range evBus.ChannelStats() {
				if st.Cap > 0 {
					prom.ChannelSaturationPct.WithLabelValues(subscriberName(subscribers, i)).
						Set(float64(st.Len) / float64(st.Cap) * 100)
				}
			}
			open := 0
			if markethours.IsMarketOpen(now) {
				open = 1
			}
			prom.MarketState.Set(float64(open))
			if open != lastOpen {
				slog.Info("market state", "component", "mdengine", "status", markethours.StatusString(now))
				lastOpen = open
			}
		}
	}
}

func subscriberName(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return "unknown"
}
