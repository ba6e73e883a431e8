package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the market-data engine.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec // labels: kind=trade|quote
	CandlesTotal      prometheus.Counter
	DroppedTicks      prometheus.Counter
	MalformedPayloads prometheus.Counter
	FeedReconnects    prometheus.Counter
	FeedState         prometheus.Gauge // 0=disconnected, 1=connecting, 2=connected, 3=switching
	BackfillBars      prometheus.Counter
	CandleLag         prometheus.Gauge

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Analysis passes
	AnalysisDur   prometheus.Histogram
	AnalysisRuns  prometheus.Counter
	SignalsTotal  *prometheus.CounterVec // labels: group
	ActionsQueued prometheus.Gauge

	// Stores
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	SQLiteReadDur            prometheus.Histogram

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdengine_ticks_total",
			Help: "Total trade and quote payloads received from the feed",
		}, []string{"kind"}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_candles_total",
			Help: "Total 1m candles finalized",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_dropped_ticks_total",
			Help: "Ticks dropped (input channel full)",
		}),
		MalformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_malformed_payloads_total",
			Help: "Payloads rejected by the tick normalizer",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_feed_reconnects_total",
			Help: "Total feed reconnection attempts",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdengine_feed_state",
			Help: "Feed supervisor state (0=disconnected, 1=connecting, 2=connected, 3=switching)",
		}),
		BackfillBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_backfill_bars_total",
			Help: "Historical bars seeded into the aggregator",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdengine_candle_lag_seconds",
			Help: "Lag between candle bucket end and finalization",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdengine_fanout_drops_total",
			Help: "Events dropped by the bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdengine_analysis_duration_seconds",
			Help:    "Full-window detection and strategy evaluation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		AnalysisRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_analysis_runs_total",
			Help: "Analysis passes completed",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdengine_signals_total",
			Help: "Signals produced per strategy group",
		}, []string{"group"}),
		ActionsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdengine_actions_queued",
			Help: "Length of the latest action queue",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdengine_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		SQLiteReadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdengine_sqlite_read_duration_seconds",
			Help:    "SQLite historical bar query latency",
			Buckets: prometheus.DefBuckets,
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.DroppedTicks,
		m.MalformedPayloads,
		m.FeedReconnects,
		m.FeedState,
		m.BackfillBars,
		m.CandleLag,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.AnalysisDur,
		m.AnalysisRuns,
		m.SignalsTotal,
		m.ActionsQueued,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.SQLiteReadDur,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	Contract       string    `json:"contract"`
	Timeframe      string    `json:"timeframe"`
	LastTickTime   time.Time `json:"last_tick_time"`
	LastAnalysisAt time.Time `json:"last_analysis_at"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Which dependencies count toward overall status
	redisRequired  bool
	sqliteRequired bool

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// Require marks Redis and/or SQLite as dependencies whose loss degrades
// the reported status.
func (h *HealthStatus) Require(redis, sqlite bool) {
	h.mu.Lock()
	h.redisRequired = redis
	h.sqliteRequired = sqlite
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetContract(code string) {
	h.mu.Lock()
	h.Contract = code
	h.mu.Unlock()
}

func (h *HealthStatus) SetTimeframe(tf string) {
	h.mu.Lock()
	h.Timeframe = tf
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastAnalysis(t time.Time) {
	h.mu.Lock()
	h.LastAnalysisAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb and sqlDB may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.redisRequired && !h.RedisConnected
	sqliteDown := h.sqliteRequired && !h.SQLiteOK
	if !h.FeedConnected || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && redisDown {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		Contract        string  `json:"contract"`
		Timeframe       string  `json:"timeframe"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		LastAnalysisAt  string  `json:"last_analysis_at"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		Contract:        h.Contract,
		Timeframe:       h.Timeframe,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		LastAnalysisAt:  h.LastAnalysisAt.Format(time.RFC3339),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "component", "metrics", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
