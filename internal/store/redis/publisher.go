// Package redis publishes aggregator events and analysis results to Redis.
//
// Key layout:
//
//	pub:seed:<symbol>        PUBLISH  seed event (full snapshot)
//	pub:candle:<symbol>      PUBLISH  finalized candle event
//	pub:partial:<symbol>     PUBLISH  forming candle event
//	candle:1m:<symbol>       XADD     finalized candles, trimmed to StreamMaxLen
//	candle:1m:latest:<sym>   SET      newest finalized candle
//	pub:analysis:<symbol>    PUBLISH  analysis pass
//	analysis:latest:<sym>    SET      newest analysis pass
//	pub:actions:<symbol>     PUBLISH  ranked action queue
//
// Writes go through a Breaker. While it is open, writes are buffered
// locally and replayed once a probe succeeds.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalflow/internal/engine"
	"signalflow/internal/marketdata/bus"
	"signalflow/internal/metrics"
	"signalflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Channel returns the pub/sub channel for an aggregator event kind.
func Channel(kind bus.Kind, symbol string) string { return "pub:" + string(kind) + ":" + symbol }

// StreamKey returns the finalized-candle stream of symbol.
func StreamKey(symbol string) string { return "candle:1m:" + symbol }

// LatestCandleKey returns the key holding the newest finalized candle.
func LatestCandleKey(symbol string) string { return "candle:1m:latest:" + symbol }

// AnalysisChannel returns the channel analysis passes are published on.
func AnalysisChannel(symbol string) string { return "pub:analysis:" + symbol }

// LatestAnalysisKey returns the key holding the newest analysis pass.
func LatestAnalysisKey(symbol string) string { return "analysis:latest:" + symbol }

// ActionsChannel returns the channel action queues are published on.
func ActionsChannel(symbol string) string { return "pub:actions:" + symbol }

// Config configures the Publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen approximately trims candle streams. Defaults to 10080 (one week of 1m bars).
	StreamMaxLen int64

	// LatestTTL expires the latest-* keys. Defaults to 30m.
	LatestTTL time.Duration

	// MaxFailures before the breaker opens. Defaults to 5.
	MaxFailures int

	// Cooldown before a probe write. Defaults to 10s.
	Cooldown time.Duration

	// MaxBuffer caps writes held while the breaker is open; the oldest
	// are dropped first. Defaults to 10000.
	MaxBuffer int
}

func (c *Config) defaults() {
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = 10080
	}
	if c.LatestTTL <= 0 {
		c.LatestTTL = 30 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 10000
	}
}

// message is one pipelined write. Empty targets are skipped.
type message struct {
	channel string
	stream  string
	key     string
	payload string
}

// Publisher writes events, analysis results and action queues to Redis.
type Publisher struct {
	client  *goredis.Client
	cfg     Config
	breaker *Breaker
	prom    *metrics.Metrics
	send    func(ctx context.Context, msgs []message) error

	mu      sync.Mutex
	pending []message

	// Optional hooks
	OnBuffer func()
	OnFlush  func(count int)
}

// New connects to Redis and pings it.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	slog.Info("redis connected", "component", "redis", "addr", cfg.Addr)
	return newPublisher(client, cfg), nil
}

func newPublisher(client *goredis.Client, cfg Config) *Publisher {
	cfg.defaults()
	p := &Publisher{
		client:  client,
		cfg:     cfg,
		breaker: NewBreaker(cfg.MaxFailures, cfg.Cooldown),
	}
	p.send = p.pipeline
	p.breaker.OnStateChange = p.stateChanged
	return p
}

// SetMetrics attaches Prometheus metrics.
func (p *Publisher) SetMetrics(m *metrics.Metrics) { p.prom = m }

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publisher's circuit breaker.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Run forwards bus events until ctx is cancelled or events is closed.
func (p *Publisher) Run(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.PublishEvent(ctx, ev); err != nil {
				slog.Warn("event publish failed", "component", "redis", "kind", ev.Kind, "symbol", ev.Symbol, "error", err)
			}
		}
	}
}

// PublishEvent publishes one aggregator event. Finalized candles are also
// appended to the symbol stream.
func (p *Publisher) PublishEvent(ctx context.Context, ev bus.Event) error {
	msgs, err := eventMessages(ev)
	if err != nil {
		return err
	}
	return p.write(ctx, msgs)
}

// PublishResult publishes an analysis pass and its action queue.
// It satisfies engine.ResultSink.
func (p *Publisher) PublishResult(ctx context.Context, r engine.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", r.RunID, err)
	}
	actions, err := actionsMessage(r.Symbol, r.Bundle.Actions)
	if err != nil {
		return err
	}
	return p.write(ctx, []message{
		{channel: AnalysisChannel(r.Symbol), key: LatestAnalysisKey(r.Symbol), payload: string(data)},
		actions,
	})
}

// PublishActions publishes an action queue. It satisfies model.ActionSink.
func (p *Publisher) PublishActions(ctx context.Context, symbol string, actions []model.Action) error {
	m, err := actionsMessage(symbol, actions)
	if err != nil {
		return err
	}
	return p.write(ctx, []message{m})
}

// Pending returns the number of buffered writes.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func eventMessages(ev bus.Event) ([]message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event for %s: %w", ev.Kind, ev.Symbol, err)
	}
	msgs := []message{{channel: Channel(ev.Kind, ev.Symbol), payload: string(data)}}
	if ev.Kind == bus.KindCandle {
		msgs = append(msgs, message{
			stream:  StreamKey(ev.Symbol),
			key:     LatestCandleKey(ev.Symbol),
			payload: string(ev.Candle.JSON()),
		})
	}
	return msgs, nil
}

func actionsMessage(symbol string, actions []model.Action) (message, error) {
	if actions == nil {
		actions = []model.Action{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return message{}, fmt.Errorf("marshal actions for %s: %w", symbol, err)
	}
	return message{channel: ActionsChannel(symbol), payload: string(data)}, nil
}

func (p *Publisher) write(ctx context.Context, msgs []message) error {
	err := p.breaker.Do(func() error { return p.send(ctx, msgs) })
	if errors.Is(err, ErrCircuitOpen) {
		p.buffer(msgs)
		return nil
	}
	return err
}

func (p *Publisher) pipeline(ctx context.Context, msgs []message) error {
	start := time.Now()
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		if m.stream != "" {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: m.stream,
				MaxLen: p.cfg.StreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": m.payload},
			})
		}
		if m.key != "" {
			pipe.Set(ctx, m.key, m.payload, p.cfg.LatestTTL)
		}
		if m.channel != "" {
			pipe.Publish(ctx, m.channel, m.payload)
		}
	}
	_, err := pipe.Exec(ctx)
	if p.prom != nil {
		p.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("redis pipeline (%d writes): %w", len(msgs), err)
	}
	return nil
}

func (p *Publisher) buffer(msgs []message) {
	p.mu.Lock()
	p.pending = append(p.pending, msgs...)
	if over := len(p.pending) - p.cfg.MaxBuffer; over > 0 {
		p.pending = p.pending[over:]
	}
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

func (p *Publisher) stateChanged(from, to State) {
	slog.Info("redis breaker state", "component", "redis", "from", from, "to", to)
	if p.prom != nil {
		p.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen {
			p.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	if to == StateClosed {
		go p.flush()
	}
}

// flush replays writes buffered while the breaker was open.
func (p *Publisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.send(ctx, batch); err != nil {
		slog.Warn("buffered write replay failed", "component", "redis", "count", len(batch), "error", err)
		return
	}
	slog.Info("buffered writes replayed", "component", "redis", "count", len(batch))
	if p.OnFlush != nil {
		p.OnFlush(len(batch))
	}
}
