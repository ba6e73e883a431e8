// Package gateway relays the engine's Redis pub/sub channels to WebSocket
// clients. Every relayed message is wrapped in an envelope carrying a
// global and a per-channel sequence number; clients detect gaps from the
// per-channel sequence and backfill them from a bounded replay buffer.
//
// Envelope:
//
//	{"channel":"pub:analysis:MGCZ5","data":{...},"ts":"...","seq":42,"channel_seq":7}
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// DefaultPatterns are the Redis channel patterns relayed when Config.Patterns
// is empty. Seed snapshots are not relayed.
var DefaultPatterns = []string{"pub:candle:*", "pub:partial:*", "pub:analysis:*", "pub:actions:*"}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Config tunes the relay.
type Config struct {
	Patterns   []string
	ReplaySize int // envelopes kept per channel, default 500
	SendBuffer int // per-client queue, default 256
}

func (c *Config) defaults() {
	if len(c.Patterns) == 0 {
		c.Patterns = DefaultPatterns
	}
	if c.ReplaySize <= 0 {
		c.ReplaySize = 500
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

type latestEntry struct {
	Data []byte
	TS   time.Time
	Seq  int64
}

// Hub owns the connected clients and the per-channel relay state.
type Hub struct {
	rdb  *goredis.Client
	cfg  Config
	lag  *LagTracker
	prom *Metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string]latestEntry
	seqs    map[string]int64
	seq     int64
	replay  map[string]*ReplayBuffer
	now     func() time.Time
}

// NewHub creates a hub. rdb may be nil when messages are fed through
// Broadcast directly.
func NewHub(rdb *goredis.Client, cfg Config) *Hub {
	cfg.defaults()
	return &Hub{
		rdb:     rdb,
		cfg:     cfg,
		lag:     NewLagTracker(4096),
		clients: make(map[*Client]struct{}),
		latest:  make(map[string]latestEntry),
		seqs:    make(map[string]int64),
		replay:  make(map[string]*ReplayBuffer),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches Prometheus metrics.
func (h *Hub) SetMetrics(m *Metrics) { h.prom = m }

// Lag returns the analysis publish-to-relay lag tracker.
func (h *Hub) Lag() *LagTracker { return h.lag }

// Run subscribes to the configured patterns and relays every message.
// Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, h.cfg.Patterns...)
	defer pubsub.Close()
	slog.Info("relay subscribed", "component", "gateway", "patterns", h.cfg.Patterns)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Broadcast wraps data in an envelope, records it for replay and sends it
// to every client subscribed to channel. Slow clients miss the message and
// recover it through replay.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now()
	kind, _, _ := parseChannel(channel)
	if kind == "analysis" {
		if at := extractAt(data); !at.IsZero() {
			if lag := now.Sub(at); lag >= 0 {
				h.lag.Observe(lag)
			}
		}
	}

	h.mu.Lock()
	h.seqs[channel]++
	channelSeq := h.seqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(h.cfg.ReplaySize)
		h.replay[channel] = rb
	}
	h.mu.Unlock()

	env := envelope(channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, env)
	if h.prom != nil {
		label := kind
		if label == "" {
			label = "other"
		}
		h.prom.Relayed.WithLabelValues(label).Inc()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
			if h.prom != nil {
				h.prom.SendDrops.Inc()
			}
		}
	}
}

// envelope builds the envelope JSON by hand; data is already JSON.
func envelope(channel string, data []byte, ts time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeWS upgrades the request and registers the connection as a client.
// An optional last_ts query parameter limits the initial state to channels
// updated after that time.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "component", "gateway", "error", err)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("last_ts"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			since = t
		}
	}

	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.Clients.Set(float64(count))
	}
	slog.Info("ws client connected", "component", "gateway", "clients", count)

	c.sendLatest(since)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.Clients.Set(float64(count))
	}
	slog.Info("ws client disconnected", "component", "gateway", "clients", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelSeq returns the last sequence number relayed on channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[channel]
}

// Latest returns the most recent payload of every relayed channel.
func (h *Hub) Latest() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]byte, len(h.latest))
	for k, v := range h.latest {
		out[k] = v.Data
	}
	return out
}

// ReplayRange returns buffered envelopes for channel with sequence numbers
// in [from, to].
func (h *Hub) ReplayRange(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// parseChannel splits "pub:<kind>:<symbol>".
func parseChannel(channel string) (kind, symbol string, ok bool) {
	rest, found := strings.CutPrefix(channel, "pub:")
	if !found {
		return "", "", false
	}
	kind, symbol, ok = strings.Cut(rest, ":")
	if !ok || kind == "" || symbol == "" {
		return "", "", false
	}
	return kind, symbol, true
}
