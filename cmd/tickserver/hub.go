package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"signalflow/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// frame matches what feed.WSTransport reads.
type frame struct {
	Type       string `json:"type"`
	ContractID string `json:"contractId"`
	Data       any    `json:"data"`
}

type tradeData struct {
	Price     float64 `json:"price"`
	Volume    int     `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

type quoteData struct {
	LastPrice float64 `json:"lastPrice"`
	BestBid   float64 `json:"bestBid"`
	BestAsk   float64 `json:"bestAsk"`
	Timestamp int64   `json:"timestamp"`
}

// subscription matches the transport's subscribe/unsubscribe request.
type subscription struct {
	Action     string `json:"action"`
	ContractID string `json:"contractId"`
}

type client struct {
	send chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

func (c *client) subscribed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *client) apply(s subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Action {
	case "subscribe":
		c.subs[s.ContractID] = true
	case "unsubscribe":
		delete(c.subs, s.ContractID)
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{send: make(chan []byte, 256), subs: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// broadcast sends msg to clients subscribed to contractID. Slow clients
// drop the message.
func (h *hub) broadcast(contractID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.subscribed(contractID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "component", "tickserver", "error", err)
			return
		}
		slog.Info("client connected", "component", "tickserver", "remote", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "component", "tickserver", "remote", r.RemoteAddr)
		}()

		// Read pump: subscription requests.
		go func() {
			for {
				var s subscription
				if err := conn.ReadJSON(&s); err != nil {
					h.unregister(conn)
					return
				}
				c.apply(s)
				slog.Debug("subscription", "component", "tickserver", "action", s.Action, "contract", s.ContractID)
			}
		}()

		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// instrument is one simulated contract.
type instrument struct {
	contract model.Contract
	tick     decimal.Decimal
	price    decimal.Decimal
}

func newInstrument(c model.Contract, start float64) *instrument {
	in := &instrument{contract: c, tick: decimal.NewFromFloat(c.TickSize)}
	in.price = in.round(decimal.NewFromFloat(start))
	return in
}

// round snaps p to the contract tick grid.
func (in *instrument) round(p decimal.Decimal) decimal.Decimal {
	if in.tick.IsZero() {
		return p
	}
	return p.Div(in.tick).Round(0).Mul(in.tick)
}

// walk moves the price by up to three ticks, never below one tick.
func (in *instrument) walk(rng *rand.Rand) {
	steps := int64(rng.Intn(7) - 3)
	next := in.price.Add(in.tick.Mul(decimal.NewFromInt(steps)))
	if next.LessThanOrEqual(decimal.Zero) {
		next = in.tick
	}
	in.price = in.round(next)
}

func (in *instrument) trade(rng *rand.Rand, now time.Time) []byte {
	p, _ := in.price.Float64()
	b, _ := json.Marshal(frame{
		Type:       "GatewayTrade",
		ContractID: in.contract.ID,
		Data:       tradeData{Price: p, Volume: rng.Intn(10) + 1, Timestamp: now.UTC().Format(time.RFC3339Nano)},
	})
	return b
}

func (in *instrument) quote(now time.Time) []byte {
	p, _ := in.price.Float64()
	bid, _ := in.price.Sub(in.tick).Float64()
	ask, _ := in.price.Add(in.tick).Float64()
	b, _ := json.Marshal(frame{
		Type:       "GatewayQuote",
		ContractID: in.contract.ID,
		Data:       quoteData{LastPrice: p, BestBid: bid, BestAsk: ask, Timestamp: now.UnixMilli()},
	})
	return b
}

// runGenerator emits a trade per instrument every interval and a quote
// every fifth interval, until stop is closed.
func runGenerator(h *hub, instruments []*instrument, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for n := 0; ; n++ {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, in := range instruments {
				in.walk(rng)
				h.broadcast(in.contract.ID, in.trade(rng, now))
				if n%5 == 0 {
					h.broadcast(in.contract.ID, in.quote(now))
				}
			}
		}
	}
}
