package gateway

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	symbols []string // empty = every symbol
	kinds   []string // empty = every kind
}

// inbound is a control message from the client.
//
//	{"type":"SUBSCRIBE","symbols":["MGCZ5"],"kinds":["analysis","actions"]}
//	{"type":"UNSUBSCRIBE"}
//	{"type":"REPLAY","channel":"pub:actions:MGCZ5","from":12,"to":20}
//	{"ping":1700000000000}
type inbound struct {
	Type    string   `json:"type"`
	ReqID   string   `json:"reqId,omitempty"`
	Symbols []string `json:"symbols"`
	Kinds   []string `json:"kinds"`
	Channel string   `json:"channel"`
	From    int64    `json:"from"`
	To      int64    `json:"to"`
	Ping    int64    `json:"ping"`
}

type reply struct {
	Type     string   `json:"type"`
	ReqID    string   `json:"reqId,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
	Error    string   `json:"error,omitempty"`
	Ping     int64    `json:"ping,omitempty"`
	ServerTS int64    `json:"server_ts,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
}

// matches reports whether channel passes the client's filters. Channels
// outside the pub:<kind>:<symbol> layout always pass.
func (c *Client) matches(channel string) bool {
	kind, symbol, ok := parseChannel(channel)
	if !ok {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.kinds) > 0 && !slices.Contains(c.kinds, kind) {
		return false
	}
	if len(c.symbols) > 0 && !slices.Contains(c.symbols, symbol) {
		return false
	}
	return true
}

func (c *Client) setFilters(symbols, kinds []string) {
	c.mu.Lock()
	c.symbols = slices.Clone(symbols)
	c.kinds = slices.Clone(kinds)
	c.mu.Unlock()
}

// sendLatest queues the latest payload of every matching channel updated
// after since.
func (c *Client) sendLatest(since time.Time) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !since.IsZero() && !entry.TS.After(since) {
			continue
		}
		if !c.matches(channel) {
			continue
		}
		env, err := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        json.RawMessage(entry.Data),
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) reply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.queue(data)
}

// queue sends data unless the client has been removed or is saturated.
func (c *Client) queue(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(reply{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	switch msg.Type {
	case "SUBSCRIBE":
		c.setFilters(msg.Symbols, msg.Kinds)
		c.reply(reply{Type: "subscribed", ReqID: msg.ReqID, Symbols: msg.Symbols, Kinds: msg.Kinds})
	case "UNSUBSCRIBE":
		c.setFilters(nil, nil)
		c.reply(reply{Type: "unsubscribed", ReqID: msg.ReqID})
	case "REPLAY":
		if msg.Channel == "" || msg.From <= 0 || msg.To < msg.From {
			c.reply(reply{Type: "error", ReqID: msg.ReqID, Error: "channel and a valid from/to range are required"})
			return
		}
		for _, env := range c.hub.ReplayRange(msg.Channel, msg.From, msg.To) {
			c.queue(env)
		}
	default:
		if msg.Ping > 0 {
			c.reply(reply{Type: "pong", Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
			return
		}
		c.reply(reply{Type: "error", ReqID: msg.ReqID, Error: "unknown message type " + msg.Type})
	}
}
