// Package feed owns the live market-data subscription: a websocket transport
// and a Supervisor that keeps exactly one instrument subscribed, reconnects
// after drops and backfills history on instrument switch.
//
// Wire format (JSON text frames):
//
//	-> {"action":"subscribe","contractId":"CON.F.US.MGC.Z25","channels":["trades","quotes"]}
//	<- {"type":"GatewayTrade","contractId":"CON.F.US.MGC.Z25","data":{"price":2412.3,"volume":1,"timestamp":"..."}}
//	<- {"type":"GatewayQuote","contractId":"CON.F.US.MGC.Z25","data":{"bestBid":2412.2,"bestAsk":2412.4}}
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"signalflow/internal/model"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by transport calls made before Connect.
var ErrNotConnected = errors.New("feed: not connected")

// EventKind tells trades from quotes.
type EventKind string

const (
	EventTrade EventKind = "GatewayTrade"
	EventQuote EventKind = "GatewayQuote"
	EventDepth EventKind = "GatewayDepth"
)

// Event is one market-data message for a contract. Payload is the raw
// upstream body, possibly a batch.
type Event struct {
	Kind       EventKind       `json:"type"`
	ContractID string          `json:"contractId"`
	Payload    json.RawMessage `json:"data"`
}

// Transport is a single market-data connection.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, c model.Contract) error
	Unsubscribe(ctx context.Context, c model.Contract) error

	// Run reads events until the connection drops (non-nil error) or ctx
	// is cancelled (nil).
	Run(ctx context.Context, handle func(Event)) error

	Close() error
}

// WSConfig holds configuration for the websocket transport.
type WSConfig struct {
	// URL of the market hub, e.g. "ws://localhost:9001/ws"
	URL string

	// Header is sent with the handshake (auth is handled upstream).
	Header http.Header

	// HandshakeTimeout defaults to 10 seconds if zero.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds subscribe/unsubscribe writes. Defaults to 5s.
	WriteTimeout time.Duration
}

func (c *WSConfig) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// WSTransport is a Transport over gorilla/websocket.
type WSTransport struct {
	cfg WSConfig

	mu   sync.Mutex // guards conn and writes
	conn *websocket.Conn
}

// NewWSTransport creates a transport. Returns an error if the URL is unparseable.
func NewWSTransport(cfg WSConfig) (*WSTransport, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url: unsupported scheme %q", u.Scheme)
	}
	return &WSTransport{cfg: cfg}, nil
}

// Connect dials the hub.
func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	slog.Info("connected", "component", "feed", "url", t.cfg.URL)
	return nil
}

type subscription struct {
	Action     string   `json:"action"`
	ContractID string   `json:"contractId"`
	Channels   []string `json:"channels"`
}

var channels = []string{"trades", "quotes"}

// Subscribe requests trades and quotes for c.
func (t *WSTransport) Subscribe(ctx context.Context, c model.Contract) error {
	return t.write(subscription{Action: "subscribe", ContractID: c.ID, Channels: channels})
}

// Unsubscribe stops trades and quotes for c.
func (t *WSTransport) Unsubscribe(ctx context.Context, c model.Contract) error {
	return t.write(subscription{Action: "unsubscribe", ContractID: c.ID, Channels: channels})
}

func (t *WSTransport) write(msg subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("feed %s %s: %w", msg.Action, msg.ContractID, err)
	}
	return nil
}

// Run reads frames until disconnect or ctx cancel.
func (t *WSTransport) Run(ctx context.Context, handle func(Event)) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	// Async context watcher: closes the connection when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			t.mu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("feed read: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			slog.Debug("skipping non-json frame", "component", "feed", "error", err)
			continue
		}
		if ev.Kind != EventTrade && ev.Kind != EventQuote {
			continue
		}
		handle(ev)
	}
}

// Close closes the connection, if any.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
