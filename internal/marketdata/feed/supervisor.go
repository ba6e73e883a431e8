package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signalflow/internal/marketdata/payload"
	"signalflow/internal/model"
)

// State of the supervisor connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// Sink receives normalized market data. *agg.Aggregator satisfies it.
type Sink interface {
	HandleTrade(symbol string, raw []byte) error
	HandleQuote(symbol string, raw []byte) error
	SeedHistory(symbol string, bars []model.HistoricalBar) int
}

// BackfillProvider supplies historical bars on instrument switch.
type BackfillProvider interface {
	HistoricalBars(ctx context.Context, c model.Contract, limit int) ([]model.HistoricalBar, error)
}

// Config configures the Supervisor.
type Config struct {
	// Contract is the initial instrument.
	Contract model.Contract

	// RetryDelay is the fixed wait after a failed connect. Defaults to 10s.
	RetryDelay time.Duration

	// ReconnectDelay is the fixed wait after an unexpected drop. Defaults to 5s.
	ReconnectDelay time.Duration

	// BackfillLimit is the number of one-minute bars requested. Defaults to 720.
	BackfillLimit int

	// BackfillTimeout bounds one backfill request. Defaults to 15s.
	BackfillTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RetryDelay == 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.BackfillLimit == 0 {
		c.BackfillLimit = 720
	}
	if c.BackfillTimeout == 0 {
		c.BackfillTimeout = 15 * time.Second
	}
}

// Supervisor keeps one instrument subscribed on a Transport and feeds its
// trades and quotes to a Sink. Delays are fixed: no backoff, no jitter.
type Supervisor struct {
	cfg       Config
	transport Transport
	sink      Sink
	backfill  BackfillProvider // optional

	state atomic.Int32
	busy  atomic.Bool

	switchMu sync.Mutex // serializes Switch

	mu              sync.Mutex
	contract        model.Contract
	pendingBackfill bool
	switching       bool
	sessCancel      context.CancelFunc
	sessDone        chan struct{}
	wake            chan struct{}

	// Optional hooks
	OnStateChange func(from, to State)
	OnReconnect   func()
	OnBackfill    func(symbol string, bars int)
}

// NewSupervisor creates a Supervisor. backfill may be nil.
func NewSupervisor(cfg Config, t Transport, sink Sink, backfill BackfillProvider) *Supervisor {
	cfg.defaults()
	if cfg.Contract.Code == "" {
		cfg.Contract, _ = model.ResolveContract(model.DefaultContractCode)
	}
	return &Supervisor{
		cfg:             cfg,
		transport:       t,
		sink:            sink,
		backfill:        backfill,
		contract:        cfg.Contract,
		pendingBackfill: true,
		wake:            make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Contract returns the active instrument.
func (s *Supervisor) Contract() model.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contract
}

// Start runs the connection loop until ctx is cancelled. A second call while
// the loop is running returns false immediately.
func (s *Supervisor) Start(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		slog.Debug("start ignored, already running", "component", "feed")
		return false
	}
	defer s.busy.Store(false)
	defer s.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return true
		}

		err := s.runSession(ctx)
		if ctx.Err() != nil {
			return true
		}

		s.mu.Lock()
		switched := s.switching
		s.switching = false
		s.mu.Unlock()
		if switched {
			continue
		}

		delay := s.cfg.ReconnectDelay
		var se *sessionError
		if errors.As(err, &se) && se.phase != "read" {
			delay = s.cfg.RetryDelay
		}
		contract := s.Contract()
		slog.Warn("feed session ended, retrying",
			"component", "feed", "contract", contract.Code, "error", err, "delay", delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		s.setState(StateDisconnected)
		select {
		case <-ctx.Done():
			return true
		case <-time.After(delay):
		case <-s.wake:
		}
	}
}

// Switch moves the subscription to code. The current session is stopped
// fully before the loop reconnects, resubscribes and seeds history once for
// the new instrument. Switching to the active instrument only resubscribes.
func (s *Supervisor) Switch(ctx context.Context, code string) model.Contract {
	target, ok := model.ResolveContract(code)
	if !ok {
		slog.Error("unable to resolve contract", "component", "feed", "input", code)
		return s.Contract()
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if target.ID == s.contract.ID {
		s.mu.Unlock()
		if s.State() == StateConnected {
			if err := s.transport.Subscribe(ctx, target); err != nil {
				slog.Error("resubscribe failed", "component", "feed", "contract", target.Code, "error", err)
			}
		}
		return target
	}

	previous := s.contract
	s.contract = target
	s.pendingBackfill = true
	cancel, done := s.sessCancel, s.sessDone
	if cancel != nil {
		s.switching = true
	}
	s.mu.Unlock()

	slog.Info("switching instrument", "component", "feed", "from", previous.Code, "to", target.Code)

	if cancel != nil {
		wasConnected := s.State() == StateConnected
		s.setState(StateSwitching)
		if wasConnected {
			if err := s.transport.Unsubscribe(ctx, previous); err != nil {
				slog.Debug("unsubscribe failed", "component", "feed", "contract", previous.Code, "error", err)
			}
		}
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	// Wake a loop that is sleeping between retries
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return target
}

type sessionError struct {
	phase string
	err   error
}

func (e *sessionError) Error() string { return e.phase + ": " + e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// runSession connects, subscribes, backfills if pending and reads until the
// connection drops or the session is cancelled by Switch.
func (s *Supervisor) runSession(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	s.mu.Lock()
	s.sessCancel = cancel
	s.sessDone = done
	contract := s.contract
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sessCancel = nil
		s.sessDone = nil
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	s.setState(StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		return &sessionError{phase: "connect", err: err}
	}
	defer s.transport.Close()

	if err := s.transport.Subscribe(ctx, contract); err != nil {
		return &sessionError{phase: "subscribe", err: err}
	}
	s.setState(StateConnected)
	slog.Info("subscribed", "component", "feed", "contract", contract.Code, "id", contract.ID)

	if s.takeBackfill() {
		s.seed(ctx, contract)
	}

	err := s.transport.Run(ctx, func(ev Event) { s.dispatch(contract, ev) })
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return &sessionError{phase: "read", err: err}
	}
	return nil
}

func (s *Supervisor) takeBackfill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingBackfill
	s.pendingBackfill = false
	return p
}

// seed runs the one-time backfill. Failures are logged and never fatal.
func (s *Supervisor) seed(ctx context.Context, c model.Contract) {
	if s.backfill == nil {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, s.cfg.BackfillTimeout)
	defer cancel()

	bars, err := s.backfill.HistoricalBars(bctx, c, s.cfg.BackfillLimit)
	if err != nil {
		slog.Error("history backfill failed", "component", "feed", "contract", c.Code, "error", err)
		return
	}
	n := s.sink.SeedHistory(c.Code, bars)
	slog.Info("history seeded", "component", "feed", "contract", c.Code, "bars", n)
	if s.OnBackfill != nil {
		s.OnBackfill(c.Code, n)
	}
}

// dispatch routes one event to the sink, splitting trade batches.
func (s *Supervisor) dispatch(c model.Contract, ev Event) {
	if ev.ContractID != "" && ev.ContractID != c.ID {
		return
	}
	switch ev.Kind {
	case EventTrade:
		for _, item := range payload.SplitBatch(ev.Payload) {
			_ = s.sink.HandleTrade(c.Code, item)
		}
	case EventQuote:
		_ = s.sink.HandleQuote(c.Code, ev.Payload)
	}
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to && s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}
