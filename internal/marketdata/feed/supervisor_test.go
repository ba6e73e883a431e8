package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"signalflow/internal/model"
)

// fakeTransport records calls and lets tests push events or drop the link.
type fakeTransport struct {
	mu           sync.Mutex
	connectErrs  int // fail this many Connect calls first
	connects     int
	subscribed   []string
	unsubscribed []string
	events       chan Event
	drop         chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16), drop: make(chan error, 1)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErrs > 0 {
		f.connectErrs--
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, c model.Contract) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, c.Code)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, c model.Contract) error {
	f.mu.Lock()
	f.unsubscribed = append(f.unsubscribed, c.Code)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Run(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-f.drop:
			return err
		case ev := <-f.events:
			handle(ev)
		}
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) snapshot() (int, []string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, append([]string(nil), f.subscribed...), append([]string(nil), f.unsubscribed...)
}

type fakeSink struct {
	mu     sync.Mutex
	trades map[string]int
	quotes map[string]int
	seeds  map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{trades: map[string]int{}, quotes: map[string]int{}, seeds: map[string]int{}}
}

func (s *fakeSink) HandleTrade(symbol string, raw []byte) error {
	s.mu.Lock()
	s.trades[symbol]++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) HandleQuote(symbol string, raw []byte) error {
	s.mu.Lock()
	s.quotes[symbol]++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) SeedHistory(symbol string, bars []model.HistoricalBar) int {
	s.mu.Lock()
	s.seeds[symbol]++
	s.mu.Unlock()
	return len(bars)
}

func (s *fakeSink) get(m map[string]int, symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m[symbol]
}

type fakeBackfill struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (b *fakeBackfill) HistoricalBars(ctx context.Context, c model.Contract, limit int) ([]model.HistoricalBar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c.Code)
	if b.err != nil {
		return nil, b.err
	}
	return []model.HistoricalBar{{Time: 60, Open: 1, High: 1, Low: 1, Close: 1}}, nil
}

func (b *fakeBackfill) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustContract(code string) model.Contract {
	c, _ := model.ResolveContract(code)
	return c
}

func TestSupervisor_ConnectSubscribeBackfillDispatch(t *testing.T) {
	tr := newFakeTransport()
	sink := newFakeSink()
	bf := &fakeBackfill{}
	sup := NewSupervisor(Config{Contract: mustContract("MGCZ5")}, tr, sink, bf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Start(ctx)
		close(done)
	}()

	waitFor(t, "connected", func() bool { return sup.State() == StateConnected })
	waitFor(t, "initial backfill", func() bool { return bf.count() == 1 })

	tr.events <- Event{Kind: EventTrade, ContractID: "CON.F.US.MGC.Z25", Payload: json.RawMessage(`[{"price":1},{"price":2}]`)}
	tr.events <- Event{Kind: EventQuote, ContractID: "CON.F.US.MGC.Z25", Payload: json.RawMessage(`{"bid":1}`)}
	tr.events <- Event{Kind: EventTrade, ContractID: "CON.F.US.OTHER", Payload: json.RawMessage(`{"price":3}`)}

	waitFor(t, "dispatch", func() bool {
		return sink.get(sink.trades, "MGCZ5") == 2 && sink.get(sink.quotes, "MGCZ5") == 1
	})
	if sink.get(sink.seeds, "MGCZ5") != 1 {
		t.Errorf("expected 1 seed for MGCZ5, got %d", sink.get(sink.seeds, "MGCZ5"))
	}

	cancel()
	<-done
	if sup.State() != StateDisconnected {
		t.Errorf("expected disconnected after stop, got %s", sup.State())
	}
}

func TestSupervisor_StartIsNotReentrant(t *testing.T) {
	tr := newFakeTransport()
	sup := NewSupervisor(Config{}, tr, newFakeSink(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Start(ctx)
	waitFor(t, "connected", func() bool { return sup.State() == StateConnected })

	if sup.Start(ctx) {
		t.Fatal("second Start should return false while running")
	}
	connects, _, _ := tr.snapshot()
	if connects != 1 {
		t.Errorf("expected 1 connect, got %d", connects)
	}
	if sup.Contract().Code != model.DefaultContractCode {
		t.Errorf("expected default contract %s, got %s", model.DefaultContractCode, sup.Contract().Code)
	}
}

func TestSupervisor_RetriesConnectAfterFixedDelay(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErrs = 2
	sup := NewSupervisor(Config{RetryDelay: 20 * time.Millisecond}, tr, newFakeSink(), nil)

	reconnects := 0
	var mu sync.Mutex
	sup.OnReconnect = func() {
		mu.Lock()
		reconnects++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go sup.Start(ctx)

	waitFor(t, "connected after retries", func() bool { return sup.State() == StateConnected })
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected two fixed 20ms delays, connected after %v", elapsed)
	}
	connects, _, _ := tr.snapshot()
	if connects != 3 {
		t.Errorf("expected 3 connect attempts, got %d", connects)
	}
	mu.Lock()
	defer mu.Unlock()
	if reconnects != 2 {
		t.Errorf("expected 2 reconnect hooks, got %d", reconnects)
	}
}

func TestSupervisor_ResubscribesAfterDrop(t *testing.T) {
	tr := newFakeTransport()
	bf := &fakeBackfill{}
	sup := NewSupervisor(Config{ReconnectDelay: 10 * time.Millisecond}, tr, newFakeSink(), bf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Start(ctx)
	waitFor(t, "connected", func() bool { return sup.State() == StateConnected })

	tr.drop <- errors.New("connection reset")
	waitFor(t, "second subscribe", func() bool {
		_, subs, _ := tr.snapshot()
		return len(subs) == 2
	})
	_, subs, _ := tr.snapshot()
	if subs[1] != "MGCZ5" {
		t.Errorf("expected resubscribe to MGCZ5, got %s", subs[1])
	}
	if bf.count() != 1 {
		t.Errorf("backfill should run once, not on reconnect; got %d", bf.count())
	}
}

func TestSupervisor_SwitchStopsThenBackfillsNewInstrument(t *testing.T) {
	tr := newFakeTransport()
	sink := newFakeSink()
	bf := &fakeBackfill{}
	sup := NewSupervisor(Config{Contract: mustContract("MGCZ5")}, tr, sink, bf)

	var states []State
	var mu sync.Mutex
	sup.OnStateChange = func(from, to State) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Start(ctx)
	waitFor(t, "connected", func() bool { return sup.State() == StateConnected })
	waitFor(t, "initial backfill", func() bool { return bf.count() == 1 })

	got := sup.Switch(ctx, "MNQZ5")
	if got.Code != "MNQZ5" {
		t.Fatalf("expected MNQZ5, got %s", got.Code)
	}

	waitFor(t, "backfill for new instrument", func() bool { return bf.count() == 2 })
	waitFor(t, "connected to new instrument", func() bool { return sup.State() == StateConnected })

	_, subs, unsubs := tr.snapshot()
	if len(unsubs) != 1 || unsubs[0] != "MGCZ5" {
		t.Errorf("expected old instrument unsubscribed, got %v", unsubs)
	}
	if subs[len(subs)-1] != "MNQZ5" {
		t.Errorf("expected last subscribe MNQZ5, got %v", subs)
	}
	if sink.get(sink.seeds, "MNQZ5") != 1 {
		t.Errorf("expected one seed for MNQZ5")
	}

	mu.Lock()
	sawSwitching := false
	for _, s := range states {
		if s == StateSwitching {
			sawSwitching = true
		}
	}
	mu.Unlock()
	if !sawSwitching {
		t.Error("expected a Switching state transition")
	}

	// Switching to the active instrument only resubscribes
	before := bf.count()
	sup.Switch(ctx, "MNQZ5")
	if bf.count() != before {
		t.Error("same-instrument switch must not backfill again")
	}
}

func TestSupervisor_BackfillFailureIsNotFatal(t *testing.T) {
	tr := newFakeTransport()
	sink := newFakeSink()
	bf := &fakeBackfill{err: errors.New("history unavailable")}
	sup := NewSupervisor(Config{}, tr, sink, bf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Start(ctx)
	waitFor(t, "backfill attempted", func() bool { return bf.count() == 1 })

	tr.events <- Event{Kind: EventTrade, Payload: json.RawMessage(`{"price":5}`)}
	waitFor(t, "live trade after failed backfill", func() bool { return sink.get(sink.trades, "MGCZ5") == 1 })
	if sink.get(sink.seeds, "MGCZ5") != 0 {
		t.Error("failed backfill must not seed")
	}
}

func TestState_String(t *testing.T) {
	if StateSwitching.String() != "switching" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
