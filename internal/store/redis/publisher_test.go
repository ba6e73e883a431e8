package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"signalflow/internal/engine"
	"signalflow/internal/marketdata/bus"
	"signalflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

type recorder struct {
	mu   sync.Mutex
	fail bool
	sent []message
}

func (r *recorder) send(ctx context.Context, msgs []message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("connection refused")
	}
	r.sent = append(r.sent, msgs...)
	return nil
}

func (r *recorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *recorder) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.sent...)
}

func testPublisher(cfg Config) (*Publisher, *recorder) {
	p := newPublisher(nil, cfg)
	rec := &recorder{}
	p.send = rec.send
	return p, rec
}

func TestPublishEvent_Targets(t *testing.T) {
	p, rec := testPublisher(Config{})
	ctx := context.Background()
	c := model.Candle{Time: 1_700_000_040, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, Completed: true}

	if err := p.PublishEvent(ctx, bus.Event{Kind: bus.KindPartial, Symbol: "MGCZ5", Candle: c}); err != nil {
		t.Fatal(err)
	}
	if err := p.PublishEvent(ctx, bus.Event{Kind: bus.KindCandle, Symbol: "MGCZ5", Candle: c}); err != nil {
		t.Fatal(err)
	}

	got := rec.messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 writes, got %d: %+v", len(got), got)
	}
	if got[0].channel != "pub:partial:MGCZ5" || got[0].stream != "" {
		t.Errorf("partial should only be published: %+v", got[0])
	}
	if got[1].channel != "pub:candle:MGCZ5" {
		t.Errorf("unexpected candle channel %q", got[1].channel)
	}
	if got[2].stream != "candle:1m:MGCZ5" || got[2].key != "candle:1m:latest:MGCZ5" {
		t.Errorf("finalized candle should be streamed: %+v", got[2])
	}

	var ev bus.Event
	if err := json.Unmarshal([]byte(got[1].payload), &ev); err != nil || ev.Kind != bus.KindCandle {
		t.Errorf("channel payload should be the event: %v %+v", err, ev)
	}
	var streamed model.Candle
	if err := json.Unmarshal([]byte(got[2].payload), &streamed); err != nil || streamed != c {
		t.Errorf("stream payload should be the candle: %v %+v", err, streamed)
	}
}

func TestPublishResult_ActionsAlwaysArray(t *testing.T) {
	p, rec := testPublisher(Config{})
	err := p.PublishResult(context.Background(), engine.Result{RunID: "r1", Symbol: "MNQZ5"})
	if err != nil {
		t.Fatal(err)
	}
	got := rec.messages()
	if len(got) != 2 {
		t.Fatalf("expected analysis + actions writes, got %d", len(got))
	}
	if got[0].channel != "pub:analysis:MNQZ5" || got[0].key != "analysis:latest:MNQZ5" {
		t.Errorf("unexpected analysis targets %+v", got[0])
	}
	if got[1].channel != "pub:actions:MNQZ5" || got[1].payload != "[]" {
		t.Errorf("empty queue should publish []: %+v", got[1])
	}
}

func TestPublisher_BuffersWhileOpenAndReplays(t *testing.T) {
	p, rec := testPublisher(Config{MaxFailures: 2, Cooldown: time.Second})
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	p.breaker.now = c.now
	flushed := make(chan int, 1)
	p.OnFlush = func(n int) { flushed <- n }

	ctx := context.Background()
	rec.setFail(true)
	for i := 0; i < 2; i++ {
		if err := p.PublishActions(ctx, "MGCZ5", nil); err == nil {
			t.Fatal("expected a write error before the breaker opens")
		}
	}
	if p.breaker.State() != StateOpen {
		t.Fatalf("breaker should be open, got %v", p.breaker.State())
	}

	if err := p.PublishActions(ctx, "MGCZ5", []model.Action{{ID: "a-action"}}); err != nil {
		t.Fatalf("open breaker should buffer, got %v", err)
	}
	if p.Pending() != 1 {
		t.Fatalf("expected 1 pending write, got %d", p.Pending())
	}

	rec.setFail(false)
	c.advance(2 * time.Second)
	if err := p.PublishActions(ctx, "MGCZ5", nil); err != nil {
		t.Fatalf("probe write: %v", err)
	}

	select {
	case n := <-flushed:
		if n != 1 {
			t.Errorf("expected 1 replayed write, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffered writes were not replayed")
	}
	if p.Pending() != 0 {
		t.Errorf("buffer should be empty after replay, got %d", p.Pending())
	}
}

func TestPublisher_BufferDropsOldest(t *testing.T) {
	p, _ := testPublisher(Config{MaxBuffer: 2})
	for _, ch := range []string{"a", "b", "c"} {
		p.buffer([]message{{channel: ch}})
	}
	if p.Pending() != 2 || p.pending[0].channel != "b" {
		t.Errorf("expected [b c], got %+v", p.pending)
	}
}

func TestDecodeBars_AscendingAndSkipsBad(t *testing.T) {
	msgs := []goredis.XMessage{
		{ID: "3-0", Values: map[string]interface{}{"data": `{"time":180,"open":1,"high":2,"low":1,"close":2,"volume":5}`}},
		{ID: "2-0", Values: map[string]interface{}{"data": `not json`}},
		{ID: "1-0", Values: map[string]interface{}{"data": `{"time":60,"open":1,"high":1,"low":1,"close":1,"volume":1}`}},
	}
	bars := decodeBars(msgs)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Time != 60 || bars[1].Time != 180 {
		t.Errorf("bars not ascending: %+v", bars)
	}
	if bars[0].Completed == nil || !*bars[0].Completed {
		t.Error("streamed bars should be completed")
	}
}
