// Package replay plays stored one-minute candles back as aggregator events
// for backtesting.
package replay

import (
	"context"
	"log/slog"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Source supplies stored candles. *sqlite.Store satisfies it.
type Source interface {
	Candles(ctx context.Context, symbol string, from, to int64) ([]model.Candle, error)
}

// Replayer emits stored candles in time order.
type Replayer struct {
	src   Source
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer reading from src.
func New(src Source) *Replayer {
	return &Replayer{src: src, sleep: sleepCtx}
}

// Run emits one seed event with the first warmup candles, then a candle
// event for each remaining candle of symbol in [from, to]. speed scales the
// gaps between candles: 1 is real time, 60 is one minute per second, 0 is
// as fast as possible. Returns the number of candle events emitted.
func (r *Replayer) Run(ctx context.Context, symbol string, from, to int64, warmup int, speed float64, out chan<- bus.Event) (int, error) {
	candles, err := r.src.Candles(ctx, symbol, from, to)
	if err != nil {
		return 0, err
	}
	candles = model.NormalizeCandles(candles)
	if len(candles) == 0 {
		slog.Info("no stored candles", "component", "replay", "symbol", symbol)
		return 0, nil
	}

	warmup = max(0, min(warmup, len(candles)))
	slog.Info("replaying", "component", "replay", "symbol", symbol,
		"candles", len(candles), "warmup", warmup, "speed", speed)

	if warmup > 0 {
		seed := model.CloneCandles(candles[:warmup])
		if err := send(ctx, out, bus.Event{Kind: bus.KindSeed, Symbol: symbol, Snapshot: seed}); err != nil {
			return 0, err
		}
	}

	emitted := 0
	var prev int64
	for _, c := range candles[warmup:] {
		if speed > 0 && prev > 0 {
			gap := time.Duration(float64(time.Duration(c.Time-prev)*time.Second) / speed)
			if err := r.sleep(ctx, min(gap, maxGap)); err != nil {
				return emitted, err
			}
		}
		prev = c.Time

		c.Completed = true
		if err := send(ctx, out, bus.Event{Kind: bus.KindCandle, Symbol: symbol, Candle: c}); err != nil {
			slog.Info("replay cancelled", "component", "replay", "emitted", emitted)
			return emitted, err
		}
		emitted++
	}

	slog.Info("replay complete", "component", "replay", "symbol", symbol, "emitted", emitted)
	return emitted, nil
}

func send(ctx context.Context, out chan<- bus.Event, ev bus.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
