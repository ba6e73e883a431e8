// cmd/backtest replays stored one-minute bars from SQLite through the
// analysis engine and summarizes the action queues it would have produced.
// Action recency is scored against the replayed candle time.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/bars.db --symbol=MGCZ5 --tf=5m --every=5
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"signalflow/config"
	"signalflow/internal/engine"
	"signalflow/internal/logger"
	"signalflow/internal/marketdata/agg"
	"signalflow/internal/marketdata/bus"
	"signalflow/internal/marketdata/replay"
	"signalflow/internal/model"
	"signalflow/internal/pattern"
	sqlitestore "signalflow/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite bar store")
	symbol := flag.String("symbol", model.DefaultContractCode, "Contract code to replay")
	tf := flag.String("tf", "1m", "Analysis timeframe")
	from := flag.Int64("from", 0, "Unix time to start from (0=all)")
	to := flag.Int64("to", 0, "Unix time to stop at (0=all)")
	warmup := flag.Int("warmup", 300, "Bars seeded before the first analysis pass")
	every := flag.Int("every", 1, "Analyze every N replayed bars")
	history := flag.Int("history", agg.DefaultHistoryLimit, "Rolling window size in one-minute bars")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 60=1 minute/s)")
	profiles := flag.String("profiles", "", "YAML pattern profile overrides")
	jsonOut := flag.Bool("json", false, "Print every action queue as a JSON line")
	level := flag.String("log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	logger.Init("backtest", *level)
	if *every < 1 {
		*every = 1
	}

	store, err := sqlitestore.Open(sqlitestore.Config{Path: *dbPath})
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	prof := pattern.DefaultProfiles()
	if *profiles != "" {
		if err := config.LoadProfiles(*profiles, &prof); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
	}

	win := &window{limit: *history}
	eng := engine.New(engine.Config{Timeframe: *tf, Profiles: &prof, ReplayClock: true}, win, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	events := make(chan bus.Event, 1024)
	go func() {
		defer close(events)
		if _, err := replay.New(store).Run(ctx, *symbol, *from, *to, *warmup, *speed, events); err != nil && ctx.Err() == nil {
			slog.Error("replay failed", "component", "backtest", "error", err)
		}
	}()

	sum := newSummary()
	enc := json.NewEncoder(os.Stdout)
	replayed := 0
	for ev := range events {
		win.apply(ev)
		if ev.Kind == bus.KindCandle {
			replayed++
			if replayed%*every != 0 {
				continue
			}
		}
		res, _ := eng.Analyze(ctx, ev.Symbol, ev.Kind)
		sum.add(res)
		if *jsonOut {
			enc.Encode(struct {
				Time    int64          `json:"time"`
				Actions []model.Action `json:"actions"`
			}{res.LastTime, res.Bundle.Actions})
		}
	}

	sum.print(*symbol, *tf, replayed)
}

// window is the rolling one-minute history the engine snapshots.
type window struct {
	mu      sync.Mutex
	limit   int
	candles []model.Candle
}

func (w *window) apply(ev bus.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch ev.Kind {
	case bus.KindSeed:
		w.candles = model.CloneCandles(ev.Snapshot)
	case bus.KindCandle:
		w.candles = append(w.candles, ev.Candle)
	}
	if over := len(w.candles) - w.limit; w.limit > 0 && over > 0 {
		w.candles = w.candles[over:]
	}
}

func (w *window) Snapshot(string) []model.Candle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.CloneCandles(w.candles)
}

type summary struct {
	passes   int
	actions  int
	byVerb   map[string]int
	byPatt   map[string]int
	topScore float64
	top      model.Action
	topTime  int64
}

func newSummary() *summary {
	return &summary{byVerb: map[string]int{}, byPatt: map[string]int{}}
}

func (s *summary) add(r engine.Result) {
	s.passes++
	s.actions += len(r.Bundle.Actions)
	for _, a := range r.Bundle.Actions {
		s.byVerb[a.Action]++
		s.byPatt[a.Pattern]++
		if a.Score > s.topScore {
			s.topScore, s.top, s.topTime = a.Score, a, r.LastTime
		}
	}
}

func (s *summary) print(symbol, tf string, replayed int) {
	fmt.Println()
	fmt.Println("BACKTEST COMPLETE")
	fmt.Printf("  Symbol:          %s (%s)\n", symbol, tf)
	fmt.Printf("  Bars replayed:   %d\n", replayed)
	fmt.Printf("  Analysis passes: %d\n", s.passes)
	fmt.Printf("  Actions queued:  %d\n", s.actions)
	for _, k := range sortedKeys(s.byVerb) {
		fmt.Printf("    %-15s %d\n", k, s.byVerb[k])
	}
	fmt.Println("  Patterns:")
	for _, k := range sortedKeys(s.byPatt) {
		fmt.Printf("    %-30s %d\n", k, s.byPatt[k])
	}
	if s.topScore > 0 {
		fmt.Printf("  Best action:     %s %s score=%.2f at %d\n", s.top.Action, s.top.Pattern, s.top.Score, s.topTime)
	}
}

// sortedKeys orders by count descending, then name.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
