package sqlite

import (
	"context"
	"math"
	"testing"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/model"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:", BatchSize: 2, FlushDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bar(ts int64, close float64) model.HistoricalBar {
	return model.HistoricalBar{Time: ts, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10}
}

func TestHistoricalBars_NewestLimitAscending(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	var bars []model.HistoricalBar
	for i := 0; i < 10; i++ {
		bars = append(bars, bar(int64(60*(i+1)), float64(100+i)))
	}
	if err := s.SaveBars(ctx, "MGCZ5", bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	got, err := s.HistoricalBars(ctx, model.Contract{Code: "MGCZ5"}, 3)
	if err != nil {
		t.Fatalf("HistoricalBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	for i, want := range []int64{480, 540, 600} {
		if got[i].Time != want {
			t.Errorf("bar %d: expected time %d, got %d", i, want, got[i].Time)
		}
	}
	if got[0].Completed == nil || !*got[0].Completed || got[0].Source != model.SourceHistory {
		t.Errorf("stored bars should come back completed history bars: %+v", got[0])
	}

	other, _ := s.HistoricalBars(ctx, model.Contract{Code: "MNQZ5"}, 3)
	if len(other) != 0 {
		t.Errorf("symbols must not mix, got %d bars", len(other))
	}
}

func TestSaveBars_SkipsOpenAndInvalid(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	open := false
	nan := bar(120, 1)
	nan.High = math.NaN()
	forming := bar(180, 2)
	forming.Completed = &open

	if err := s.SaveBars(ctx, "MGCZ5", []model.HistoricalBar{bar(60, 1), nan, forming}); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	got, err := s.Candles(ctx, "MGCZ5", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Time != 60 {
		t.Errorf("expected only the valid completed bar, got %+v", got)
	}

	// upsert
	if err := s.SaveBars(ctx, "MGCZ5", []model.HistoricalBar{bar(60, 5)}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Candles(ctx, "MGCZ5", 60, 60)
	if len(got) != 1 || got[0].Close != 5 {
		t.Errorf("expected upserted close 5, got %+v", got)
	}
}

func TestRun_PersistsFinalizedCandles(t *testing.T) {
	s := openMemory(t)
	events := make(chan bus.Event, 8)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), events)
		close(done)
	}()

	c := model.Candle{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 4, Completed: true}
	events <- bus.Event{Kind: bus.KindPartial, Symbol: "MGCZ5", Candle: model.Candle{Time: 120, Open: 1, High: 1, Low: 1, Close: 1}}
	events <- bus.Event{Kind: bus.KindCandle, Symbol: "MGCZ5", Candle: c}
	c.Time = 120
	events <- bus.Event{Kind: bus.KindCandle, Symbol: "MGCZ5", Candle: c}
	events <- bus.Event{Kind: bus.KindSeed, Symbol: "MGCZ5", Snapshot: []model.Candle{c}}
	close(events)
	<-done

	last, err := s.LastTime(context.Background(), "MGCZ5")
	if err != nil {
		t.Fatal(err)
	}
	if last != 120 {
		t.Errorf("expected last time 120, got %d", last)
	}
	got, _ := s.Candles(context.Background(), "MGCZ5", 0, 0)
	if len(got) != 2 {
		t.Errorf("expected 2 persisted candles, got %d", len(got))
	}
}

func TestLastTime_Empty(t *testing.T) {
	s := openMemory(t)
	last, err := s.LastTime(context.Background(), "NQZ5")
	if err != nil || last != 0 {
		t.Errorf("expected 0 and no error, got %d %v", last, err)
	}
}
