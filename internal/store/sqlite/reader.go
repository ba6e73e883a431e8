package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signalflow/internal/model"
)

// HistoricalBars returns the newest limit bars for the contract, ascending
// by time. It satisfies feed.BackfillProvider and model.BarReader.
func (s *Store) HistoricalBars(ctx context.Context, c model.Contract, limit int) ([]model.HistoricalBar, error) {
	if limit <= 0 {
		return nil, nil
	}
	defer s.observe(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars_1m
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, c.Code, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars_1m %s: %w", c.Code, err)
	}
	defer rows.Close()

	bars := make([]model.HistoricalBar, 0, limit)
	for rows.Next() {
		var b model.HistoricalBar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars_1m: %w", err)
		}
		completed := true
		b.Completed = &completed
		b.Source = model.SourceHistory
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Candles returns finalized bars for symbol with from <= time <= to,
// ascending. A zero to means no upper bound.
func (s *Store) Candles(ctx context.Context, symbol string, from, to int64) ([]model.Candle, error) {
	if to <= 0 {
		to = 1<<63 - 1
	}
	defer s.observe(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars_1m
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars_1m %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Completed: true, Source: model.SourceHistory}
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars_1m: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastTime returns the newest stored bar time for symbol, or 0.
func (s *Store) LastTime(ctx context.Context, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars_1m WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("sqlite last ts %s: %w", symbol, err)
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

func (s *Store) observe(start time.Time) {
	if s.prom != nil {
		s.prom.SQLiteReadDur.Observe(time.Since(start).Seconds())
	}
}
