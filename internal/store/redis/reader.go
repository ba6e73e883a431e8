package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"signalflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads finalized candles back from the per-symbol streams. It
// serves as a warm-restart backfill source when no bar store is configured.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps client. The caller owns the client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// HistoricalBars returns up to limit of the newest streamed candles for
// the contract, ascending by time.
func (r *Reader) HistoricalBars(ctx context.Context, c model.Contract, limit int) ([]model.HistoricalBar, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := r.client.XRevRangeN(ctx, StreamKey(c.Code), "+", "-", int64(limit)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", StreamKey(c.Code), err)
	}
	return decodeBars(msgs), nil
}

// Close is a no-op; the client belongs to the Publisher.
func (r *Reader) Close() error { return nil }

// decodeBars converts newest-first stream entries into ascending bars,
// skipping entries that do not decode.
func decodeBars(msgs []goredis.XMessage) []model.HistoricalBar {
	bars := make([]model.HistoricalBar, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var c model.Candle
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			slog.Debug("skipping undecodable stream entry", "component", "redis", "id", msgs[i].ID, "error", err)
			continue
		}
		completed := true
		bars = append(bars, model.HistoricalBar{
			Time: c.Time, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, Completed: &completed, Source: model.SourceHistory,
		})
	}
	return bars
}
