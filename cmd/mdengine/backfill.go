package main

import (
	"context"
	"errors"
	"log/slog"

	"signalflow/internal/marketdata/feed"
	"signalflow/internal/model"
)

// backfillChain asks each provider in order and returns the first
// non-empty answer. Provider errors are logged and skipped; the joined
// errors are returned only when every provider failed.
type backfillChain []feed.BackfillProvider

func (b backfillChain) HistoricalBars(ctx context.Context, c model.Contract, limit int) ([]model.HistoricalBar, error) {
	var errs []error
	for i, p := range b {
		bars, err := p.HistoricalBars(ctx, c, limit)
		if err != nil {
			slog.Warn("backfill provider failed", "component", "mdengine", "provider", i, "contract", c.Code, "error", err)
			errs = append(errs, err)
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}
	if len(errs) == len(b) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
