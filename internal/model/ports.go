package model

import "context"

// ── Port interfaces ──
// These decouple the pipeline from concrete transports and stores
// (websocket, Redis, SQLite). Each implementation satisfies one or more.

// BarReader supplies historical one-minute bars for backfill.
type BarReader interface {
	// HistoricalBars returns up to limit bars for the contract, ascending by time.
	HistoricalBars(ctx context.Context, contract Contract, limit int) ([]HistoricalBar, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter stores historical bars (imports, offline tools).
type BarWriter interface {
	// SaveBars upserts bars for a symbol.
	SaveBars(ctx context.Context, symbol string, bars []HistoricalBar) error

	// Close releases underlying resources.
	Close() error
}

// ActionSink receives the synthesized action queue of an analysis pass.
type ActionSink interface {
	PublishActions(ctx context.Context, symbol string, actions []Action) error
}
