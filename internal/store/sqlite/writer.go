// Package sqlite stores finalized one-minute bars. It is the backfill
// provider on instrument switch and the bar source for backtests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/metrics"
	"signalflow/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the Store.
type Config struct {
	// Path to the database file, e.g. "data/bars.db". ":memory:" is accepted.
	Path string

	// BatchSize flushes live candles every N rows. Defaults to 100.
	BatchSize int

	// FlushDelay flushes live candles at least this often. Defaults to 200ms.
	FlushDelay time.Duration
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = defaultFlushDelay
	}
}

// Store is a single-writer SQLite bar store.
type Store struct {
	db   *sql.DB
	cfg  Config
	prom *metrics.Metrics
}

// Open opens the database in WAL mode and creates the schema.
func Open(cfg Config) (*Store, error) {
	cfg.defaults()
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", cfg.Path, err)
	}

	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "component", "sqlite", "path", cfg.Path)
	return &Store{db: db, cfg: cfg}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars_1m (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			source TEXT,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// SetMetrics attaches Prometheus metrics.
func (s *Store) SetMetrics(m *metrics.Metrics) { s.prom = m }

// SaveBars upserts bars for symbol in one transaction. Bars flagged as not
// completed or with non-finite prices are skipped.
func (s *Store) SaveBars(ctx context.Context, symbol string, bars []model.HistoricalBar) error {
	rows := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		if b.Completed != nil && !*b.Completed {
			continue
		}
		rows = append(rows, model.Candle{
			Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, Completed: true, Source: b.Source,
		})
	}
	return s.insertBatch(ctx, symbol, rows)
}

type pendingBar struct {
	symbol string
	candle model.Candle
}

// Run persists finalized candles from the bus, flushing every BatchSize
// rows or every FlushDelay, whichever comes first. Seed and partial
// events are ignored. Blocks until ctx is cancelled or events is closed.
func (s *Store) Run(ctx context.Context, events <-chan bus.Event) {
	batch := make([]pendingBar, 0, s.cfg.BatchSize)
	timer := time.NewTimer(s.cfg.FlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		bySymbol := make(map[string][]model.Candle)
		for _, p := range batch {
			bySymbol[p.symbol] = append(bySymbol[p.symbol], p.candle)
		}
		for sym, candles := range bySymbol {
			// ctx may already be done on shutdown.
			if err := s.insertBatch(context.Background(), sym, candles); err != nil {
				slog.Error("bar batch insert failed", "component", "sqlite", "symbol", sym, "error", err)
			}
		}
		slog.Debug("bars committed", "component", "sqlite", "count", len(batch), "elapsed", time.Since(start))
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			if ev.Kind != bus.KindCandle || !ev.Candle.Completed {
				continue
			}
			batch = append(batch, pendingBar{symbol: ev.Symbol, candle: ev.Candle})
			if len(batch) >= s.cfg.BatchSize {
				flush()
				timer.Reset(s.cfg.FlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(s.cfg.FlushDelay)
		}
	}
}

func (s *Store) insertBatch(ctx context.Context, symbol string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars_1m (symbol, ts, open, high, low, close, volume, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if c.Time <= 0 || !c.Valid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s@%d: %w", symbol, c.Time, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
