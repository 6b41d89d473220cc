package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the engine from concrete stores (SQLite, Postgres, Redis).

// BarReader fetches historical bars in ascending time order, one chunk at a
// time. A chunk shorter than limit means the series is exhausted.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, tf int, afterTS int64, limit int) ([]Bar, error)

	// ListSeries returns every (symbol, tf) pair the store holds bars for.
	ListSeries(ctx context.Context) ([]SeriesKey, error)

	Close() error
}

// BarWriter persists bars.
type BarWriter interface {
	InsertBars(ctx context.Context, bars []Bar) error
	Close() error
}
