package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"trading-indicators/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm-up and cross-checks.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns up to limit bars of a series with ts > afterTS, oldest
// first.
func (r *Reader) ReadBars(ctx context.Context, symbol string, tf int, afterTS int64, limit int) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, ts, open, high, low, close, COALESCE(volume, 0)
		FROM bars
		WHERE symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
		LIMIT ?
	`, symbol, tf, afterTS, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	bars := make([]model.Bar, 0, limit)
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Symbol, &b.TF, &b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSeries returns every (symbol, tf) pair with stored bars.
func (r *Reader) ListSeries(ctx context.Context) ([]model.SeriesKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol, tf FROM bars ORDER BY symbol, tf`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list series: %w", err)
	}
	defer rows.Close()

	var keys []model.SeriesKey
	for rows.Next() {
		var k model.SeriesKey
		if err := rows.Scan(&k.Symbol, &k.TF); err != nil {
			return nil, fmt.Errorf("sqlite scan series: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ReadOutputs returns archived rows of one indicator on one series with
// ts > afterTS, oldest first.
func (r *Reader) ReadOutputs(ctx context.Context, key, symbol string, tf int, afterTS int64, limit int) ([]model.Output, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM indicator_outputs
		WHERE key = ? AND symbol = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
		LIMIT ?
	`, key, symbol, tf, afterTS, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query outputs: %w", err)
	}
	defer rows.Close()

	var outs []model.Output
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan outputs: %w", err)
		}
		var o model.Output
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
		outs = append(outs, o)
	}
	return outs, rows.Err()
}

// DB returns the underlying handle for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
