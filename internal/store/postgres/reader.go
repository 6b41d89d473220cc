// Package postgres reads bar history from a PostgreSQL "bars" table with the
// same layout as the SQLite store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"trading-indicators/internal/model"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config configures the Postgres reader.
type Config struct {
	DSN             string // e.g. "host=localhost port=5432 user=ind dbname=market sslmode=disable"
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Reader implements model.BarReader on PostgreSQL.
type Reader struct {
	db *sqlx.DB
}

type barRow struct {
	Symbol string  `db:"symbol"`
	TF     int     `db:"tf"`
	TS     int64   `db:"ts"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

func (r barRow) bar() model.Bar {
	return model.Bar{
		Symbol: r.Symbol, TF: r.TF, TS: r.TS,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
	}
}

// NewReader connects and pings the database.
func NewReader(ctx context.Context, cfg Config) (*Reader, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Printf("[postgres-reader] connected")
	return &Reader{db: db}, nil
}

const readBarsQuery = `
	SELECT symbol, tf, ts, open, high, low, close, COALESCE(volume, 0) AS volume
	FROM bars
	WHERE symbol = $1 AND tf = $2 AND ts > $3
	ORDER BY ts ASC
	LIMIT $4`

// ReadBars returns up to limit bars of a series with ts > afterTS, oldest
// first.
func (r *Reader) ReadBars(ctx context.Context, symbol string, tf int, afterTS int64, limit int) ([]model.Bar, error) {
	var rows []barRow
	if err := r.db.SelectContext(ctx, &rows, readBarsQuery, symbol, tf, afterTS, limit); err != nil {
		return nil, fmt.Errorf("postgres read bars %s:%d: %w", symbol, tf, err)
	}
	bars := make([]model.Bar, len(rows))
	for i, row := range rows {
		bars[i] = row.bar()
	}
	return bars, nil
}

// ListSeries returns every (symbol, tf) pair with stored bars.
func (r *Reader) ListSeries(ctx context.Context) ([]model.SeriesKey, error) {
	var keys []struct {
		Symbol string `db:"symbol"`
		TF     int    `db:"tf"`
	}
	if err := r.db.SelectContext(ctx, &keys, `SELECT DISTINCT symbol, tf FROM bars ORDER BY symbol, tf`); err != nil {
		return nil, fmt.Errorf("postgres list series: %w", err)
	}
	out := make([]model.SeriesKey, len(keys))
	for i, k := range keys {
		out[i] = model.SeriesKey{Symbol: k.Symbol, TF: k.TF}
	}
	return out, nil
}

// DB returns the underlying handle for health checks.
func (r *Reader) DB() *sql.DB { return r.db.DB }

func (r *Reader) Close() error {
	return r.db.Close()
}
