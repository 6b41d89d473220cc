// cmd/crossval streams stored bars through the self-contained and the
// external (go-talib) implementation of each indicator and reports the
// largest divergence. It exits non-zero when any indicator is out of
// tolerance.
//
// Usage:
//
//	go run ./cmd/crossval --db=data/bars.db --symbol=SBIN --tf=60
//	go run ./cmd/crossval --source=postgres --dsn=postgres://... --indicators="EMA:20,BBANDS:20;k=2"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/indengine"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/model"
	"trading-indicators/internal/store/postgres"
	sqlitestore "trading-indicators/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	source := flag.String("source", "sqlite", "Bar history: sqlite or postgres")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	dsn := flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN")
	symbol := flag.String("symbol", "", "Symbol to validate on (default: first stored series)")
	tf := flag.Int("tf", 60, "Timeframe in seconds")
	limit := flag.Int("bars", 5000, "Maximum bars to replay")
	specs := flag.String("indicators", "", "Indicator specs: TYPE:P1/P2;k=v,... (default: every externally backed default)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader, err := openReader(ctx, *source, *dbPath, *dsn)
	if err != nil {
		log.Fatalf("[crossval] %v", err)
	}
	defer reader.Close()

	key := model.SeriesKey{Symbol: *symbol, TF: *tf}
	if key.Symbol == "" {
		if key, err = firstSeries(ctx, reader, *tf); err != nil {
			log.Fatalf("[crossval] %v", err)
		}
	}
	bars, err := readBars(ctx, reader, key, *limit)
	if err != nil {
		log.Fatalf("[crossval] read bars: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("[crossval] no bars for %s:%d", key.Symbol, key.TF)
	}

	reg := backend.DefaultRegistry()
	params, err := selectSpecs(reg, *specs)
	if err != nil {
		log.Fatalf("[crossval] %v", err)
	}

	fmt.Printf("cross-validating %d indicators on %s:%ds (%d bars)\n", len(params), key.Symbol, key.TF, len(bars))
	failed := 0
	for _, p := range params {
		d, err := backend.CrossValidate(reg, p, bars)
		switch {
		case err != nil:
			failed++
			fmt.Printf("  ERROR %-28s %v\n", p.Key(), err)
		case !d.OK():
			failed++
			fmt.Printf("  FAIL  %s\n", d)
		default:
			fmt.Printf("  ok    %s\n", d)
		}
	}
	if failed > 0 {
		fmt.Printf("%d of %d indicators diverge beyond %.0e\n", failed, len(params), backend.Tolerance)
		os.Exit(1)
	}
}

func openReader(ctx context.Context, source, dbPath, dsn string) (model.BarReader, error) {
	switch source {
	case "sqlite":
		return sqlitestore.NewReader(dbPath)
	case "postgres":
		pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return postgres.NewReader(pctx, postgres.Config{DSN: dsn, MaxOpenConns: 2})
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

func firstSeries(ctx context.Context, r model.BarReader, tf int) (model.SeriesKey, error) {
	series, err := r.ListSeries(ctx)
	if err != nil {
		return model.SeriesKey{}, err
	}
	for _, k := range series {
		if k.TF == tf {
			return k, nil
		}
	}
	return model.SeriesKey{}, fmt.Errorf("no stored series with TF=%d", tf)
}

// readBars pages through the history in chunks until limit bars are read.
func readBars(ctx context.Context, r model.BarReader, key model.SeriesKey, limit int) ([]model.Bar, error) {
	const chunk = 1000
	var out []model.Bar
	var after int64
	for len(out) < limit {
		n := min(chunk, limit-len(out))
		page, err := r.ReadBars(ctx, key.Symbol, key.TF, after, n)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
		if len(page) < n {
			break
		}
		after = page[len(page)-1].TS
	}
	return out, nil
}

// selectSpecs parses s, or falls back to the default indicator set
// restricted to types with an external implementation.
func selectSpecs(reg *backend.Registry, s string) ([]indicator.Params, error) {
	if s != "" {
		return indengine.ParseIndicatorSpecs(s)
	}
	external := make(map[string]bool)
	for _, t := range reg.ExternalTypes() {
		external[t] = true
	}
	var out []indicator.Params
	for _, p := range indengine.DefaultSpecs() {
		if external[p.Type] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no default indicator has an external implementation")
	}
	return out, nil
}
