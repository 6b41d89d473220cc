// cmd/indengine consumes closed bars from Redis, computes the configured
// indicators for every series and publishes the rows to Redis streams,
// WebSocket clients and, optionally, a SQLite archive.
//
// Usage:
//
//	go run ./cmd/indengine --env=.env
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trading-indicators/internal/indengine"
	"trading-indicators/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	cfg, err := indengine.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("[indengine] config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger.Init("indengine", level)

	log.Printf("[indengine] enabled TFs: %v, history: %s, indicators/TF: %d",
		cfg.TFs, cfg.HistorySource, len(cfg.Configs[0].Indicators))

	svc, err := indengine.New(cfg, nil)
	if err != nil {
		log.Fatalf("[indengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[indengine] fatal: %v", err)
	}
}
