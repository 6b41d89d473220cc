package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-indicators/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// streams keep ~3h of rows per series, at least minStreamLen
	streamWindowSec = 10800
	minStreamLen    = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes indicator rows to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return minStreamLen
	}
	return max(int64(streamWindowSec/tf)+100, minStreamLen)
}

func (w *Writer) writeOutputs(ctx context.Context, outs []model.Output) error {
	if len(outs) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range outs {
		o := &outs[i]
		if !o.Ready {
			continue
		}
		data := string(o.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: o.StreamKey(),
			MaxLen: streamMaxLen(o.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, o.LatestKey(), data, defaultLatestTTL)
		pipe.Publish(ctx, o.PubSubChannel(), data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
