package indengine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"trading-indicators/internal/backend"
	"trading-indicators/internal/bus"
	"trading-indicators/internal/engine"
	"trading-indicators/internal/gateway"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/logger"
	"trading-indicators/internal/metrics"
	"trading-indicators/internal/model"
	"trading-indicators/internal/store/postgres"
	redisstore "trading-indicators/internal/store/redis"
	sqlitestore "trading-indicators/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

const reloadChannel = "config:indicators"

// Service wires the engine to its stores and surfaces and manages their
// lifecycle.
type Service struct {
	cfg   Config
	runID string

	sel    *backend.Selector
	engine *engine.Engine

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	outWriter   *redisstore.BufferedWriter
	history     model.BarReader // nil when HISTORY_SOURCE=none
	historyDB   *sql.DB
	archive     *sqlitestore.Writer

	hub    *gateway.Hub
	fan    *bus.FanOut[model.Output]
	pipe   *barPipe
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	streams   []string
	barCh     chan model.Bar
	outCh     chan model.Output
	archiveCh chan []model.Bar
}

// New connects to Redis and the bar history and builds the engine.
func New(cfg Config, reg prometheus.Registerer) (*Service, error) {
	svc := &Service{
		cfg:    cfg,
		runID:  logger.NewRunID(),
		prom:   metrics.NewMetrics(reg),
		health: metrics.NewHealthStatus(),
		hub:    gateway.NewHub(),
		fan:    bus.New[model.Output](4096),
		pipe:   newBarPipe(8192),
		barCh:  make(chan model.Bar, 1024),
		outCh:  make(chan model.Output, cfg.OutputBuffer),
	}
	svc.health.SetEnabledTFs(cfg.TFs)

	svc.sel = backend.NewSelector(nil, cfg.Policy, backend.Capabilities{External: cfg.ExternalBackend}, nil)
	svc.sel.OnSelect = func(p indicator.Params, kind indicator.Preference, fellBack bool) {
		svc.prom.BackendSelected.WithLabelValues(p.Type, kind.String()).Inc()
		if fellBack {
			svc.prom.BackendFallback.Inc()
		}
	}

	var err error
	if svc.engine, err = engine.New(cfg.Configs, svc.sel); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	svc.engine.OnOutOfOrder = func(model.Bar) { svc.prom.OutOfOrderBars.Inc() }
	svc.health.SetEngineOK(true)

	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "indengine-" + svc.runID[:8]
	}
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  consumer,
	})
	if err != nil {
		return nil, err
	}
	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)
	svc.outWriter = redisstore.NewBufferedWriter(svc.redisWriter, svc.newBreaker(), cfg.RedisBufferRows)
	svc.outWriter.OnBuffer = func(n int) { svc.prom.RedisBufferedWrites.Add(float64(n)) }
	svc.outWriter.OnDrop = func(n int) { svc.prom.RedisDroppedWrites.Add(float64(n)) }
	svc.outWriter.OnWrite = func(d time.Duration) { svc.prom.RedisWriteDur.Observe(d.Seconds()) }

	svc.openHistory()

	svc.fan.OnDrop = func(name string) { svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	svc.pipe.OnFull = func() { svc.prom.RingFullWaits.Inc() }
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	return svc, nil
}

func (svc *Service) newBreaker() *redisstore.CircuitBreaker {
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[indengine] redis circuit %s -> %s", from, to)
	}
	return cb
}

// openHistory opens the configured bar history and, when enabled, the
// SQLite output archive. Failures degrade the service instead of stopping
// it: the engine then starts cold.
func (svc *Service) openHistory() {
	cfg := svc.cfg
	switch cfg.HistorySource {
	case "sqlite":
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Printf("[indengine] WARNING: sqlite history unavailable: %v (starting cold)", err)
			break
		}
		svc.history, svc.historyDB = r, r.DB()
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		r, err := postgres.NewReader(ctx, postgres.Config{DSN: cfg.PostgresDSN, MaxOpenConns: 4, ConnMaxLifetime: 30 * time.Minute})
		if err != nil {
			log.Printf("[indengine] WARNING: postgres history unavailable: %v (starting cold)", err)
			break
		}
		svc.history, svc.historyDB = r, r.DB()
	case "none", "":
	default:
		log.Printf("[indengine] WARNING: unknown HISTORY_SOURCE %q, starting cold", cfg.HistorySource)
	}
	svc.health.SetHistoryOK(svc.history != nil)

	if cfg.ArchiveOutputs {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Printf("[indengine] WARNING: output archive disabled: %v", err)
			return
		}
		svc.archive = w
		svc.archiveCh = make(chan []model.Bar, 64)
		svc.pipe.OnBatch = svc.queueArchive
	}
}

// Run warms the engine up, starts every subsystem and blocks until ctx is
// cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Printf("[indengine] starting run=%s TFs=%v specs=%d", svc.runID, svc.cfg.TFs, len(svc.cfg.Configs[0].Indicators))

	svc.startSinks(ctx)
	svc.startHTTP()
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.historyDB, 15*time.Second)

	if err := svc.warmup(ctx); err != nil {
		return err
	}

	svc.streams = svc.buildStreams(ctx)
	log.Printf("[indengine] consuming from %d streams", len(svc.streams))

	go svc.pipe.feed(ctx, svc.barCh)
	go svc.pipe.compute(ctx, svc.engine, svc.outCh, svc.observe)

	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[indengine] WARNING: consumer group setup: %v", err)
		}
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[indengine] pending recovery error: %v", err)
		}
		go func() {
			if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil && ctx.Err() == nil {
				log.Printf("[indengine] consumer error: %v", err)
			}
		}()
		go svc.redisReader.StartPELReclaimer(ctx, svc.streams, svc.cfg.PELInterval, svc.cfg.PELMinIdle, svc.barCh, func(n int) {
			svc.prom.PELMessagesReclaimed.Add(float64(n))
		})
	} else {
		log.Println("[indengine] WARNING: no bar streams found; waiting for reloads only")
	}

	go svc.subscribeReloads(ctx)
	go svc.reportSaturation(ctx)

	log.Println("[indengine] all systems running")
	<-ctx.Done()
	svc.shutdown()
	return nil
}

// startSinks fans engine rows out to Redis, WebSocket clients and the
// optional SQLite archive.
func (svc *Service) startSinks(ctx context.Context) {
	toRedis := svc.fan.Subscribe("redis")
	toWS := svc.fan.Subscribe("ws")
	var toArchive <-chan model.Output
	if svc.archive != nil {
		toArchive = svc.fan.Subscribe("sqlite")
	}
	go svc.fan.Run(ctx, svc.outCh)
	go svc.outWriter.RunOutputs(ctx, toRedis)
	go svc.hub.Run(ctx, toWS)
	if toArchive != nil {
		go svc.archive.RunOutputs(ctx, toArchive)
		go svc.archiveBars(ctx, svc.archive)
	}
}

// queueArchive hands a copy of a drained batch to archiveBars, dropping it
// when the archive falls behind.
func (svc *Service) queueArchive(batch []model.Bar) {
	bars := append([]model.Bar(nil), batch...)
	select {
	case svc.archiveCh <- bars:
	default:
		log.Printf("[indengine] bar archive behind, %d bars not archived", len(bars))
	}
}

// archiveBars stores consumed bars so the SQLite history covers live
// sessions on the next warm-up.
func (svc *Service) archiveBars(ctx context.Context, w model.BarWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		case bars := <-svc.archiveCh:
			if err := w.InsertBars(ctx, bars); err != nil {
				log.Printf("[indengine] bar archive insert: %v", err)
			}
		}
	}
}

// warmup replays stored history through the engine and publishes the
// resulting rows.
func (svc *Service) warmup(ctx context.Context) error {
	if svc.history == nil {
		svc.health.SetWarmedUp(true)
		return nil
	}
	series, err := svc.history.ListSeries(ctx)
	if err != nil {
		log.Printf("[indengine] WARNING: list series: %v (starting cold)", err)
		svc.health.SetWarmedUp(true)
		return nil
	}
	series = svc.filterSeries(series)

	start := time.Now()
	n, err := svc.engine.Warmup(ctx, svc.history, series, svc.cfg.WarmupChunk, func(outs []model.Output) {
		svc.outWriter.WriteOutputBatch(ctx, outs)
	})
	svc.prom.WarmupBars.Add(float64(n))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[indengine] WARNING: warm-up stopped early: %v", err)
	}
	log.Printf("[indengine] warmed up %d series with %d bars in %s", len(series), n, time.Since(start).Round(time.Millisecond))
	svc.health.SetWarmedUp(true)
	return nil
}

// filterSeries keeps the series of enabled timeframes and, when configured,
// symbols.
func (svc *Service) filterSeries(all []model.SeriesKey) []model.SeriesKey {
	tfs := make(map[int]bool, len(svc.cfg.TFs))
	for _, tf := range svc.cfg.TFs {
		tfs[tf] = true
	}
	syms := make(map[string]bool, len(svc.cfg.Symbols))
	for _, s := range svc.cfg.Symbols {
		syms[s] = true
	}
	var out []model.SeriesKey
	for _, k := range all {
		if tfs[k.TF] && (len(syms) == 0 || syms[k.Symbol]) {
			out = append(out, k)
		}
	}
	return out
}

func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Symbols) > 0 {
		return redisstore.BarStreams(svc.cfg.TFs, svc.cfg.Symbols)
	}
	return svc.redisReader.DiscoverBarStreams(ctx, svc.cfg.TFs)
}

func (svc *Service) observe(st computeStats) {
	svc.prom.BarsTotal.Add(float64(st.Bars))
	svc.prom.ComputeDur.Observe(st.Elapsed.Seconds())
	svc.prom.OutputsTotal.WithLabelValues(indicator.SelfContained.String()).Add(float64(st.Self))
	svc.prom.OutputsTotal.WithLabelValues(indicator.External.String()).Add(float64(st.External))
	if st.Dropped > 0 {
		svc.prom.DroppedOutputs.Add(float64(st.Dropped))
	}
	svc.health.SetLastBarTime(time.Now())
}

func (svc *Service) reportSaturation(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range svc.fan.ChannelStats() {
				svc.prom.ChannelSaturationPct.WithLabelValues(st.Name).Set(st.Saturation())
			}
			svc.prom.ChannelSaturationPct.WithLabelValues("bars").Set(pct(len(svc.barCh), cap(svc.barCh)))
			svc.prom.ChannelSaturationPct.WithLabelValues("outputs").Set(pct(len(svc.outCh), cap(svc.outCh)))
		}
	}
}

func pct(n, c int) float64 {
	if c == 0 {
		return 0
	}
	return float64(n) / float64(c) * 100
}

func (svc *Service) shutdown() {
	log.Println("[indengine] shutting down...")
	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.server.Stop(shutCtx)

	if pending := svc.outWriter.PendingCount(); pending > 0 {
		log.Printf("[indengine] WARNING: %d buffered rows not written to Redis", pending)
	}
	if svc.history != nil {
		svc.history.Close()
	}
	if svc.archive != nil {
		svc.archive.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()
	log.Println("[indengine] shutdown complete")
}
