package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the indicator engine.
type Metrics struct {
	BarsTotal       prometheus.Counter
	OutOfOrderBars  prometheus.Counter
	OutputsTotal    *prometheus.CounterVec // labels: backend
	ComputeDur      prometheus.Histogram
	WarmupBars      prometheus.Counter
	BackendSelected *prometheus.CounterVec // labels: type, backend
	BackendFallback prometheus.Counter
	Reloads         *prometheus.CounterVec // labels: source, result

	// Backpressure
	DroppedOutputs       prometheus.Counter     // engine output channel full
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	RingFullWaits        prometheus.Counter

	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker around Redis output writes
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisDroppedWrites       prometheus.Counter
	RedisWriteDur            prometheus.Histogram

	WSClients prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg. A nil reg
// registers on the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fast := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_bars_total",
			Help: "Closed bars processed by the engine",
		}),
		OutOfOrderBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_out_of_order_bars_total",
			Help: "Bars skipped because they were not newer than the series' last bar",
		}),
		OutputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_outputs_total",
			Help: "Ready indicator rows emitted (by backend)",
		}, []string{"backend"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_compute_duration_seconds",
			Help:    "Engine compute latency per bar",
			Buckets: fast,
		}),
		WarmupBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_warmup_bars_total",
			Help: "Historical bars replayed during warm-up and reload backfill",
		}),
		BackendSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_backend_selected_total",
			Help: "Indicator instances built (by type and backend)",
		}, []string{"type", "backend"}),
		BackendFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_backend_fallback_total",
			Help: "Automatic selections that fell back to the self-contained backend",
		}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_reloads_total",
			Help: "Indicator set reloads (by source and result)",
		}, []string{"source", "result"}),

		DroppedOutputs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_dropped_outputs_total",
			Help: "Rows dropped because the engine output channel was full",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_fanout_drops_total",
			Help: "Rows dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		RingFullWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_ring_full_waits_total",
			Help: "Times the stream consumer waited on a full bar ring",
		}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_buffered_rows_total",
			Help: "Rows buffered locally while Redis writes failed",
		}),
		RedisDroppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_dropped_rows_total",
			Help: "Buffered rows evicted because the local buffer was full",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_redis_write_duration_seconds",
			Help:    "Redis output batch write latency",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.OutOfOrderBars,
		m.OutputsTotal,
		m.ComputeDur,
		m.WarmupBars,
		m.BackendSelected,
		m.BackendFallback,
		m.Reloads,
		m.DroppedOutputs,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RingFullWaits,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisDroppedWrites,
		m.RedisWriteDur,
		m.WSClients,
	)

	return m
}

// HealthStatus is the service health reported on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	HistoryOK      bool      `json:"history_ok"`
	EngineOK       bool      `json:"engine_ok"`
	WarmedUp       bool      `json:"warmed_up"`
	LastBarTime    time.Time `json:"last_bar_time"`
	EnabledTFs     []int     `json:"enabled_tfs"`

	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	HistoryLatencyMs float64   `json:"history_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetHistoryOK(v bool) {
	h.mu.Lock()
	h.HistoryOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.EngineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWarmedUp(v bool) {
	h.mu.Lock()
	h.WarmedUp = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckHistory pings the bar history database.
func (h *HealthStatus) CheckHistory(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.HistoryOK = err == nil
	h.HistoryLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if db != nil {
					h.CheckHistory(checkCtx, db)
				}
				cancel()
			}
		}
	}()
}

// status derives the overall status: the engine and Redis are required,
// history only degrades.
func (h *HealthStatus) status() (string, int) {
	switch {
	case !h.EngineOK || !h.RedisConnected:
		return "unhealthy", http.StatusServiceUnavailable
	case !h.HistoryOK || !h.WarmedUp:
		return "degraded", http.StatusOK
	default:
		return "healthy", http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall, code := h.status()

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	body := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		HistoryOK        bool    `json:"history_ok"`
		HistoryLatencyMs float64 `json:"history_latency_ms"`
		EngineOK         bool    `json:"engine_ok"`
		WarmedUp         bool    `json:"warmed_up"`
		LastBarAge       string  `json:"last_bar_age"`
		EnabledTFs       []int   `json:"enabled_tfs"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overall,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		HistoryOK:        h.HistoryOK,
		HistoryLatencyMs: h.HistoryLatencyMs,
		EngineOK:         h.EngineOK,
		WarmedUp:         h.WarmedUp,
		LastBarAge:       barAge,
		EnabledTFs:       h.EnabledTFs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz plus any
// handlers mounted with Handle before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Handle mounts an extra handler on the server's mux.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
