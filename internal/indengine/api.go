package indengine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"trading-indicators/internal/engine"
	"trading-indicators/internal/metrics"
	"trading-indicators/internal/model"
)

// startHTTP serves /metrics, /healthz, /reload, /stats, /snapshot and /ws.
func (svc *Service) startHTTP() {
	svc.server = metrics.NewServer(svc.cfg.HTTPAddr, svc.health, nil)
	svc.mount(svc.server)
	svc.server.Start()
}

func (svc *Service) mount(srv *metrics.Server) {
	srv.Handle("/reload", http.HandlerFunc(svc.handleReload))
	srv.Handle("/stats", http.HandlerFunc(svc.handleStats))
	srv.Handle("/snapshot", http.HandlerFunc(svc.handleSnapshot))
	srv.Handle("/ws", svc.hub)
}

// handleReload handles POST /reload. The body is a JSON array of
// per-timeframe configs or an INDICATOR_CONFIGS-style string.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	configs, err := parseReload(string(body), svc.cfg.TFs)
	if err != nil {
		svc.prom.Reloads.WithLabelValues("http", "rejected").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created, err := svc.reload(r.Context(), configs, "http")
	if err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// reload validates and applies configs; new instances are backfilled from
// the bar history when one is configured.
func (svc *Service) reload(ctx context.Context, configs []engine.TFConfig, source string) (preserved, created int, err error) {
	preserved, created, err = svc.engine.Reload(ctx, configs, svc.history, svc.cfg.WarmupChunk)
	if err != nil {
		svc.prom.Reloads.WithLabelValues(source, "rejected").Inc()
		log.Printf("[indengine] %s reload rejected: %v", source, err)
		return 0, 0, err
	}
	svc.prom.Reloads.WithLabelValues(source, "applied").Inc()
	log.Printf("[indengine] %s reload: preserved=%d created=%d", source, preserved, created)
	return preserved, created, nil
}

type statsResponse struct {
	engine.Stats
	Fallbacks       int64          `json:"backend_fallbacks"`
	RedisPending    int            `json:"redis_pending_rows"`
	RedisDropped    int            `json:"redis_dropped_rows"`
	RedisCircuit    string         `json:"redis_circuit"`
	WSClients       int            `json:"ws_clients"`
	Streams         int            `json:"streams"`
	Timeframes      []int          `json:"timeframes"`
	IndicatorsPerTF map[string]int `json:"indicators_per_tf"`
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:           svc.engine.Stats(),
		Fallbacks:       svc.sel.Fallbacks(),
		RedisPending:    svc.outWriter.PendingCount(),
		RedisDropped:    svc.outWriter.Dropped(),
		RedisCircuit:    svc.outWriter.State().String(),
		WSClients:       svc.hub.ClientCount(),
		Streams:         len(svc.streams),
		IndicatorsPerTF: make(map[string]int),
	}
	for _, c := range svc.engine.Configs() {
		resp.Timeframes = append(resp.Timeframes, c.TF)
		resp.IndicatorsPerTF[strconv.Itoa(c.TF)] = len(c.Indicators)
	}
	writeJSON(w, resp)
}

// handleSnapshot handles GET /snapshot?symbol=SBIN&tf=60: the latest ready
// row of every indicator of the series. With decimal=1 the values are exact
// decimal strings.
func (svc *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	tf, err := strconv.Atoi(r.URL.Query().Get("tf"))
	if symbol == "" || err != nil || tf <= 0 {
		http.Error(w, "symbol and tf are required", http.StatusBadRequest)
		return
	}
	key := model.SeriesKey{Symbol: symbol, TF: tf}
	if svc.engine.LastTS(key) == 0 {
		http.Error(w, "unknown series", http.StatusNotFound)
		return
	}
	if exact, _ := strconv.ParseBool(r.URL.Query().Get("decimal")); exact {
		outs, err := svc.engine.SnapshotDecimal(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if outs == nil {
			outs = []model.DecimalOutput{}
		}
		writeJSON(w, outs)
		return
	}
	outs := svc.engine.Snapshot(key)
	if outs == nil {
		outs = []model.Output{}
	}
	writeJSON(w, outs)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// subscribeReloads applies indicator set updates published on Redis.
func (svc *Service) subscribeReloads(ctx context.Context) {
	pubsub := svc.redisReader.SubscribeChannel(ctx, reloadChannel)
	if pubsub == nil {
		log.Printf("[indengine] WARNING: could not subscribe to %s", reloadChannel)
		return
	}
	defer pubsub.Close()
	log.Printf("[indengine] subscribed to %s for dynamic reload", reloadChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			configs, err := parseReload(msg.Payload, svc.cfg.TFs)
			if err != nil {
				svc.prom.Reloads.WithLabelValues("pubsub", "rejected").Inc()
				log.Printf("[indengine] ignoring config update: %v", err)
				continue
			}
			svc.reload(ctx, configs, "pubsub")
		}
	}
}
