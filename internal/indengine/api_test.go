package indengine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-indicators/config"
	"trading-indicators/internal/backend"
	"trading-indicators/internal/engine"
	"trading-indicators/internal/gateway"
	"trading-indicators/internal/indicator"
	"trading-indicators/internal/metrics"
	"trading-indicators/internal/model"
	redisstore "trading-indicators/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestService builds a Service without Redis or history.
func newTestService(t *testing.T) *Service {
	t.Helper()
	sel := backend.NewSelector(nil, backend.DefaultPolicy(), backend.Capabilities{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	configs := BuildTFConfigs([]int{60}, []indicator.Params{{Type: "SMA", Periods: []int{2}}})
	eng, err := engine.New(configs, sel)
	if err != nil {
		t.Fatal(err)
	}
	write := func(context.Context, []model.Output) error { return nil }
	return &Service{
		cfg:       Config{Config: &config.Config{WarmupChunk: 100}, TFs: []int{60}, Configs: configs},
		sel:       sel,
		engine:    eng,
		outWriter: redisstore.NewBufferedWriterFunc(write, redisstore.NewCircuitBreaker(3, time.Second), 10),
		hub:       gateway.NewHub(),
		prom:      metrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func feed(svc *Service, n int) {
	for i := 1; i <= n; i++ {
		c := float64(i)
		svc.engine.Process(model.Bar{Symbol: "SBIN", TF: 60, TS: int64(i * 60), Open: c, High: c, Low: c, Close: c})
	}
}

func TestHandleSnapshot(t *testing.T) {
	svc := newTestService(t)
	feed(svc, 3)

	rec := httptest.NewRecorder()
	svc.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot?symbol=SBIN&tf=60", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var outs []model.Output
	if err := json.NewDecoder(rec.Body).Decode(&outs); err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Key != "SMA(2)" || outs[0].TS != 180 {
		t.Errorf("snapshot %+v", outs)
	}

	rec = httptest.NewRecorder()
	svc.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot?symbol=SBIN&tf=60&decimal=1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"values":["2.5"]`) {
		t.Errorf("decimal snapshot %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	svc.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot?symbol=INFY&tf=60", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown series status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot?symbol=SBIN", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing tf status %d", rec.Code)
	}
}

func TestHandleReload(t *testing.T) {
	svc := newTestService(t)
	feed(svc, 3)

	rec := httptest.NewRecorder()
	svc.handleReload(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader("SMA:2,EMA:3")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Preserved int `json:"preserved"`
		Created   int `json:"created"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Preserved != 1 || resp.Created != 1 {
		t.Errorf("preserved %d created %d", resp.Preserved, resp.Created)
	}
	if n := len(svc.engine.Configs()[0].Indicators); n != 2 {
		t.Errorf("%d indicators after reload", n)
	}

	rec = httptest.NewRecorder()
	svc.handleReload(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader("SMA:0")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid reload status %d", rec.Code)
	}
	if n := len(svc.engine.Configs()[0].Indicators); n != 2 {
		t.Errorf("rejected reload changed config: %d indicators", n)
	}

	// the test selector has the external engine disabled
	rec = httptest.NewRecorder()
	svc.handleReload(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader("EMA:5;backend=external")))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "backend unavailable") {
		t.Errorf("unbuildable external reload: %d %s", rec.Code, rec.Body)
	}
	if n := len(svc.engine.Configs()[0].Indicators); n != 2 {
		t.Errorf("unbuildable reload changed config: %d indicators", n)
	}

	rec = httptest.NewRecorder()
	svc.handleReload(rec, httptest.NewRequest(http.MethodGet, "/reload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	svc := newTestService(t)
	feed(svc, 4)

	rec := httptest.NewRecorder()
	svc.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var resp statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Bars != 4 || resp.Series != 1 || resp.RedisCircuit != "closed" {
		t.Errorf("stats %+v", resp)
	}
	if resp.IndicatorsPerTF["60"] != 1 {
		t.Errorf("indicators per tf %v", resp.IndicatorsPerTF)
	}
}

func TestFilterSeries(t *testing.T) {
	svc := &Service{cfg: Config{TFs: []int{60}, Symbols: []string{"SBIN"}}}
	got := svc.filterSeries([]model.SeriesKey{
		{Symbol: "SBIN", TF: 60}, {Symbol: "SBIN", TF: 300}, {Symbol: "INFY", TF: 60},
	})
	if len(got) != 1 || got[0] != (model.SeriesKey{Symbol: "SBIN", TF: 60}) {
		t.Errorf("filtered %v", got)
	}
}
