// Package gateway pushes indicator rows to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trading-indicators/internal/model"

	"github.com/gorilla/websocket"
)

type latestEntry struct {
	out  model.Output
	env  []byte
	seq  int64
	recv time.Time
}

// Hub tracks WebSocket clients and broadcasts every row to the clients
// subscribed to its series. Each channel ("pub:ind:{key}:{TF}s:{symbol}")
// carries its own sequence number so clients can detect and backfill gaps.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	latest      map[string]latestEntry
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
	seq         int64

	Latency  *LatencyTracker
	upgrader websocket.Upgrader
	now      func() time.Time

	// OnClientCount is called with the new count on connect and disconnect.
	OnClientCount func(n int)
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Run broadcasts rows from in until ctx is cancelled or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.Output) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(o)
		}
	}
}

// Broadcast sends one row to every matching client. Slow clients miss the
// message and can backfill it from the replay buffer.
func (h *Hub) Broadcast(o model.Output) {
	now := h.now().UTC()
	if o.TF > 0 {
		closedAt := time.Unix(o.TS+int64(o.TF), 0)
		h.Latency.Observe(now.Sub(closedAt))
	}
	channel := o.PubSubChannel()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	env := buildEnvelope(channel, o.JSON(), now, seq, channelSeq)
	h.latest[channel] = latestEntry{out: o, env: env, seq: channelSeq, recv: now}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(500)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(channelSeq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matches(&o) {
			c.trySend(env)
		}
	}
}

// buildEnvelope hand-crafts
// {"channel":..,"data":..,"ts":..,"seq":N,"channel_seq":M}.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	name, _ := json.Marshal(channel)
	buf := make([]byte, 0, len(name)+len(data)+128)
	buf = append(buf, `{"channel":`...)
	buf = append(buf, name...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
	log.Printf("[gateway] ws client connected (%d total)", n)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
	log.Printf("[gateway] ws client disconnected (%d total)", n)
}

// latestFor returns the latest envelopes matching sub, marked initial.
func (h *Hub) latestFor(sub *subscription) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out [][]byte
	for channel, e := range h.latest {
		if !sub.matches(&e.out) {
			continue
		}
		env, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        json.RawMessage(e.out.JSON()),
			"ts":          e.recv.Format(time.RFC3339Nano),
			"channel_seq": e.seq,
			"initial":     true,
		})
		out = append(out, env)
	}
	return out
}

// ReplayRange returns buffered envelopes of a channel in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the current sequence number of a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
