package gateway

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"trading-indicators/internal/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// subscription selects rows of one series, optionally only some indicator
// keys.
type subscription struct {
	Symbol string
	TF     int
	Keys   map[string]bool // empty: every indicator of the series
}

func (s *subscription) id() string { return s.Symbol + ":" + strconv.Itoa(s.TF) }

func (s *subscription) matches(o *model.Output) bool {
	if o.Symbol != s.Symbol || o.TF != s.TF {
		return false
	}
	return len(s.Keys) == 0 || s.Keys[o.Key]
}

// clientMsg is any message a client sends.
type clientMsg struct {
	Type       string   `json:"type"` // SUBSCRIBE, UNSUBSCRIBE, MISSED
	ReqID      string   `json:"req_id,omitempty"`
	Symbol     string   `json:"symbol,omitempty"`
	TF         int      `json:"tf,omitempty"`
	Indicators []string `json:"indicators,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	From       int64    `json:"from,omitempty"`
	To         int64    `json:"to,omitempty"`
	Ping       int64    `json:"ping,omitempty"`
}

// Client is one WebSocket peer. A client without subscriptions receives
// every row.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu sync.RWMutex
	subs  map[string]*subscription
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]*subscription),
	}
}

func (c *Client) matches(o *model.Output) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	for _, s := range c.subs {
		if s.matches(o) {
			return true
		}
	}
	return false
}

// trySend queues msg, dropping it when the client is behind. Callers hold
// the hub read lock or run on the client's read goroutine, so send is
// never closed underneath them.
func (c *Client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(b)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "invalid message: "+err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg clientMsg) {
	switch msg.Type {
	case "SUBSCRIBE":
		if msg.Symbol == "" || msg.TF <= 0 {
			c.sendError(msg.ReqID, "symbol and tf are required")
			return
		}
		sub := &subscription{Symbol: msg.Symbol, TF: msg.TF, Keys: make(map[string]bool, len(msg.Indicators))}
		for _, k := range msg.Indicators {
			sub.Keys[k] = true
		}
		c.subMu.Lock()
		c.subs[sub.id()] = sub
		c.subMu.Unlock()

		initial := c.hub.latestFor(sub)
		for _, env := range initial {
			c.trySend(env)
		}
		c.sendJSON(map[string]interface{}{"type": "subscribed", "req_id": msg.ReqID, "initial_rows": len(initial)})

	case "UNSUBSCRIBE":
		sub := subscription{Symbol: msg.Symbol, TF: msg.TF}
		c.subMu.Lock()
		delete(c.subs, sub.id())
		c.subMu.Unlock()
		c.sendJSON(map[string]interface{}{"type": "unsubscribed", "req_id": msg.ReqID})

	case "MISSED":
		for _, env := range c.hub.ReplayRange(msg.Channel, msg.From, msg.To) {
			c.trySend(env)
		}

	default:
		if msg.Ping > 0 {
			c.sendJSON(map[string]interface{}{"type": "pong", "ping": msg.Ping, "server_ts": time.Now().UnixMilli()})
			return
		}
		c.sendError(msg.ReqID, "unknown message type "+strconv.Quote(msg.Type))
	}
}

func (c *Client) sendError(reqID, text string) {
	c.sendJSON(map[string]interface{}{"type": "error", "req_id": reqID, "error": text})
}
