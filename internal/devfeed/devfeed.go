// Package devfeed mirrors every task_event/task_done onto a local loopback
// WebSocket so external developer tooling can watch pipeline progress
// without going through the Wails bridge. Grounded on
// hubenschmidt-asr-llm-tts's services/gateway/internal/ws/handler.go: the
// upgrader configuration and the mutex-guarded per-connection writer are
// carried over directly, restructured from a one-conn-per-call model into a
// fanout hub since devfeed has many passive subscribers instead of one
// active call session.
package devfeed

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"typevoice/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the wire shape of every frame the feed writes. kind is either
// "task_event" or "task_done", matching the command surface's own event
// names so a subscriber can dispatch on it without extra translation.
type envelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// conn is one subscriber's write side, serialized the way
// hubenschmidt-asr-llm-tts's newEventSender serializes writes to a single
// *websocket.Conn.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// Hub is a loopback-only WebSocket server that fans every TaskEvent/TaskDone
// it receives out to every currently-connected subscriber. It implements
// pipeline.EventSink so it can sit in a fanout alongside the Wails bridge's
// own sink.
type Hub struct {
	mu   sync.Mutex
	subs map[*conn]struct{}

	srv *http.Server
	ln  net.Listener
}

// NewHub constructs a Hub with no subscribers yet. Call ListenAndServe to
// start accepting connections.
func NewHub() *Hub {
	return &Hub{subs: make(map[*conn]struct{})}
}

// ListenAndServe binds a loopback TCP listener on addr (e.g. "127.0.0.1:0"
// to let the OS pick a free port) and serves WebSocket upgrades on "/" in
// the background. It returns the bound address so the caller can publish it
// to developer tooling. Call Close to stop serving.
func (h *Hub) ListenAndServe(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.serveWS)
	srv := &http.Server{Handler: mux}

	h.ln = ln
	h.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("devfeed serve", "error", err)
		}
	}()

	return ln.Addr().String(), nil
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("devfeed upgrade", "error", err)
		return
	}

	c := &conn{ws: ws}
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
		ws.Close()
	}()

	// Subscribers are read-only; drain frames until the connection drops so
	// a half-closed socket is noticed promptly instead of leaking.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(env envelope) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.subs))
	for c := range h.subs {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(env); err != nil {
			h.mu.Lock()
			delete(h.subs, c)
			h.mu.Unlock()
			c.ws.Close()
		}
	}
}

// TaskEvent implements pipeline.EventSink.
func (h *Hub) TaskEvent(ev domain.TaskEvent) {
	h.broadcast(envelope{Kind: "task_event", Data: ev})
}

// TaskDone implements pipeline.EventSink.
func (h *Hub) TaskDone(done domain.TaskDone) {
	h.broadcast(envelope{Kind: "task_done", Data: done})
}

// Close stops accepting new connections and drops every subscriber.
func (h *Hub) Close() error {
	if h.srv == nil {
		return nil
	}
	err := h.srv.Close()

	h.mu.Lock()
	for c := range h.subs {
		c.ws.Close()
		delete(h.subs, c)
	}
	h.mu.Unlock()

	return err
}
