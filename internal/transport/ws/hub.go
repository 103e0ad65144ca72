// Package ws relays bridge frames over WebSocket connections.
//
// The Hub is a relay: every text message received on one connection is
// written to every other connection, which turns a set of point-to-point
// sockets into one broadcast channel. Client is a transport.Transport over a
// single connection to a Hub.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dayuer/msgbridge-go/internal/logging"
)

const (
	defaultHeartbeat = 10 * time.Second
	readDeadline     = 60 * time.Second
	writeDeadline    = 10 * time.Second
)

// HubConfig configures a Hub.
type HubConfig struct {
	Token     string        // bearer token required from clients, empty disables auth
	Heartbeat time.Duration // ping interval (default 10s)
}

// conn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
}

func (c *conn) writeClose(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeDeadline))
}

// Hub relays frames between connected clients.
type Hub struct {
	token     string
	heartbeat time.Duration
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]bool

	relayed   atomic.Int64
	startTime time.Time

	mux *http.ServeMux
	srv *http.Server
}

// NewHub creates a relay hub. Routes: /ws for clients, /health for probes.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	h := &Hub{
		token:     cfg.Token,
		heartbeat: cfg.Heartbeat,
		log:       logging.Component("ws-hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:     make(map[*conn]bool),
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/ws", h.handleWS)
	return h
}

// ServeHTTP makes the hub usable as an http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// ListenAndServe serves the hub on addr and runs the heartbeat loop until
// ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	h.srv = &http.Server{
		Addr:              addr,
		Handler:           h.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.log.Info().Str("addr", addr).Msg("relay listening")

	go h.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		h.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(shutdownCtx)
	}()

	if err := h.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","connections":%d,"relayed":%d,"uptime":%d}`,
		h.ConnectionCount(), h.relayed.Load(), int(time.Since(h.startTime).Seconds()))
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("unauthorized client")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := &conn{Conn: raw}
	peer := r.RemoteAddr

	h.mu.Lock()
	h.conns[c] = true
	active := len(h.conns)
	h.mu.Unlock()
	h.log.Info().Str("remote", peer).Int("active", active).Msg("client connected")

	defer func() {
		h.remove(c)
		h.log.Info().Str("remote", peer).Msg("client disconnected")
	}()

	_ = raw.SetReadDeadline(time.Now().Add(readDeadline))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		kind, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("remote", peer).Msg("read failed")
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(readDeadline))
		if kind != websocket.TextMessage {
			continue
		}
		h.relay(c, message)
	}
}

// relay writes message to every connection except from.
func (h *Hub) relay(from *conn, message []byte) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	h.relayed.Add(1)
	var dead []*conn
	for _, c := range targets {
		if err := c.writeText(message); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.remove(c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func (h *Hub) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingAll()
		}
	}
}

// pingAll sends a ping frame to every connection and drops the dead ones.
func (h *Hub) pingAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writePing(); err != nil {
			h.remove(c)
		}
	}
}

// closeAll closes every connection (called on shutdown).
func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]bool)
	h.mu.Unlock()

	for c := range conns {
		_ = c.writeClose(websocket.CloseGoingAway, "relay shutdown")
		_ = c.Close()
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Relayed returns the number of frames relayed since start.
func (h *Hub) Relayed() int64 {
	return h.relayed.Load()
}
