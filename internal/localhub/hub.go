// Package localhub is the local observer surface: a demoted WebSocket
// broadcast hub (no database, no auth, no HTML) that fans telemetry,
// health, event, and ack frames out to any process on the same host that
// wants to watch this agent live, plus the HTTP endpoint the orchestrator
// binds as its single-instance probe.
package localhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	broadcastQueueSize = 256
	panicRecoveryDelay = 100 * time.Millisecond
)

// client is a single connected local observer (a CLI, a tray app, a
// browser tab pointed at 127.0.0.1).
type client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *client) safeSend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// Hub broadcasts wire frames to every connected local observer. It
// implements orchestrator.LocalObserver.
type Hub struct {
	log zerolog.Logger

	clients map[*client]bool
	mu      sync.RWMutex

	register   chan *client
	unregister chan *client
	broadcasts chan []byte

	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a Hub. Call Run to start its broadcast loop and Router to
// obtain the handler to serve.
func New(log zerolog.Logger) *Hub {
	h := &Hub{
		log:        log.With().Str("component", "localhub").Logger(),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcasts: make(chan []byte, broadcastQueueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.router = h.newRouter()
	return h
}

func (h *Hub) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.handleHealthz)
	r.Get("/ws", h.handleWebSocket)
	return r
}

// Router returns the HTTP handler to serve; also usable as the probe
// endpoint an orchestrator binds before accepting work.
func (h *Hub) Router() http.Handler { return h.router }

// Serve runs an HTTP server over an already-bound listener until the
// listener is closed. The bind itself (done by the caller before Serve)
// is the single-instance guard: a second instance fails to acquire the
// same address and never reaches Serve.
func (h *Hub) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: h.router}
	return srv.Serve(ln)
}

func (h *Hub) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Run starts the registration loop and the broadcast loop. Both recover
// from panics and restart rather than taking the process down, matching
// the teacher's dashboard hub.
func (h *Hub) Run(ctx context.Context) {
	go h.broadcastLoop(ctx)

	for {
		if err := h.runLoop(ctx); err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				h.log.Info().Msg("localhub shutting down gracefully")
				return
			}
			h.log.Error().Err(err).Msg("localhub loop crashed, restarting")
			time.Sleep(panicRecoveryDelay)
		}
	}
}

func (h *Hub) runLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("localhub panic: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
			}
			h.mu.Unlock()
			c.close()
		}
	}
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).
				Msg("broadcast loop crashed, restarting")
			if ctx.Err() == nil {
				go h.broadcastLoop(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.broadcasts:
			h.deliver(data)
		}
	}
}

func (h *Hub) deliver(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.safeSend(data)
	}
}

func (h *Hub) queue(frameType string, payload any) {
	data, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{frameType, payload})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal local broadcast frame")
		return
	}

	select {
	case h.broadcasts <- data:
	default:
		h.log.Warn().Msg("local broadcast queue full, dropping frame")
	}
}

// BroadcastAck, BroadcastEvent, BroadcastTelemetry, and BroadcastHealth
// implement orchestrator.LocalObserver.
func (h *Hub) BroadcastAck(clientID string, ack protocol.AckEnvelope) {
	h.queue("ack", struct {
		ClientID string `json:"clientId"`
		protocol.AckEnvelope
	}{clientID, ack})
}

func (h *Hub) BroadcastEvent(event protocol.EventRecord) { h.queue("event", event) }

func (h *Hub) BroadcastTelemetry(record protocol.TelemetryRecord) { h.queue("telemetry", record) }

func (h *Hub) BroadcastHealth(payload protocol.HealthPayload) { h.queue("health", payload) }
