package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A dispatcher handler that forwards outbound events to a broadcaster loop
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//     type is the event wire name ("volume", "led_colors", ...).
//   - The initial message on connect is "state_init" with HALState in data.
//
// ============================================================================

const wsTypeStateInit = "state_init"

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // optional timestamp; zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)", "clients", h.ClientCount())
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsVolumeCoalesceWindow is the maximum time window during which bursty volume
// updates (held volume buttons) are coalesced (latest-wins) before broadcasting.
const wsVolumeCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// ============================================================================
// HTTP Handler
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// snapshot provides the state_init payload.
	snapshot func() HALState
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a
// router, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, snapshot func() HALState, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		snapshot: snapshot,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the router.
func (s *Server) Register(router *httprouter.Router, path string) {
	if router == nil {
		return
	}
	router.HandlerFunc(http.MethodGet, path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// Clients are local UIs served from other origins on the device.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Do not tie the pumps to the HTTP request context: net/http cancels it
	// when the handler returns. The hub owns the connection lifetime.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.snapshot == nil {
		return
	}

	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{
		Type: wsTypeStateInit,
		Ts:   &now,
		Data: s.snapshot(),
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}

	// Enqueue init message; if client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// stateBroadcaster is a dispatcher handler that forwards outbound events to
// RunBroadcaster. It never blocks the dispatcher.
type stateBroadcaster struct {
	logger *slog.Logger
	out    chan Event
}

func newStateBroadcaster(buf int, logger *slog.Logger) *stateBroadcaster {
	if buf <= 0 {
		buf = 128
	}
	return &stateBroadcaster{logger: logger, out: make(chan Event, buf)}
}

func (b *stateBroadcaster) HandleEvent(ev Event) []Event {
	if _, ok := convertEvent(ev); !ok {
		return nil
	}
	select {
	case b.out <- ev:
	default:
		b.logger.Warn("ws broadcaster queue full, dropping event", "event", ev)
	}
	return nil
}

// Events is the source channel for RunBroadcaster.
func (b *stateBroadcaster) Events() <-chan Event { return b.out }

// RunBroadcaster reads outbound events, marshals them, and broadcasts them to
// all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan Event, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit bursty volume updates: flush latest pending volume at most once every
	// wsVolumeCoalesceWindow, even if updates keep arriving (no debounce-on-silence).
	var pendingVol *wsOutboundEvent
	var volTimer *time.Timer
	var volTimerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		msg, err := json.Marshal(envelope{
			Type: ev.Type,
			Ts:   &ts,
			Data: ev.Data,
		})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingVol := func() {
		if pendingVol == nil {
			return
		}
		emit(*pendingVol)
		pendingVol = nil
	}

	stopVolTimer := func() {
		if volTimer == nil {
			volTimerCh = nil
			return
		}
		if !volTimer.Stop() {
			select {
			case <-volTimer.C:
			default:
			}
		}
		volTimerCh = nil
		volTimer = nil
	}

	startVolTimerIfNeeded := func() {
		if volTimer != nil {
			return
		}
		volTimer = time.NewTimer(wsVolumeCoalesceWindow)
		volTimerCh = volTimer.C
	}

	resetVolTimer := func() {
		if volTimer == nil {
			return
		}
		if !volTimer.Stop() {
			select {
			case <-volTimer.C:
			default:
			}
		}
		volTimer.Reset(wsVolumeCoalesceWindow)
		volTimerCh = volTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingVol()
			stopVolTimer()
			return

		case <-volTimerCh:
			flushPendingVol()
			// Keep ticking only if more volume updates are pending; otherwise stop.
			if pendingVol == nil {
				stopVolTimer()
			} else {
				resetVolTimer()
			}

		case e, ok := <-src:
			if !ok {
				flushPendingVol()
				stopVolTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertEvent(e)
			if !ok {
				continue
			}

			// Latest-wins for volume; do NOT reset the timer on each update.
			if ev.Type == typeVolume {
				copyEv := ev
				pendingVol = &copyEv
				startVolTimerIfNeeded()
				continue
			}

			// Non-volume event: flush pending volume first, then emit this event immediately.
			flushPendingVol()
			stopVolTimer()
			emit(ev)
		}
	}
}

// convertEvent maps the outbound events UIs care about to WS messages.
func convertEvent(e Event) (wsOutboundEvent, bool) {
	switch e.(type) {
	case Volume, LedColors, ButtonStateChanged, ButtonStates:
		name, err := eventTypeName(e)
		if err != nil {
			return wsOutboundEvent{}, false
		}
		return wsOutboundEvent{Type: name, Data: e}, true
	default:
		return wsOutboundEvent{}, false
	}
}
