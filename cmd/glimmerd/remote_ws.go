package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Companion WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected companion clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that fans reducer-emitted broadcasts out to clients
//
// Design constraints (project architecture):
//   - EngineState remains engine-owned; never expose *EngineState to other
//     goroutines.
//   - Initial frame snapshot on connect must go through the engine loop.
//   - Inbound control messages go through RemoteChannel.HandleInbound so
//     dedupe and validation happen in one place.
//   - Slow clients must be disconnected if they can't keep up.
//
// Notes:
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with the last frame.
//   - Frame broadcasts are coalesced latest-wins; at tick rate the raw
//     stream would swamp a phone on a lossy link.
//
// ============================================================================

// wsFrameData is the JSON `data` payload for "frame" and "state_init".
type wsFrameData struct {
	Intensity  float64 `json:"intensity"`
	Color      string  `json:"color"`
	AudioPower float64 `json:"audio_power"`
	Brightness float64 `json:"brightness"`
	Night      bool    `json:"night"`
	Density    int     `json:"density"`
}

// wsControlData is the JSON `data` payload for "control_changed".
type wsControlData struct {
	Playing    bool    `json:"playing"`
	Scene      string  `json:"scene"`
	Volume     float64 `json:"volume"`
	Brightness float64 `json:"brightness"`
	Night      bool    `json:"night"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// wsEnvelope is the wire format envelope for WS messages.
type wsEnvelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

func frameData(f ParameterFrame) wsFrameData {
	return wsFrameData{
		Intensity:  f.Intensity,
		Color:      f.Color.Hex(),
		AudioPower: f.AudioPower,
		Brightness: f.Brightness,
		Night:      f.Night,
		Density:    f.ParticleDensityHint,
	}
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

	// onLink fires on every 0 <-> >0 client-count transition.
	onLink func(connected bool)

	// onInbound receives raw inbound text frames from client readPumps.
	onInbound func(payload []byte)

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

// SetLinkFunc installs the client-count transition callback. Set before Run.
func (h *Hub) SetLinkFunc(fn func(connected bool)) { h.onLink = fn }

// SetInboundFunc installs the inbound payload callback. Set before Run.
func (h *Hub) SetInboundFunc(fn func(payload []byte)) { h.onInbound = fn }

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)
			if n == 1 && h.onLink != nil {
				h.onLink(true)
			}

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Avoid mutating the clients map while ranging over it.
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

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if h.onLink != nil {
		h.onLink(false)
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
		// Guard against double-close by recovering (best-effort).
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
		if n == 0 && h.onLink != nil {
			h.onLink(false)
		}
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

// ClientCount reports the number of connected companion clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// DirectSend delivers a control message to the connected companion(s). It is
// the RemoteTransport used by RemoteChannel.
func (h *Hub) DirectSend(payload []byte) error {
	if h.ClientCount() == 0 {
		return fmt.Errorf("no companion connected")
	}
	now := time.Now().UTC()
	var raw json.RawMessage = payload
	msg, err := json.Marshal(wsEnvelope{Type: "control", Ts: &now, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal control envelope: %w", err)
	}
	h.BroadcastBytes(msg)
	return nil
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

// wsFrameCoalesceWindow is the maximum time window during which bursty frame
// broadcasts are coalesced (latest-wins) before fanning out to clients.
const wsFrameCoalesceWindow = 50 * time.Millisecond

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
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (write error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (ping error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}
		}
	}
}

// readPump reads inbound control messages and hands them to the hub's inbound
// callback. It exits on read error, then unregisters the client.
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
			// Continue to read.
		}

		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close is expected on client disconnect.
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Info("ws readPump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
				} else {
					c.logger.Info("ws readPump exiting (read error)", "remote_addr", c.remoteAddr, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}

		if c.hub != nil && c.hub.onInbound != nil && len(payload) > 0 {
			c.hub.onInbound(payload)
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial frame snapshot on connect (through the engine
	// loop).
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the companion WS server components. Call Register on a
// mux, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	hub := NewHub(logger, cfg.Hub)
	return &Server{
		logger: logger,
		hub:    hub,
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleRemoteWS)
}

var upgrader = websocket.Upgrader{
	// NOTE: If you need stricter origin checks, implement them at integration time.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleRemoteWS upgrades and registers a client, then sends state_init.
func (s *Server) handleRemoteWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Start pumps.
	//
	// IMPORTANT:
	// Do not tie the pumps to the HTTP request context (r.Context()).
	// net/http cancels the request context when the handler returns, which would
	// prematurely stop the pumps and cause abnormal WS closures (e.g. code 1006).
	// The connection lifetime is instead managed by the hub (close/unregister)
	// and by the websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	// Request the last frame for the initial state_init message (through the
	// engine loop). Use the HTTP request context here so it cancels if the
	// client disconnects during the snapshot round-trip.
	if s.events != nil {
		reply := make(chan ParameterFrame, 1)

		select {
		case <-r.Context().Done():
			return
		case s.events <- RequestFrameSnapshot{Reply: reply}:
		}

		waitCtx := r.Context()
		if _, has := r.Context().Deadline(); !has {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
		}

		select {
		case <-waitCtx.Done():
			if !errors.Is(waitCtx.Err(), context.Canceled) {
				s.logger.Warn("ws snapshot request failed", "error", waitCtx.Err())
			}
			return

		case frame := <-reply:
			now := time.Now().UTC()
			initMsg, mErr := json.Marshal(wsEnvelope{
				Type: "state_init",
				Ts:   &now,
				Data: frameData(frame),
			})
			if mErr == nil {
				// Enqueue init message; if client is already slow, disconnect.
				select {
				case client.send <- initMsg:
				default:
					s.hub.unregister <- client
					return
				}
			}
		}
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them,
// and broadcasts them to all hub clients. Intended to run as a single
// goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit the per-tick frame stream: flush the latest pending frame at
	// most once every wsFrameCoalesceWindow, even if frames keep arriving (no
	// debounce-on-silence).
	var pendingFrame *wsOutboundEvent
	var frameTimer *time.Timer
	var frameTimerCh <-chan time.Time

	flushPendingFrame := func() {
		if pendingFrame == nil {
			return
		}

		ts := pendingFrame.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		msg, err := json.Marshal(wsEnvelope{
			Type: pendingFrame.Type,
			Ts:   &ts,
			Data: pendingFrame.Data,
		})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", pendingFrame.Type)
			// Drop the pending item so we don't retry-marshal forever.
			pendingFrame = nil
			return
		}

		hub.BroadcastBytes(msg)
		pendingFrame = nil
	}

	stopFrameTimer := func() {
		if frameTimer == nil {
			frameTimerCh = nil
			return
		}
		if !frameTimer.Stop() {
			// Drain if needed.
			select {
			case <-frameTimer.C:
			default:
			}
		}
		frameTimerCh = nil
		frameTimer = nil
	}

	startFrameTimerIfNeeded := func() {
		if frameTimer != nil {
			return
		}
		frameTimer = time.NewTimer(wsFrameCoalesceWindow)
		frameTimerCh = frameTimer.C
	}

	resetFrameTimer := func() {
		if frameTimer == nil {
			return
		}
		if !frameTimer.Stop() {
			select {
			case <-frameTimer.C:
			default:
			}
		}
		frameTimer.Reset(wsFrameCoalesceWindow)
		frameTimerCh = frameTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush the pending frame before exit.
			flushPendingFrame()
			stopFrameTimer()
			return

		case <-frameTimerCh:
			// Timer tick: flush the latest pending frame if present.
			flushPendingFrame()
			// Keep ticking only if more frames are pending; otherwise stop.
			if pendingFrame == nil {
				stopFrameTimer()
			} else {
				resetFrameTimer()
			}

		case b, ok := <-src:
			if !ok {
				flushPendingFrame()
				stopFrameTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				// Unknown broadcasts are dropped.
				continue
			}

			// Rate-limit only frames; do NOT reset the timer on each update.
			// Latest-wins: replace the pending event and ensure the periodic
			// timer is running.
			if ev.Type == "frame" {
				copyEv := ev
				pendingFrame = &copyEv
				startFrameTimerIfNeeded()
				continue
			}

			// Non-frame event: flush the pending frame first, then emit this
			// event immediately.
			flushPendingFrame()
			stopFrameTimer()

			ts := ev.At
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			msg, err := json.Marshal(wsEnvelope{
				Type: ev.Type,
				Ts:   &ts,
				Data: ev.Data,
			})
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
				continue
			}

			hub.BroadcastBytes(msg)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastFrame:
		return wsOutboundEvent{
			Type: "frame",
			Data: frameData(ev.Frame),
			At:   ev.Frame.At,
		}, true

	case BroadcastControlChanged:
		return wsOutboundEvent{
			Type: "control_changed",
			Data: wsControlData{
				Playing:    ev.Playing,
				Scene:      ev.Scene,
				Volume:     ev.Volume,
				Brightness: ev.Brightness,
				Night:      ev.Night,
			},
			At: ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
