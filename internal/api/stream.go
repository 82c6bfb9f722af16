package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"airmap/pkg/model"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler pushes a state summary to websocket clients after every
// commit. It is a map store sink. A slow client skips intermediate revisions
// and always receives the latest one.
type StreamHandler struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	latest  *StateResponse
	clients map[chan struct{}]struct{}
	closed  bool
	done    chan struct{}
}

func NewStreamHandler() *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{EnableCompression: false},
		logger:   slog.With("component", "stream"),
		clients:  make(map[chan struct{}]struct{}),
		done:     make(chan struct{}),
	}
}

// UpdateState records the newest state and wakes every client. It never blocks.
func (h *StreamHandler) UpdateState(state model.MapState) {
	resp := NewStateResponse(&state)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &resp
	for c := range h.clients {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *StreamHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Hijacked connections are not covered by
// http.Server.Shutdown.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Unable to upgrade stream websocket", "error", err)
		return
	}
	defer conn.Close()

	notify := make(chan struct{}, 1)
	notify <- struct{}{} // send the current state straight away
	if !h.register(notify) {
		return
	}
	defer h.unregister(notify)
	h.logger.Debug("Stream client connected", "remote", r.RemoteAddr)

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	var sent uint64
	haveSent := false
	for {
		select {
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			h.logger.Debug("Stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-notify:
			latest := h.current()
			if latest == nil || (haveSent && latest.Revision <= sent) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(latest); err != nil {
				h.logger.Debug("Stream write failed", "error", err)
				return
			}
			sent, haveSent = latest.Revision, true
		}
	}
}

func (h *StreamHandler) register(c chan struct{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *StreamHandler) unregister(c chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *StreamHandler) current() *StateResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}
