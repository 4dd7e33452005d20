package watcher

import (
	"log/slog"
	"net/http"
	"sync"

	didtdw "github.com/did-method-tdw/go-didtdw"
	"github.com/gorilla/websocket"
)

// UpdateEvent is one newly committed log entry, broadcast to subscribers.
type UpdateEvent struct {
	DID   string          `json:"did"`
	Entry didtdw.LogEntry `json:"entry"`
}

const subscriberBuffer = 32

// Hub fans newly committed entries out to websocket subscribers. Slow
// subscribers are disconnected rather than allowed to stall the broadcast.
type Hub struct {
	mu   sync.Mutex
	subs map[chan UpdateEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan UpdateEvent]struct{})}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan UpdateEvent {
	ch := make(chan UpdateEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(ch chan UpdateEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every subscriber whose buffer has room.
func (h *Hub) Broadcast(ev UpdateEvent) {
	h.mu.Lock()
	var stalled []chan UpdateEvent
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			stalled = append(stalled, ch)
		}
	}
	for _, ch := range stalled {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the update stream is public, same as the rest of the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveUpdates upgrades the connection and streams update events until the
// client goes away or falls behind.
func (h *Hub) serveUpdates(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// discard client frames, but notice the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// dropped for falling behind
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
