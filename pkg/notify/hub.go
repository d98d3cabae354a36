package notify

import (
	"context"
	"errors"
	"sync"
)

// Hub is the background-capable surface: an in-memory fan-out to registered
// listeners, typically UI shells connected over a WebSocket. Each listener
// has its own buffer; a full buffer drops the notification for that listener
// only.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Notification
	nextID    uint64
	bufSize   int
}

// NewHub returns a hub with the given per-listener buffer, 32 when <= 0.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan Notification),
		bufSize:   bufSize,
	}
}

// Register adds a listener. Callers must Unregister the id when done.
func (h *Hub) Register() (uint64, <-chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Notification, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes and closes a listener. Unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) Name() string { return "background" }

// Available reports whether at least one listener is registered.
func (h *Hub) Available() bool { return h.Size() > 0 }

// Show delivers n to every listener. It fails when there are no listeners
// or every listener was too slow to accept it.
func (h *Hub) Show(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.listeners) == 0 {
		return ErrUnavailable
	}
	delivered := 0
	for _, ch := range h.listeners {
		select {
		case ch <- n:
			delivered++
		default:
		}
	}
	if delivered == 0 {
		return errors.New("every background listener is busy")
	}
	return nil
}
