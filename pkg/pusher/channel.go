package pusher

import (
	"sync"
)

// Handler receives channel events on the client's delivery goroutine.
type Handler func(Event)

// Channel is a subscription. Handlers bound to it run one at a time, in the
// order frames arrived.
type Channel struct {
	name string

	mu         sync.Mutex
	handlers   map[string][]Handler
	subscribed bool
	removed    bool
}

func newChannel(name string) *Channel {
	return &Channel{name: name, handlers: make(map[string][]Handler)}
}

func (ch *Channel) Name() string { return ch.name }

// Bind adds h for event.
func (ch *Channel) Bind(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], h)
}

// Unbind removes every handler for event.
func (ch *Channel) Unbind(event string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.handlers, event)
}

// UnbindAll removes every handler.
func (ch *Channel) UnbindAll() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = make(map[string][]Handler)
}

// Subscribed reports whether the server confirmed the subscription on the
// current connection.
func (ch *Channel) Subscribed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.subscribed
}

// HandlerCount returns the number of bound handlers.
func (ch *Channel) HandlerCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	n := 0
	for _, hs := range ch.handlers {
		n += len(hs)
	}
	return n
}

func (ch *Channel) setSubscribed(v bool) {
	ch.mu.Lock()
	ch.subscribed = v
	ch.mu.Unlock()
}

func (ch *Channel) markRemoved() {
	ch.mu.Lock()
	ch.removed = true
	ch.subscribed = false
	ch.mu.Unlock()
}

// emit runs the handlers bound when the event is delivered. Events for a
// channel that was unsubscribed in the meantime are dropped.
func (ch *Channel) emit(ev Event) {
	ch.mu.Lock()
	if ch.removed {
		ch.mu.Unlock()
		return
	}
	hs := append([]Handler(nil), ch.handlers[ev.Name]...)
	ch.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}
