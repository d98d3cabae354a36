package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rubiojr/calchat/pkg/notify"
)

// fakeTransport records every operation in order and delivers events
// synchronously.
type fakeTransport struct {
	mu           sync.Mutex
	ops          []string
	channels     map[string]*fakeChannel
	ready        chan struct{}
	readyErr     error
	disconnected int
}

func newFakeTransport(ready bool) *fakeTransport {
	t := &fakeTransport{channels: map[string]*fakeChannel{}, ready: make(chan struct{})}
	if ready {
		close(t.ready)
	}
	return t
}

func (t *fakeTransport) record(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *fakeTransport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTransport) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return t.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeTransport) Subscribe(name string) Channel {
	t.record("subscribe:" + name)
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := &fakeChannel{name: name, t: t, handlers: map[string][]func(json.RawMessage){}}
	t.channels[name] = ch
	return ch
}

func (t *fakeTransport) Unsubscribe(name string) {
	t.record("unsubscribe:" + name)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, name)
}

func (t *fakeTransport) Disconnect() {
	t.record("disconnect")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected++
	t.channels = map[string]*fakeChannel{}
}

func (t *fakeTransport) State() string {
	select {
	case <-t.ready:
		return StateConnected
	default:
		return StateConnecting
	}
}

func (t *fakeTransport) channel(name string) *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[name]
}

// emit delivers payload to the handlers currently bound on channel. It
// reports whether the channel is subscribed.
func (t *fakeTransport) emit(tb testing.TB, channel, event string, payload any) bool {
	tb.Helper()
	ch := t.channel(channel)
	if ch == nil {
		return false
	}
	for _, h := range ch.handlersFor(event) {
		h(mustJSON(tb, payload))
	}
	return true
}

type fakeChannel struct {
	name     string
	t        *fakeTransport
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Bind(event string, h func(json.RawMessage)) {
	c.t.record("bind:" + c.name + ":" + event)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeChannel) UnbindAll() {
	c.t.record("unbind:" + c.name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = map[string][]func(json.RawMessage){}
}

func (c *fakeChannel) handlersFor(event string) []func(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]func(json.RawMessage){}, c.handlers[event]...)
}

func mustJSON(tb testing.TB, v any) json.RawMessage {
	tb.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatal(err)
	}
	return b
}

type fakeSurface struct {
	name      string
	available bool
	err       error

	mu    sync.Mutex
	shown []notify.Notification
}

func (s *fakeSurface) Name() string    { return s.name }
func (s *fakeSurface) Available() bool { return s.available }

func (s *fakeSurface) Show(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.shown = append(s.shown, n)
	return nil
}

func (s *fakeSurface) Shown() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.shown...)
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *fakeMetrics) inc(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[k]++
}

func (m *fakeMetrics) get(k string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[k]
}

func (m *fakeMetrics) EventReceived(origin string, own bool) {
	m.inc(fmt.Sprintf("received:%s:%v", origin, own))
}
func (m *fakeMetrics) NotificationDispatched(outcome string) { m.inc("dispatch:" + outcome) }
func (m *fakeMetrics) EventRelayed()                         { m.inc("relayed") }
func (m *fakeMetrics) StaleEventDropped()                    { m.inc("stale") }
func (m *fakeMetrics) ConversationOpened()                   { m.inc("opened") }
func (m *fakeMetrics) ConversationClosed()                   { m.inc("closed") }
func (m *fakeMetrics) SessionActive(active bool)             { m.inc(fmt.Sprintf("session:%v", active)) }

type harness struct {
	c          *Coordinator
	transport  *fakeTransport
	dials      int
	background *fakeSurface
	direct     *fakeSurface
	gate       *notify.Gate
	metrics    *fakeMetrics
	observed   []ClassifiedEvent
	mu         sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport:  newFakeTransport(true),
		background: &fakeSurface{name: "background", available: true},
		direct:     &fakeSurface{name: "terminal", available: true},
		gate:       notify.NewGate(notify.PermissionGranted),
		metrics:    &fakeMetrics{},
	}
	dispatcher := NewDispatcher(DispatcherOptions{
		Permission: h.gate,
		Background: h.background,
		Direct:     h.direct,
		Settings: NotificationSettings{
			Icon:     "/icon-192.png",
			DeepLink: "/chat/{conversation}",
			Texts:    notify.NewTexts("nl"),
		},
	})
	h.c = New(Options{
		Transport: DialerFunc(func(context.Context) (Transport, error) {
			h.dials++
			return h.transport, nil
		}),
		Credentials: staticToken("token"),
		Dispatcher:  dispatcher,
		Metrics:     h.metrics,
		Observer: func(ev ClassifiedEvent, _ Outcome) {
			h.mu.Lock()
			h.observed = append(h.observed, ev)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.c.TeardownSession)
	return h
}

func (h *harness) init(t *testing.T, identity any) {
	t.Helper()
	if err := h.c.InitSession(context.Background(), identity); err != nil {
		t.Fatalf("InitSession: %v", err)
	}
}

func (h *harness) open(t *testing.T, convID any, cb Callback) uint64 {
	t.Helper()
	owner, err := h.c.OpenConversation(context.Background(), convID, cb)
	if err != nil {
		t.Fatalf("OpenConversation(%v): %v", convID, err)
	}
	return owner
}

func (h *harness) notifications() []notify.Notification {
	return append(h.background.Shown(), h.direct.Shown()...)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", errNoToken
	}
	return string(s), nil
}

var errNoToken = errors.New("token store unreadable")
