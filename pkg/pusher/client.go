// Package pusher is a Pusher Channels protocol client over gorilla/websocket.
//
// A Client keeps one socket open, reconnecting with exponential backoff, and
// resubscribes every live channel after each reconnect. Private channels are
// signed by an Authorizer before the subscribe frame is sent. All handlers
// run on a single delivery goroutine in arrival order.
package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/version"
)

// ErrClosed is returned after Disconnect.
var ErrClosed = errors.New("pusher: client disconnected")

// Authorizer signs private channel subscriptions.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, socketID, channel string) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	return f(ctx, socketID, channel)
}

type State int

const (
	StateInitialized State = iota
	StateConnecting
	StateConnected
	StateUnavailable
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUnavailable:
		return "unavailable"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Key     string
	Cluster string
	// Host replaces ws-{cluster}.pusher.com. It may carry a ws:// or wss://
	// scheme.
	Host string

	Authorizer Authorizer

	// ActivityTimeout is the idle period after which a ping is sent. The
	// server's value wins when lower.
	ActivityTimeout time.Duration
	PongTimeout     time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration

	Dialer *websocket.Dialer
}

type Client struct {
	opts Options
	url  string
	log  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	conn          *connection
	channels      map[string]*Channel
	stateHandlers []func(State)
	started       bool
	err           error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once

	queue chan func()
}

// New validates opts and returns an unconnected client.
func New(opts Options) (*Client, error) {
	if opts.Key == "" {
		return nil, errors.New("pusher: app key is required")
	}
	if opts.Cluster == "" {
		opts.Cluster = "mt1"
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = 120 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 30 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 15 * time.Second,
		}
	}

	u, err := socketURL(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		url:      u,
		log:      log.ForService("pusher"),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*Channel),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		queue:    make(chan func(), 256),
	}, nil
}

func socketURL(opts Options) (string, error) {
	base := "wss://ws-" + opts.Cluster + ".pusher.com:443"
	if opts.Host != "" {
		base = opts.Host
		if !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://") {
			base = "wss://" + base
		}
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/app/" + url.PathEscape(opts.Key))
	if err != nil {
		return "", fmt.Errorf("pusher: invalid host %q: %w", opts.Host, err)
	}
	q := u.Query()
	q.Set("protocol", fmt.Sprint(ProtocolVersion))
	q.Set("client", "calchat-go")
	q.Set("version", version.Version)
	q.Set("flash", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// URL returns the socket URL.
func (c *Client) URL() string { return c.url }

// Connect starts the connection loop. It returns immediately; use Ready or
// WaitReady to wait for the handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return c.closedErr()
	}
	if c.started {
		return nil
	}
	c.started = true
	go c.deliver()
	go c.run()
	return nil
}

// Ready is closed once the first connection is established.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// WaitReady blocks until the first connection is established, the client is
// closed, or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}
	select {
	case <-c.ready:
		return nil
	case <-c.ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) closedErr() error {
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the id of the live connection, or "".
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.socketID
}

// Err returns the fatal error that stopped the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnStateChange registers h for connection state changes. h runs on the
// delivery goroutine.
func (c *Client) OnStateChange(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// Subscribe returns the channel called name, subscribing to it when new.
// The subscribe frame is sent now when connected, or after the next
// handshake otherwise.
func (c *Client) Subscribe(name string) *Channel {
	c.mu.Lock()
	if ch, ok := c.channels[name]; ok {
		c.mu.Unlock()
		return ch
	}
	ch := newChannel(name)
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		ch.markRemoved()
		return ch
	}
	c.channels[name] = ch
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		go c.subscribe(conn, ch)
	}
	return ch
}

// Unsubscribe drops the channel called name. Unknown names are ignored.
// Events already queued for the channel are discarded.
func (c *Client) Unsubscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[name]
	if !ok {
		return
	}
	delete(c.channels, name)
	ch.markRemoved()

	if c.conn != nil {
		if err := c.conn.send(EventUnsubscribe, "", subscribeData{Channel: name}); err != nil {
			c.log.Warnf("unsubscribe %s: %v", name, err)
		}
	}
}

// Channel returns the live channel called name, or nil.
func (c *Client) Channel(name string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

// Channels returns the names of live channels.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for n := range c.channels {
		names = append(names, n)
	}
	return names
}

// Disconnect closes the socket and stops reconnecting. It is safe to call
// more than once and from a handler.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		conn := c.conn
		for _, ch := range c.channels {
			ch.markRemoved()
		}
		c.channels = make(map[string]*Channel)
		if c.state != StateFailed {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		if conn != nil {
			conn.closeGracefully()
		}
		c.cancel()
		if started {
			<-c.done
		}
		c.log.Debugf("disconnected")
	})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	handlers := append([]func(State){}, c.stateHandlers...)
	c.mu.Unlock()

	c.log.Debugf("state %s -> %s", prev, s)
	for _, h := range handlers {
		h := h
		c.enqueue(func() { h(s) })
	}
}

func (c *Client) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Client) deliver() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.ctx.Done():
			return
		}
	}
}

// run dials, serves one connection until it drops, and backs off between
// attempts.
func (c *Client) run() {
	defer close(c.done)

	backoff := c.opts.InitialBackoff
	for {
		established, err := c.serve()
		if c.ctx.Err() != nil {
			return
		}
		if established {
			backoff = c.opts.InitialBackoff
		}

		delay := backoff
		var perr *ProtocolError
		if errors.As(err, &perr) {
			switch {
			case perr.Fatal():
				c.log.Errorf("connection refused by server, not reconnecting: %v", perr)
				c.mu.Lock()
				c.err = perr
				c.state = StateFailed
				c.mu.Unlock()
				c.cancel()
				return
			case perr.Immediate():
				delay = 0
			}
		}

		c.setState(StateUnavailable)
		c.log.Warnf("connection lost (%v), reconnecting in %s", err, delay)
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		if backoff < c.opts.MaxBackoff {
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}
	}
}

// serve runs one connection. established reports whether the handshake
// completed.
func (c *Client) serve() (established bool, err error) {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(c.ctx, 20*time.Second)
	ws, _, err := c.opts.Dialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	conn := newConnection(ws)
	defer conn.close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.ctx.Done():
			conn.close()
		case <-stop:
		}
	}()

	if err := ws.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return false, err
	}
	f, err := conn.read()
	if err != nil {
		return false, fmt.Errorf("reading handshake: %w", closeErr(err))
	}
	switch f.Event {
	case EventConnectionEstablished:
	case EventError:
		return false, decodeError(f)
	default:
		return false, fmt.Errorf("unexpected handshake event %q", f.Event)
	}
	var est connectionEstablished
	if err := json.Unmarshal(f.payload(), &est); err != nil || est.SocketID == "" {
		return false, fmt.Errorf("invalid %s payload %s", EventConnectionEstablished, f.Data)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return false, err
	}

	activity := c.opts.ActivityTimeout
	if server := time.Duration(est.ActivityTimeout) * time.Second; server > 0 && server < activity {
		activity = server
	}

	conn.socketID = est.SocketID
	c.mu.Lock()
	c.conn = conn
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		ch.setSubscribed(false)
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	c.log.Infof("connected, socket id %s", est.SocketID)
	c.setState(StateConnected)
	c.readyOnce.Do(func() { close(c.ready) })

	for _, ch := range channels {
		go c.subscribe(conn, ch)
	}
	go c.watchActivity(conn, activity, stop)

	err = c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for _, ch := range c.channels {
		ch.setSubscribed(false)
	}
	c.mu.Unlock()
	return true, err
}

func (c *Client) readLoop(conn *connection) error {
	for {
		f, err := conn.read()
		if err != nil {
			return closeErr(err)
		}
		conn.touch()

		switch f.Event {
		case EventPing:
			if err := conn.send(EventPong, "", struct{}{}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case EventPong:
		case EventError:
			perr := decodeError(f)
			if perr.connectionLevel() {
				return perr
			}
			c.log.Warnf("%v", perr)
		case eventInternalSubscriptionSucceeded:
			c.dispatch(f.Channel, EventSubscriptionSucceeded, f.payload())
		default:
			if f.Channel == "" {
				c.log.Debugf("ignoring connection event %s", f.Event)
				continue
			}
			c.dispatch(f.Channel, f.Event, f.payload())
		}
	}
}

func (c *Client) dispatch(channel, event string, data json.RawMessage) {
	c.mu.Lock()
	ch := c.channels[channel]
	c.mu.Unlock()
	if ch == nil {
		c.log.Debugf("dropping %s for unknown channel %s", event, channel)
		return
	}
	if event == EventSubscriptionSucceeded {
		ch.setSubscribed(true)
		c.log.Debugf("subscribed to %s", channel)
	}
	ev := Event{Name: event, Channel: channel, Data: data}
	c.enqueue(func() { ch.emit(ev) })
}

// subscribe authorizes ch when private and sends the subscribe frame if ch
// is still live on conn.
func (c *Client) subscribe(conn *connection, ch *Channel) {
	var auth string
	if IsPrivate(ch.name) {
		if c.opts.Authorizer == nil {
			c.subscriptionError(ch, errors.New("no authorizer configured for private channel"))
			return
		}
		actx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
		a, err := c.opts.Authorizer.Authorize(actx, conn.socketID, ch.name)
		cancel()
		if err != nil {
			if c.ctx.Err() == nil {
				c.subscriptionError(ch, err)
			}
			return
		}
		auth = a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.name] != ch || c.conn != conn {
		return
	}
	if err := conn.send(EventSubscribe, "", subscribeData{Channel: ch.name, Auth: auth}); err != nil {
		c.log.Warnf("subscribe %s: %v", ch.name, err)
	}
}

func (c *Client) subscriptionError(ch *Channel, err error) {
	c.log.Warnf("subscription to %s failed: %v", ch.name, err)
	data, _ := json.Marshal(map[string]string{"type": "AuthError", "error": err.Error()})
	ev := Event{Name: EventSubscriptionError, Channel: ch.name, Data: data}
	c.enqueue(func() { ch.emit(ev) })
}

// watchActivity pings after activity of silence and drops the socket when
// no frame follows within the pong timeout.
func (c *Client) watchActivity(conn *connection, activity time.Duration, stop <-chan struct{}) {
	tick := activity
	if c.opts.PongTimeout < tick {
		tick = c.opts.PongTimeout
	}
	tick /= 4
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if sent := conn.pingSentAt(); !sent.IsZero() {
			if time.Since(sent) > c.opts.PongTimeout {
				c.log.Warnf("no pong within %s, dropping connection", c.opts.PongTimeout)
				conn.close()
				return
			}
			continue
		}
		if time.Since(conn.lastActivity()) >= activity {
			conn.markPing()
			if err := conn.send(EventPing, "", struct{}{}); err != nil {
				c.log.Warnf("sending ping: %v", err)
				conn.close()
				return
			}
		}
	}
}

// closeErr turns 4000-4299 close frames into protocol errors.
func closeErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code >= 4000 && ce.Code <= 4299 {
		return &ProtocolError{Code: ce.Code, Message: ce.Text}
	}
	return err
}

type connection struct {
	ws       *websocket.Conn
	socketID string

	writeMu   sync.Mutex
	closeOnce sync.Once

	activity atomic.Int64
	ping     atomic.Int64
}

func newConnection(ws *websocket.Conn) *connection {
	c := &connection{ws: ws}
	c.touch()
	return c
}

func (c *connection) read() (frame, error) {
	var f frame
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decoding frame: %w", err)
	}
	return f, nil
}

func (c *connection) send(event, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteJSON(frame{Event: event, Channel: channel, Data: raw})
}

func (c *connection) touch() {
	c.activity.Store(time.Now().UnixNano())
	c.ping.Store(0)
}

func (c *connection) lastActivity() time.Time {
	return time.Unix(0, c.activity.Load())
}

func (c *connection) markPing() {
	c.ping.Store(time.Now().UnixNano())
}

func (c *connection) pingSentAt() time.Time {
	v := c.ping.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (c *connection) closeGracefully() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.close()
}

func (c *connection) close() {
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}
