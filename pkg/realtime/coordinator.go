// Package realtime coordinates the chat realtime session of one signed-in
// user.
//
// The Coordinator owns one transport connection with the persistent
// user-{id} channel, which feeds the notification dispatcher, and at most one
// private-conversation-{id} channel, which feeds the callback of the open
// conversation view. The two paths stay separate: notifications only come
// from the user channel, UI refreshes only from the conversation channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rubiojr/calchat/pkg/credentials"
	"github.com/rubiojr/calchat/pkg/log"
)

// Callback receives events of the open conversation sent by other users.
// It runs on the transport's delivery goroutine and must not call
// OpenConversation or CloseConversation synchronously.
type Callback func(InboundEvent)

// Observer sees every classified event with its dispatch outcome.
type Observer func(ev ClassifiedEvent, outcome Outcome)

// Metrics receives coordinator counters.
type Metrics interface {
	EventReceived(origin string, own bool)
	NotificationDispatched(outcome string)
	EventRelayed()
	StaleEventDropped()
	ConversationOpened()
	ConversationClosed()
	SessionActive(active bool)
}

type Options struct {
	Transport   Dialer
	Credentials credentials.Provider
	Dispatcher  *Dispatcher
	Metrics     Metrics
	Observer    Observer
	// DispatchTimeout bounds a single notification dispatch.
	DispatchTimeout time.Duration
}

type Coordinator struct {
	opts Options
	log  *log.Logger

	// deliverMu serializes conversation event delivery with callback
	// swaps. Lock order: deliverMu, then mu.
	deliverMu sync.Mutex

	mu   sync.Mutex
	sess *session
	// established is closed once a session exists and replaced on
	// teardown.
	established chan struct{}
	conv    *conversation
	convGen uint64
	sessGen uint64
	owners  uint64
}

type session struct {
	identity    Identity
	transport   Transport
	userChannel Channel
	gen         uint64
	started     time.Time
}

type conversation struct {
	id       Identity
	channel  Channel
	gen      uint64
	callback Callback
	// owner changes on every successful OpenConversation, including
	// callback replacements.
	owner uint64
}

func New(opts Options) *Coordinator {
	if opts.Credentials == nil {
		opts.Credentials = credentials.Static("")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(DispatcherOptions{})
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	return &Coordinator{
		opts:        opts,
		log:         log.ForService("realtime"),
		established: make(chan struct{}),
	}
}

// InitSession connects the transport for identity and subscribes the user
// channel. Calling it again for the same identity is a no-op; for another
// identity it fails with ErrIdentityMismatch. It does not wait for the
// handshake, see WaitReady.
func (c *Coordinator) InitSession(ctx context.Context, identity any) error {
	id := IdentityOf(identity)
	if id.IsZero() {
		return fmt.Errorf("invalid identity %v", identity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.sess; s != nil {
		if s.identity == id {
			c.log.Debugf("session for %s already live", id)
			return nil
		}
		return fmt.Errorf("%w: live session is %s, requested %s", ErrIdentityMismatch, s.identity, id)
	}

	if _, err := c.opts.Credentials.Token(); err != nil {
		if errors.Is(err, credentials.ErrNoCredential) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	t, err := c.opts.Transport.Dial(ctx)
	if err != nil {
		c.log.Errorf("transport unavailable: %v", err)
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	c.sessGen++
	s := &session{identity: id, transport: t, gen: c.sessGen, started: time.Now()}
	gen := s.gen
	s.userChannel = t.Subscribe(UserChannel(id))
	s.userChannel.Bind(EventUserMessage, func(data json.RawMessage) {
		c.handleUserEvent(gen, data)
	})
	c.sess = s
	close(c.established)

	c.opts.Metrics.SessionActive(true)
	c.log.Infof("session started for user %s", id)
	return nil
}

// WaitReady blocks until a session exists and its transport completed the
// handshake.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	s, err := c.awaitSession(ctx)
	if err != nil {
		return err
	}
	if err = s.transport.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	return nil
}

// awaitSession returns the live session, waiting for InitSession when there
// is none yet.
func (c *Coordinator) awaitSession(ctx context.Context) (*session, error) {
	for {
		c.mu.Lock()
		s, established := c.sess, c.established
		c.mu.Unlock()
		if s != nil {
			return s, nil
		}
		select {
		case <-established:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// OpenConversation makes convID the open conversation with cb as its
// callback. Issued before InitSession it waits for the session, then for the
// transport handshake. Reopening the open conversation only replaces the
// callback. Opening another one unbinds and unsubscribes the previous
// channel before subscribing the new one.
//
// The returned owner token identifies this call for CloseConversationIf.
func (c *Coordinator) OpenConversation(ctx context.Context, convID any, cb Callback) (uint64, error) {
	id := IdentityOf(convID)
	if id.IsZero() {
		return 0, fmt.Errorf("invalid conversation id %v", convID)
	}

	s, err := c.awaitSession(ctx)
	if err != nil {
		return 0, err
	}
	if err = s.transport.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != s {
		return 0, ErrNoSession
	}
	c.owners++
	if c.conv != nil && c.conv.id == id {
		c.conv.callback = cb
		c.conv.owner = c.owners
		c.log.Debugf("conversation %s callback replaced", id)
		return c.owners, nil
	}

	c.closeConversationLocked()

	c.convGen++
	gen := c.convGen
	ch := s.transport.Subscribe(ConversationChannel(id))
	ch.Bind(EventConversationMessage, func(data json.RawMessage) {
		c.handleConversationEvent(gen, data)
	})
	c.conv = &conversation{id: id, channel: ch, gen: gen, callback: cb, owner: c.owners}

	c.opts.Metrics.ConversationOpened()
	c.log.Debugf("conversation %s open (generation %d)", id, gen)
	return c.owners, nil
}

// CloseConversation unsubscribes the open conversation and drops its
// callback. It is a no-op when nothing is open.
func (c *Coordinator) CloseConversation() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeConversationLocked()
}

// CloseConversationIf closes the open conversation only while owner, a
// token from OpenConversation, still owns it. Views use it so they never
// close a conversation another view opened since.
func (c *Coordinator) CloseConversationIf(owner uint64) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil || c.conv.owner != owner {
		return false
	}
	c.closeConversationLocked()
	return true
}

func (c *Coordinator) closeConversationLocked() {
	conv := c.conv
	if conv == nil {
		return
	}
	conv.channel.UnbindAll()
	if c.sess != nil {
		c.sess.transport.Unsubscribe(conv.channel.Name())
	}
	c.conv = nil
	c.convGen++
	c.opts.Metrics.ConversationClosed()
	c.log.Debugf("conversation %s closed", conv.id)
}

// TeardownSession releases the conversation channel, the user channel and
// the transport. It is a no-op without a session.
func (c *Coordinator) TeardownSession() {
	c.deliverMu.Lock()
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		c.deliverMu.Unlock()
		return
	}
	c.closeConversationLocked()
	s.userChannel.UnbindAll()
	s.transport.Unsubscribe(s.userChannel.Name())
	c.sess = nil
	c.established = make(chan struct{})
	c.sessGen++
	c.mu.Unlock()
	c.deliverMu.Unlock()

	s.transport.Disconnect()
	c.opts.Metrics.SessionActive(false)
	c.log.Infof("session for user %s torn down", s.identity)
}

// Identity returns the identity of the live session, or "".
func (c *Coordinator) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.identity
}

// Dispatcher returns the notification dispatcher.
func (c *Coordinator) Dispatcher() *Dispatcher { return c.opts.Dispatcher }

type Status struct {
	Active              bool      `json:"active"`
	Identity            string    `json:"identity,omitempty"`
	Transport           string    `json:"transport,omitempty"`
	UserChannel         string    `json:"user_channel,omitempty"`
	Conversation        string    `json:"conversation,omitempty"`
	ConversationChannel string    `json:"conversation_channel,omitempty"`
	Generation          uint64    `json:"generation"`
	Since               time.Time `json:"since,omitempty"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Generation: c.convGen}
	if c.sess == nil {
		return st
	}
	st.Active = true
	st.Identity = c.sess.identity.String()
	st.Transport = c.sess.transport.State()
	st.UserChannel = c.sess.userChannel.Name()
	st.Since = c.sess.started
	if c.conv != nil {
		st.Conversation = c.conv.id.String()
		st.ConversationChannel = c.conv.channel.Name()
		st.Generation = c.conv.gen
	}
	return st
}

func (c *Coordinator) handleUserEvent(gen uint64, data json.RawMessage) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || s.gen != gen {
		c.opts.Metrics.StaleEventDropped()
		return
	}

	ev, err := DecodeEvent(data, time.Now())
	if err != nil {
		c.log.Warnf("dropping user channel event: %v", err)
		return
	}
	cev := Classify(ev, s.identity, OriginUser)
	c.opts.Metrics.EventReceived(string(cev.Origin), cev.IsOwn)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DispatchTimeout)
	outcome := c.opts.Dispatcher.Dispatch(ctx, cev)
	cancel()
	c.opts.Metrics.NotificationDispatched(string(outcome))

	if c.opts.Observer != nil {
		c.opts.Observer(cev, outcome)
	}
}

func (c *Coordinator) handleConversationEvent(gen uint64, data json.RawMessage) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	conv, s := c.conv, c.sess
	c.mu.Unlock()
	if conv == nil || s == nil || conv.gen != gen {
		c.opts.Metrics.StaleEventDropped()
		c.log.Debugf("dropping event for stale conversation generation %d", gen)
		return
	}

	ev, err := DecodeEvent(data, time.Now())
	if err != nil {
		c.log.Warnf("dropping conversation event: %v", err)
		return
	}
	cev := Classify(ev, s.identity, OriginConversation)
	c.opts.Metrics.EventReceived(string(cev.Origin), cev.IsOwn)

	// Never shown for this origin.
	outcome := c.opts.Dispatcher.Dispatch(context.Background(), cev)
	c.opts.Metrics.NotificationDispatched(string(outcome))

	if c.relay(conv, cev) {
		c.opts.Metrics.EventRelayed()
	}
	if c.opts.Observer != nil {
		c.opts.Observer(cev, outcome)
	}
}

// relay hands ev to the conversation callback unless it is the user's own
// message. The caller holds deliverMu.
func (c *Coordinator) relay(conv *conversation, ev ClassifiedEvent) bool {
	if ev.IsOwn || conv.callback == nil {
		return false
	}
	conv.callback(ev.Event)
	return true
}

type nopMetrics struct{}

func (nopMetrics) EventReceived(string, bool)    {}
func (nopMetrics) NotificationDispatched(string) {}
func (nopMetrics) EventRelayed()                 {}
func (nopMetrics) StaleEventDropped()            {}
func (nopMetrics) ConversationOpened()           {}
func (nopMetrics) ConversationClosed()           {}
func (nopMetrics) SessionActive(bool)            {}
