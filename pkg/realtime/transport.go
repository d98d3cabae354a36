package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/pusher"
)

// Transport is one connection to the realtime service.
type Transport interface {
	// WaitReady blocks until the handshake completed, the transport is
	// closed, or ctx is done.
	WaitReady(ctx context.Context) error
	Subscribe(name string) Channel
	// Unsubscribe of an unknown channel is a no-op.
	Unsubscribe(name string)
	// Disconnect is idempotent.
	Disconnect()
	// State is one of StateDisconnected, StateConnecting, StateConnected
	// or StateErrored.
	State() string
}

// Transport states reported in Status.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateErrored      = "errored"
)

// Channel is a subscription on a Transport.
type Channel interface {
	Name() string
	Bind(event string, h func(data json.RawMessage))
	UnbindAll()
}

// Dialer creates transports.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// PusherDialer dials Pusher Channels. Options.Authorizer signs the private
// conversation channels.
type PusherDialer struct {
	Options pusher.Options
}

func (d PusherDialer) Dial(_ context.Context) (Transport, error) {
	c, err := pusher.New(d.Options)
	if err != nil {
		return nil, err
	}
	l := log.ForService("realtime").Named("transport")
	c.OnStateChange(func(s pusher.State) {
		switch s {
		case pusher.StateConnected:
			l.Infof("connected")
		case pusher.StateUnavailable, pusher.StateFailed:
			l.Warnf("connection %s", s)
		default:
			l.Debugf("connection %s", s)
		}
	})
	if err := c.Connect(); err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return &pusherTransport{c: c, log: l}, nil
}

type pusherTransport struct {
	c   *pusher.Client
	log *log.Logger
}

func (t *pusherTransport) WaitReady(ctx context.Context) error { return t.c.WaitReady(ctx) }

func (t *pusherTransport) Subscribe(name string) Channel {
	ch := t.c.Subscribe(name)
	l := t.log.Named(name)
	ch.Bind(pusher.EventSubscriptionSucceeded, func(pusher.Event) {
		l.Debugf("subscription succeeded")
	})
	ch.Bind(pusher.EventSubscriptionError, func(ev pusher.Event) {
		l.Warnf("subscription error: %s", ev.Data)
	})
	return pusherChannel{ch: ch}
}

func (t *pusherTransport) Unsubscribe(name string) { t.c.Unsubscribe(name) }

func (t *pusherTransport) Disconnect() { t.c.Disconnect() }

func (t *pusherTransport) State() string { return transportState(t.c.State()) }

// transportState folds the Pusher connection states into the transport
// states. An unavailable connection is still retrying.
func transportState(s pusher.State) string {
	switch s {
	case pusher.StateConnected:
		return StateConnected
	case pusher.StateInitialized, pusher.StateConnecting, pusher.StateUnavailable:
		return StateConnecting
	case pusher.StateFailed:
		return StateErrored
	}
	return StateDisconnected
}

type pusherChannel struct {
	ch *pusher.Channel
}

func (p pusherChannel) Name() string { return p.ch.Name() }

func (p pusherChannel) Bind(event string, h func(json.RawMessage)) {
	p.ch.Bind(event, func(ev pusher.Event) { h(ev.Data) })
}

func (p pusherChannel) UnbindAll() { p.ch.UnbindAll() }
