// Package push links this device to the signed-in user for server-sent push
// notifications.
//
// The provider credentials never reach the client. Registration, logout and
// repair all go through the backend proxy endpoints under push/.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rubiojr/calchat/pkg/backend"
	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
)

// ErrNotReady is returned by provider calls made before Init.
var ErrNotReady = errors.New("push provider not initialized")

// Provider is a push notification provider as seen from the device.
type Provider interface {
	Init(ctx context.Context) error
	Login(ctx context.Context, externalID, identityToken string) error
	Logout(ctx context.Context) error
	Permission() notify.Permission
	RequestPermission(ctx context.Context) (notify.Permission, error)
	// SubscriptionID is empty until the provider registered the device.
	SubscriptionID() string
	// ExternalID is the user id the device is logged in as, or "".
	ExternalID() string
}

// Repairer is implemented by providers that can ask the server side to
// reattach a device stuck with an external id but no subscription.
type Repairer interface {
	Repair(ctx context.Context) error
}

// Backend is the push proxy surface of the REST backend.
type Backend interface {
	PushLogin(ctx context.Context, d backend.PushDevice) (*backend.PushRegistration, error)
	PushLogout(ctx context.Context, subscriptionID string) error
	PushRepair(ctx context.Context, d backend.PushDevice) (*backend.PushRegistration, error)
}

// StateStore persists small device values.
type StateStore interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
	DeleteState(key string) error
}

const (
	stateDeviceID       = "push.device_id"
	stateExternalID     = "push.external_id"
	stateSubscriptionID = "push.subscription_id"
)

// Platform is reported to the proxy with every registration.
const Platform = "calchat-go"

// ProxyProvider registers the device through the backend proxy. The device
// id is a uuid generated once and persisted in the state store.
type ProxyProvider struct {
	backend Backend
	state   StateStore
	gate    *notify.Gate
	// Ask is consulted by RequestPermission while the permission is
	// undecided. A nil Ask grants.
	Ask func(ctx context.Context) (bool, error)

	mu             sync.Mutex
	ready          bool
	deviceID       string
	externalID     string
	subscriptionID string
	log            *log.Logger
}

func NewProxyProvider(b Backend, state StateStore, gate *notify.Gate) *ProxyProvider {
	if gate == nil {
		gate = notify.NewGate(notify.PermissionDefault)
	}
	return &ProxyProvider{backend: b, state: state, gate: gate, log: log.ForService("push")}
}

// Init loads the persisted device state, creating the device id on first use.
func (p *ProxyProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	id, ok, err := p.state.GetState(stateDeviceID)
	if err != nil {
		return fmt.Errorf("loading device id: %w", err)
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := p.state.SetState(stateDeviceID, id); err != nil {
			return fmt.Errorf("saving device id: %w", err)
		}
		p.log.Infof("created device id %s", id)
	}
	p.deviceID = id

	if p.externalID, _, err = p.state.GetState(stateExternalID); err != nil {
		return fmt.Errorf("loading external id: %w", err)
	}
	if p.subscriptionID, _, err = p.state.GetState(stateSubscriptionID); err != nil {
		return fmt.Errorf("loading subscription id: %w", err)
	}
	p.ready = true
	return nil
}

func (p *ProxyProvider) Login(ctx context.Context, externalID, identityToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}

	reg, err := p.backend.PushLogin(ctx, backend.PushDevice{
		ExternalID:     externalID,
		SubscriptionID: p.deviceID,
		IdentityToken:  identityToken,
		Platform:       Platform,
	})
	if err != nil {
		return err
	}
	p.externalID = externalID
	if err := p.state.SetState(stateExternalID, externalID); err != nil {
		return fmt.Errorf("saving external id: %w", err)
	}
	return p.adoptLocked(reg)
}

func (p *ProxyProvider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}
	if p.externalID == "" && p.subscriptionID == "" {
		return nil
	}

	if err := p.backend.PushLogout(ctx, p.deviceID); err != nil {
		return err
	}
	p.externalID = ""
	p.subscriptionID = ""
	for _, k := range []string{stateExternalID, stateSubscriptionID} {
		if err := p.state.DeleteState(k); err != nil {
			return fmt.Errorf("clearing %s: %w", k, err)
		}
	}
	return nil
}

// Repair asks the proxy to reattach the device to its external id.
func (p *ProxyProvider) Repair(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}
	if p.externalID == "" {
		return errors.New("repair needs a logged in device")
	}
	reg, err := p.backend.PushRepair(ctx, backend.PushDevice{
		ExternalID:     p.externalID,
		SubscriptionID: p.deviceID,
		Platform:       Platform,
	})
	if err != nil {
		return err
	}
	return p.adoptLocked(reg)
}

func (p *ProxyProvider) adoptLocked(reg *backend.PushRegistration) error {
	if reg == nil {
		return nil
	}
	p.subscriptionID = reg.SubscriptionID
	if reg.SubscriptionID == "" {
		p.log.Warnf("proxy registered %s without a subscription", p.externalID)
		return p.state.DeleteState(stateSubscriptionID)
	}
	return p.state.SetState(stateSubscriptionID, reg.SubscriptionID)
}

func (p *ProxyProvider) Permission() notify.Permission { return p.gate.Permission() }

// RequestPermission asks once while undecided. A denial is final.
func (p *ProxyProvider) RequestPermission(ctx context.Context) (notify.Permission, error) {
	current := p.gate.Permission()
	if current != notify.PermissionDefault {
		return current, nil
	}
	granted := true
	if p.Ask != nil {
		var err error
		if granted, err = p.Ask(ctx); err != nil {
			return current, err
		}
	}
	if granted {
		p.gate.Set(notify.PermissionGranted)
	} else {
		p.gate.Set(notify.PermissionDenied)
	}
	return p.gate.Permission(), nil
}

func (p *ProxyProvider) SubscriptionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriptionID
}

func (p *ProxyProvider) ExternalID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.externalID
}

// DeviceID returns the persisted device id, "" before Init.
func (p *ProxyProvider) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceID
}
