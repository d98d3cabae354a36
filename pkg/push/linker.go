package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
)

var (
	// ErrPermissionDenied means the user refused notifications. Linking
	// stops there.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrNoSubscription means the device never got a subscription, even
	// after the logout/login cycle and the proxy repair.
	ErrNoSubscription = errors.New("push subscription not available")
	// ErrIdentityToken means the backend issued a token for someone else
	// or an expired one.
	ErrIdentityToken = errors.New("invalid push identity token")
)

// TokenSource issues identity tokens proving the external id to the
// provider.
type TokenSource interface {
	PushIdentityToken(ctx context.Context) (string, error)
}

type LinkerOptions struct {
	Provider Provider
	Tokens   TokenSource
	// Attempts and Interval bound the wait for a subscription id.
	Attempts int
	Interval time.Duration
}

// Linker links the provider to the signed-in user. It logs in at most once
// per identity until Unlink.
type Linker struct {
	provider Provider
	tokens   TokenSource
	attempts int
	interval time.Duration
	log      *log.Logger

	mu     sync.Mutex
	linked string
}

func NewLinker(opts LinkerOptions) *Linker {
	if opts.Attempts <= 0 {
		opts.Attempts = 50
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	return &Linker{
		provider: opts.Provider,
		tokens:   opts.Tokens,
		attempts: opts.Attempts,
		interval: opts.Interval,
		log:      log.ForService("push").Named("link"),
	}
}

// Link makes identity the external id of this device and returns its
// subscription id.
func (l *Linker) Link(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", errors.New("link needs an identity")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.provider.Init(ctx); err != nil {
		return "", fmt.Errorf("initializing push provider: %w", err)
	}

	if l.linked == identity {
		if id := l.provider.SubscriptionID(); id != "" {
			l.log.Debugf("already linked to %s", identity)
			return id, nil
		}
	}

	perm, err := l.provider.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("requesting notification permission: %w", err)
	}
	if perm != notify.PermissionGranted {
		return "", ErrPermissionDenied
	}

	if l.linked != identity || l.provider.ExternalID() != identity {
		if err := l.login(ctx, identity); err != nil {
			return "", err
		}
		l.linked = identity
	}

	if id, err := l.waitSubscription(ctx); id != "" || err != nil {
		return id, err
	}

	// External id set without a subscription: cycle the login once.
	l.log.Warnf("device linked to %s without a subscription, logging in again", identity)
	if err := l.provider.Logout(ctx); err != nil {
		l.log.Warnf("logout before relink: %v", err)
	}
	if err := l.login(ctx, identity); err != nil {
		return "", err
	}
	if id, err := l.waitSubscription(ctx); id != "" || err != nil {
		return id, err
	}

	r, ok := l.provider.(Repairer)
	if !ok {
		return "", ErrNoSubscription
	}
	l.log.Warnf("asking the proxy to repair the subscription of %s", identity)
	if err := r.Repair(ctx); err != nil {
		return "", fmt.Errorf("repairing push subscription: %w", err)
	}
	if id := l.provider.SubscriptionID(); id != "" {
		return id, nil
	}
	return "", ErrNoSubscription
}

func (l *Linker) login(ctx context.Context, identity string) error {
	token, err := l.tokens.PushIdentityToken(ctx)
	if err != nil {
		return fmt.Errorf("fetching push identity token: %w", err)
	}
	if err := checkIdentityToken(token, identity, time.Now()); err != nil {
		return err
	}
	if err := l.provider.Login(ctx, identity, token); err != nil {
		return fmt.Errorf("push login as %s: %w", identity, err)
	}
	l.log.Infof("device logged in as %s", identity)
	return nil
}

// waitSubscription polls the subscription id at most attempts times. An
// empty id with a nil error means the attempts ran out.
func (l *Linker) waitSubscription(ctx context.Context) (string, error) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for i := 0; i < l.attempts; i++ {
		if id := l.provider.SubscriptionID(); id != "" {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return l.provider.SubscriptionID(), nil
}

// Unlink logs the device out and forgets the linked identity.
func (l *Linker) Unlink(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.provider.Init(ctx); err != nil {
		return fmt.Errorf("initializing push provider: %w", err)
	}
	l.linked = ""
	if err := l.provider.Logout(ctx); err != nil {
		return fmt.Errorf("push logout: %w", err)
	}
	l.log.Infof("device unlinked")
	return nil
}

type Status struct {
	Linked         string            `json:"linked,omitempty"`
	ExternalID     string            `json:"external_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Permission     notify.Permission `json:"permission"`
}

func (l *Linker) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Linked:         l.linked,
		ExternalID:     l.provider.ExternalID(),
		SubscriptionID: l.provider.SubscriptionID(),
		Permission:     l.provider.Permission(),
	}
}

// checkIdentityToken reads the claims without verifying the signature. The
// provider verifies it; the client only refuses tokens that cannot work.
func checkIdentityToken(token, identity string, now time.Time) error {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityToken, err)
	}
	if claims.Subject != "" && claims.Subject != identity {
		return fmt.Errorf("%w: issued for %s, linking %s", ErrIdentityToken, claims.Subject, identity)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expired at %s", ErrIdentityToken, claims.ExpiresAt.Time)
	}
	return nil
}
