package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rubiojr/calchat/pkg/backend"
	"github.com/rubiojr/calchat/pkg/config"
	"github.com/rubiojr/calchat/pkg/credentials"
	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/pusher"
	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/rubiojr/calchat/pkg/storage"
)

// app holds the components shared by the commands. Close releases the
// store.
type app struct {
	cfg     *config.Config
	store   *storage.Store
	creds   credentials.Provider
	backend *backend.Client
}

// loadApp reads the config and opens the local store.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyDebugServices(cfg)

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	creds := newCredentials(cfg)
	opts := backend.Options{
		BaseURL:     cfg.APIBaseURL,
		Credentials: creds,
		Timeout:     cfg.Backend.Timeout.Duration,
		RateLimit:   cfg.Backend.RateLimit,
		Burst:       cfg.Backend.Burst,
	}
	if cfg.Backend.Cache {
		opts.Cache = store
	}

	return &app{cfg: cfg, store: store, creds: creds, backend: backend.New(opts)}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Printf("Warning: failed to close store: %v\n", err)
	}
}

// tokenFile is where `calchat init --token` stores the session token.
func tokenFile(cfg *config.Config) *credentials.File {
	return credentials.NewFile(filepath.Join(cfg.StorageDir, "token"))
}

// newCredentials prefers the environment over the token file.
func newCredentials(cfg *config.Config) credentials.Provider {
	return credentials.Chain{
		credentials.Env(config.EnvAuthToken),
		tokenFile(cfg),
	}
}

func applyDebugServices(cfg *config.Config) {
	log.SetDebugServices(cfg.DebugServices)
}

// pusherOptions maps the realtime config section to transport options.
func pusherOptions(cfg *config.Config, auth pusher.Authorizer) pusher.Options {
	r := cfg.Realtime
	return pusher.Options{
		Key:             r.Key,
		Cluster:         r.Cluster,
		Host:            r.Host,
		Authorizer:      auth,
		ActivityTimeout: r.ActivityTimeout.Duration,
		PongTimeout:     r.PongTimeout.Duration,
		InitialBackoff:  r.InitialBackoff.Duration,
		MaxBackoff:      r.MaxBackoff.Duration,
	}
}

func notificationSettings(cfg *config.Config) realtime.NotificationSettings {
	n := cfg.Notifications
	return realtime.NotificationSettings{
		Icon:     n.Icon,
		Badge:    n.Badge,
		Vibrate:  n.Vibrate,
		DeepLink: n.DeepLink,
		Texts:    notify.NewTexts(cfg.Locale),
	}
}

// surfaces builds the background and direct surfaces. Both record shown
// notifications in the store.
func (a *app) surfaces(hub *notify.Hub, terminal io.Writer) (background, direct notify.Surface) {
	if hub != nil {
		background = notify.Logged(hub, a.store)
	}
	if a.cfg.Notifications.Terminal && terminal != nil {
		direct = notify.Logged(notify.NewTerminal(terminal), a.store)
	}
	return background, direct
}

type coordinatorDeps struct {
	gate     *notify.Gate
	hub      *notify.Hub
	terminal io.Writer
	metrics  realtime.Metrics
	observer realtime.Observer
}

// newCoordinator wires the realtime coordinator to Pusher, the backend
// channel authorizer and the notification surfaces.
func (a *app) newCoordinator(d coordinatorDeps) *realtime.Coordinator {
	background, direct := a.surfaces(d.hub, d.terminal)
	dispatcher := realtime.NewDispatcher(realtime.DispatcherOptions{
		Permission: d.gate,
		Background: background,
		Direct:     direct,
		Settings:   notificationSettings(a.cfg),
	})
	auth := a.backend.ChannelAuthorizer(a.cfg.Realtime.AuthEndpoint)
	return realtime.New(realtime.Options{
		Transport:   realtime.PusherDialer{Options: pusherOptions(a.cfg, auth)},
		Credentials: a.creds,
		Dispatcher:  dispatcher,
		Metrics:     d.metrics,
		Observer:    d.observer,
	})
}
