package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rubiojr/calchat/pkg/api"
	"github.com/rubiojr/calchat/pkg/config"
	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/metrics"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/push"
	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/urfave/cli/v3"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the realtime session daemon and its local API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "user",
				Usage: "Start a session for this user id right away",
			},
			&cli.BoolFlag{
				Name:  "link-push",
				Usage: "Link this device for push notifications once the session is up",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Override the configured listen address",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), serveOptions{
				user:     c.String("user"),
				linkPush: c.Bool("link-push"),
				listen:   c.String("listen"),
			})
		},
	}
}

type serveOptions struct {
	user     string
	linkPush bool
	listen   string
}

// reloadable is the part of the running daemon a config change can update
// without restarting the session.
type reloadable struct {
	mu         sync.Mutex
	cfg        *config.Config
	gate       *notify.Gate
	dispatcher *realtime.Dispatcher
}

func serve(ctx context.Context, configPath string, opts serveOptions) error {
	l := log.ForService("serve")

	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Realtime.Key == "" {
		return fmt.Errorf("realtime.key is not set (config file or %s)", config.EnvPusherKey)
	}

	hub := notify.NewHub(32)
	gate := notify.NewGate(notify.Permission(a.cfg.Notifications.Permission))
	m := metrics.New()
	coord := a.newCoordinator(coordinatorDeps{
		gate:     gate,
		hub:      hub,
		terminal: os.Stdout,
		metrics:  m,
	})
	defer coord.TeardownSession()

	state := &reloadable{cfg: a.cfg, gate: gate, dispatcher: coord.Dispatcher()}

	listen := a.cfg.Server.Listen
	if opts.listen != "" {
		listen = opts.listen
	}
	srv := api.NewServer(api.Options{
		Coordinator:   coord,
		Hub:           hub,
		Notifications: a.store,
		Metrics:       m.Handler(),
	})
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	fmt.Printf("Local API listening on http://%s\n", listen)

	if opts.user != "" {
		if err := coord.InitSession(ctx, opts.user); err != nil {
			return fmt.Errorf("starting session for %s: %w", opts.user, err)
		}
		fmt.Printf("Session started for user %s\n", opts.user)
		if opts.linkPush {
			go linkAfterReady(ctx, a, coord, gate, opts.user)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	fmt.Println("Press Ctrl+C to stop, send SIGHUP to reload, or modify config file for automatic reload.")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				l.Warnf("failed to close config file watcher: %v", err)
			}
		}()

		if err := watcher.Add(configPath); err != nil {
			l.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			l.Infof("watching config file for changes: %s", configPath)
		}
	}
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events, watchErrs = watcher.Events, watcher.Errors
	}

	shutdown := func() error {
		coord.TeardownSession()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-serveErr:
			coord.TeardownSession()
			return fmt.Errorf("local API: %w", err)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				l.Infof("received SIGHUP, reloading configuration...")
				if err := state.reload(configPath); err != nil {
					l.Errorf("failed to reload configuration: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\nShutting down...")
				return shutdown()
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Editors often replace the file atomically.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			l.Infof("config file changed: %s (event: %s), reloading configuration...", event.Name, event.Op)

			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(200 * time.Millisecond)
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					l.Warnf("config file was removed and not replaced, skipping reload")
					continue
				}
				if err := watcher.Add(configPath); err != nil {
					l.Warnf("failed to re-add config file to watcher: %v", err)
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}

			if err := state.reload(configPath); err != nil {
				l.Errorf("failed to reload configuration after file change: %v", err)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			l.Warnf("config file watcher error: %v", err)
		}
	}
}

// reload applies debug services, the notification permission and the
// notification payload settings. Transport settings need a restart.
func (r *reloadable) reload(configPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading new config: %w", err)
	}

	applyDebugServices(newCfg)
	r.gate.Set(notify.Permission(newCfg.Notifications.Permission))
	r.dispatcher.SetSettings(notificationSettings(newCfg))

	if newCfg.Realtime != r.cfg.Realtime || newCfg.APIBaseURL != r.cfg.APIBaseURL {
		log.ForService("serve").Warnf("realtime and backend settings changed, restart to apply them")
	}
	r.cfg = newCfg
	log.ForService("serve").Infof("configuration reloaded (permission %s, locale %s)",
		newCfg.Notifications.Permission, newCfg.Locale)
	return nil
}

// linkAfterReady links push notifications once the transport handshake
// completed.
func linkAfterReady(ctx context.Context, a *app, coord *realtime.Coordinator, gate *notify.Gate, user string) {
	l := log.ForService("push")
	if err := coord.WaitReady(ctx); err != nil {
		l.Warnf("not linking push notifications: %v", err)
		return
	}
	linker := a.newLinker(gate)
	id, err := linker.Link(ctx, realtime.IdentityOf(user).String())
	if err != nil {
		l.Warnf("linking push notifications: %v", err)
		return
	}
	l.Infof("push notifications linked, subscription %s", id)
}

func (a *app) newLinker(gate *notify.Gate) *push.Linker {
	return push.NewLinker(push.LinkerOptions{
		Provider: push.NewProxyProvider(a.backend, a.store, gate),
		Tokens:   a.backend,
		Attempts: a.cfg.Push.LinkAttempts,
		Interval: a.cfg.Push.LinkInterval.Duration,
	})
}
