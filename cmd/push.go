package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/push"
	"github.com/urfave/cli/v3"
)

// PushCommand creates the push command
func PushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "Manage push notification linking for this device",
		Commands: []*cli.Command{
			{
				Name:  "link",
				Usage: "Link this device to a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "User id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withLinker(ctx, c, func(l *push.Linker) error {
						id, err := l.Link(ctx, c.String("user"))
						if err != nil {
							return err
						}
						fmt.Printf("Device linked to user %s (subscription %s)\n", c.String("user"), id)
						return nil
					})
				},
			},
			{
				Name:  "unlink",
				Usage: "Log this device out of push notifications",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withLinker(ctx, c, func(l *push.Linker) error {
						if err := l.Unlink(ctx); err != nil {
							return err
						}
						fmt.Println("Device unlinked")
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "Show the push state of this device",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withLinker(ctx, c, func(l *push.Linker) error {
						st := l.Status()
						fmt.Printf("External id:     %s\n", orNone(st.ExternalID))
						fmt.Printf("Subscription id: %s\n", orNone(st.SubscriptionID))
						fmt.Printf("Permission:      %s\n", st.Permission)
						return nil
					})
				},
			},
		},
	}
}

func withLinker(ctx context.Context, c *cli.Command, fn func(*push.Linker) error) error {
	a, err := loadApp(c.String("config"))
	if err != nil {
		return err
	}
	defer a.Close()

	gate := notify.NewGate(notify.Permission(a.cfg.Notifications.Permission))
	provider := push.NewProxyProvider(a.backend, a.store, gate)
	provider.Ask = askPermission
	linker := push.NewLinker(push.LinkerOptions{
		Provider: provider,
		Tokens:   a.backend,
		Attempts: a.cfg.Push.LinkAttempts,
		Interval: a.cfg.Push.LinkInterval.Duration,
	})
	if err := provider.Init(ctx); err != nil {
		return err
	}
	return fn(linker)
}

// askPermission prompts on the terminal.
func askPermission(_ context.Context) (bool, error) {
	fmt.Print("Allow calchat to show notifications? [y/N] ")
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
