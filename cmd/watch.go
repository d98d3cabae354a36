package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/urfave/cli/v3"
)

var (
	originStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	ownStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	relayStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// WatchCommand creates the watch command
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Connect as a user and print chat events and notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "User id to start the session for",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Also open this conversation and print its messages",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return watch(ctx, c.String("config"), c.String("user"), c.String("conversation"))
		},
	}
}

func watch(ctx context.Context, configPath, user, conversation string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := a.newCoordinator(coordinatorDeps{
		gate:     notify.NewGate(notify.Permission(a.cfg.Notifications.Permission)),
		terminal: os.Stdout,
		observer: printEvent,
	})
	defer coord.TeardownSession()

	if err := coord.InitSession(ctx, user); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	fmt.Printf("Connecting as user %s...\n", user)
	if err := coord.WaitReady(ctx); err != nil {
		return err
	}
	st := coord.Status()
	fmt.Printf("Connected (%s), listening on %s\n", st.Transport, st.UserChannel)

	if conversation != "" {
		_, err := coord.OpenConversation(ctx, conversation, func(ev realtime.InboundEvent) {
			fmt.Println(relayStyle.Render(fmt.Sprintf("  ↳ %s: %s", senderLabel(ev), ev.Body)))
		})
		if err != nil {
			return fmt.Errorf("opening conversation %s: %w", conversation, err)
		}
		fmt.Printf("Conversation %s open\n", conversation)
	}

	<-ctx.Done()
	fmt.Println("\nDisconnecting...")
	return nil
}

func printEvent(ev realtime.ClassifiedEvent, outcome realtime.Outcome) {
	line := fmt.Sprintf("%s %s conversation=%s from=%s %q -> %s",
		ev.Event.Timestamp.Format("15:04:05"),
		originStyle.Render(string(ev.Origin)),
		ev.Event.ConversationID, senderLabel(ev.Event), ev.Event.Body, outcome)
	if ev.IsOwn {
		line = ownStyle.Render(line + " (own)")
	}
	fmt.Println(line)
}

func senderLabel(ev realtime.InboundEvent) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.SenderID.String()
}
