package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// CacheCommand creates the cache command
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the offline response cache",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show cache statistics",
				Action: func(ctx context.Context, c *cli.Command) error {
					a, err := loadApp(c.String("config"))
					if err != nil {
						return err
					}
					defer a.Close()

					stats, err := a.store.CacheStats()
					if err != nil {
						return fmt.Errorf("reading cache stats: %w", err)
					}
					fmt.Printf("Database:    %s\n", a.store.Path())
					fmt.Printf("Entries:     %d\n", stats.Entries)
					fmt.Printf("Size:        %s (%s compressed)\n", formatBytes(stats.RawBytes), formatBytes(stats.CompressedBytes))
					fmt.Printf("Oldest:      %s\n", formatTime(stats.Oldest))
					fmt.Printf("Newest:      %s\n", formatTime(stats.Newest))

					recent, err := a.store.RecentNotifications(5)
					if err != nil {
						return fmt.Errorf("reading notification log: %w", err)
					}
					if len(recent) > 0 {
						fmt.Println("\nRecent notifications:")
						for _, n := range recent {
							fmt.Printf("  %-18s %-20s %s (%s)\n", n.Tag, n.Title, formatTime(n.CreatedAt), n.Surface)
						}
					}
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Drop every cached response",
				Action: func(ctx context.Context, c *cli.Command) error {
					a, err := loadApp(c.String("config"))
					if err != nil {
						return err
					}
					defer a.Close()

					n, err := a.store.ClearCache()
					if err != nil {
						return fmt.Errorf("clearing cache: %w", err)
					}
					fmt.Printf("Removed %d cached responses\n", n)
					return nil
				},
			},
		},
	}
}
