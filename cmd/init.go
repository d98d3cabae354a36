package cmd

import (
	"context"
	"fmt"

	"github.com/rubiojr/calchat/pkg/config"
	"github.com/urfave/cli/v3"
)

// InitCommand creates the init command
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "token",
				Usage: "Session token issued by the backend at login, stored in the storage directory",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return initConfig(c.String("config"), c.String("token"))
		},
	}
}

// initConfig writes the configuration template and, when given, the session
// token.
func initConfig(configPath, token string) error {
	cfg := config.GetDefaultConfig()
	if err := cfg.SaveTemplateConfig(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Configuration initialized at %s\n", configPath)

	if token == "" {
		fmt.Printf("Set %s or run 'calchat init --token' to store a session token\n", config.EnvAuthToken)
		return nil
	}

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := tokenFile(loaded).Save(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	fmt.Println("Session token saved")
	return nil
}
