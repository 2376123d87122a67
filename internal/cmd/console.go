package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lookout-fleet/lookout/internal/console"
	"github.com/lookout-fleet/lookout/pkg/cli"
)

func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Terminal dashboard: live fleet view and remote access requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			hubURL, _ := cmd.Flags().GetString("hub")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			insecure, _ := cmd.Flags().GetBool("insecure")

			p := cli.DefaultPrompter()
			if username == "" {
				username = p.Ask("Username", "admin")
			}
			if password == "" {
				password = p.AskSecret("Password")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := console.Run(ctx, console.Options{
				HubURL:   hubURL,
				Username: username,
				Password: password,
				Insecure: insecure,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("hub", envOr("LOOKOUT_HUB_URL", "http://localhost:3001"), "hub base URL")
	cmd.Flags().StringP("username", "u", "", "admin username (prompted when omitted)")
	cmd.Flags().StringP("password", "p", "", "admin password (prompted when omitted)")
	cmd.Flags().Bool("insecure", false, "skip TLS certificate verification")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
