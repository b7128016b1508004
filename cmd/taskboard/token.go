package main

import (
	"fmt"
	"time"

	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/utils"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint an access token signed with JWT_SECRET",
		Long: `Mint an access token for local testing.

Examples:
  taskboard token u-123
  taskboard token u-123 --email dev@example.com --ttl 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to mint tokens in production")
			}
			token, exp, err := utils.NewJWTService(cfg.JWTSecret).GenerateAccessToken(args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", time.Unix(exp, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	return cmd
}
