package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/AgeGate/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user",
		Long: `Mints an HS256 token signed with auth.jwt_secret. The API only accepts it when it runs with
the same secret, so set AGEGATE_AUTH_JWT_SECRET for both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
