package main

import (
	"fmt"

	"github.com/openmined/photoqueue/internal/server/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var subject, album string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an upload access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadTokenConfig(cmd)
			if err != nil {
				return err
			}

			svc := auth.NewAuthService(cfg)
			token, err := svc.IssueAccessToken(cmd.Context(), subject, album)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Token subject, e.g. a device or user name")
	cmd.Flags().StringVarP(&album, "album", "a", "", "Restrict the token to one album")
	cmd.MarkFlagRequired("subject")
	return cmd
}

// loadTokenConfig needs only the auth section, so a missing blob config is fine.
func loadTokenConfig(cmd *cobra.Command) (*auth.Config, error) {
	cfg, err := decodeConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.Auth.Enabled {
		return nil, fmt.Errorf("auth is disabled, set auth.enabled to issue tokens")
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	return &cfg.Auth, nil
}
