package main

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai4hf/passport/internal/auth"
	"github.com/ai4hf/passport/internal/config"
	"github.com/ai4hf/passport/internal/crypto"
	"github.com/ai4hf/passport/internal/roles"
)

// newTokenCmd issues a bearer token signed with the server's secret. Meant for
// local development; production tokens come from the identity provider.
func newTokenCmd() *cobra.Command {
	var (
		configPath string
		personID   string
		name       string
		roleList   string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			set, err := roles.Decode(roleList)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(personID, name, set, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "server config file")
	f.StringVar(&personID, "person", "", "person id (token subject)")
	f.StringVar(&name, "name", "", "display name")
	f.StringVar(&roleList, "roles", "", "comma separated roles")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a value for audit.snapshot_encryption_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
