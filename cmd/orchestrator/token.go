package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/app"
	"github.com/bissquit/incident-orchestrator/internal/config"
	"github.com/bissquit/incident-orchestrator/internal/domain"
	"github.com/bissquit/incident-orchestrator/internal/identity"
	"github.com/spf13/cobra"
)

var (
	tokenName string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for an operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, configRequired)
		if err != nil {
			return err
		}

		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		svc, err := identity.NewService(identity.Config{
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  ttl,
			Issuer:    cfg.Auth.Issuer,
			APIKeys:   app.APIKeys(cfg.Auth),
		})
		if err != nil {
			return err
		}

		token, expiresAt, err := svc.IssueToken(args[0], tokenName, domain.Role(tokenRole))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"token":      token,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})
	},
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key and the bcrypt hash for auth.api_keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, hash, err := identity.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\nhash: %s\n", key, hash)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name recorded on timeline entries")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleOperator), "role: viewer, operator or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	tokenCmd.AddCommand(apiKeyCmd)
	rootCmd.AddCommand(tokenCmd)
}
