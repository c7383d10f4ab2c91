package cli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"school-session-agent/internal/backend"
	"school-session-agent/internal/config"
)

// NewTokenCmd mints a development bearer token signed with auth.secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var subject, name, role, ttl string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the reference backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret (or JWT_SECRET) is not configured")
			}
			lifetime := config.TTLDuration(ttl, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour))
			token, err := backend.GenerateToken(cfg.Auth.Secret, subject, name, role, lifetime, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id carried in the sub claim")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "teacher", "role claim (teacher, student)")
	cmd.Flags().StringVar(&ttl, "ttl", "", "token lifetime, defaults to auth.tokenTTL")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
