package main

import (
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/handler"
	"github.com/spf13/cobra"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a tenant",
		Long:  "Signs an HS256 token with SECRET_KEY carrying the tenant_id and role claims the API expects.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireTenant(); err != nil {
				return err
			}
			if c.cfg == nil || c.cfg.SecretKey == "" {
				return fmt.Errorf("token: SECRET_KEY is not set")
			}
			if role != handler.RoleAdmin && role != handler.RoleAgent {
				return fmt.Errorf("token: role must be %q or %q", handler.RoleAdmin, handler.RoleAgent)
			}
			token, err := handler.SignToken(c.cfg.SecretKey, c.tenantID, role, ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", handler.RoleAgent, "admin or agent")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
