// Command routingctl administers the conversation routing service: schema
// migrations, seeding tenants from YAML, queue drains, escalation checks,
// history queries and archives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ClareAI/astra-routing-service/internal/app"
	"github.com/ClareAI/astra-routing-service/internal/config"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// opener builds the routing components for one command; release undoes it
type opener func(ctx context.Context) (a *app.App, release func(), err error)

type cli struct {
	open     opener
	cfg      *config.RoutingConfig
	tenantID string
	asJSON   bool
}

func buildFromEnv(cfg *config.RoutingConfig) opener {
	return func(ctx context.Context) (*app.App, func(), error) {
		a, err := app.Build(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { a.Close() }, nil
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "routingctl",
		Short:         "Administer conversation routing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.tenantID, "tenant", "t", "", "tenant id")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		newMigrateCmd(),
		newSeedCmd(c),
		newDrainCmd(c),
		newEscalationsCmd(c),
		newHistoryCmd(c),
		newArchiveCmd(c),
		newTokenCmd(c),
	)
	return root
}

func (c *cli) requireTenant() error {
	if c.tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

// withApp runs fn against freshly built routing components
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, release, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}

func (c *cli) printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	_ = godotenv.Load()

	cfg := config.LoadRoutingConfigFromEnv()
	if _, err := logger.Init(cfg.LogEnv); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}
	defer logger.Sync()

	c := &cli{open: buildFromEnv(cfg), cfg: cfg}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "routingctl: %v\n", err)
		os.Exit(1)
	}
}
