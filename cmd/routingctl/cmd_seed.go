package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ClareAI/astra-routing-service/internal/app"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by "routingctl seed"
type seedFile struct {
	TenantID     string                              `yaml:"tenant_id"`
	ReplaceRules bool                                `yaml:"replace_rules"`
	Settings     *domain.UpsertTenantSettingsRequest `yaml:"settings"`
	Agents       []domain.CreateAgentCapacityRequest `yaml:"agents"`
	Rules        []domain.CreateRoutingRuleRequest   `yaml:"rules"`
}

func loadSeed(r io.Reader) (*seedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed seedFile
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i := range seed.Rules {
		if c := seed.Rules[i].Config.Custom; c != nil {
			if err := c.Predicate.NormalizeYAML(); err != nil {
				return nil, fmt.Errorf("rule %q: %w", seed.Rules[i].Name, err)
			}
		}
	}
	return &seed, nil
}

// seedReport counts what applySeed changed
type seedReport struct {
	SettingsUpdated bool `json:"settings_updated"`
	AgentsCreated   int  `json:"agents_created"`
	AgentsSkipped   int  `json:"agents_skipped"`
	RulesDeleted    int  `json:"rules_deleted"`
	RulesCreated    int  `json:"rules_created"`
}

// applySeed writes settings, agents and rules for one tenant. Existing agents are left
// untouched; rules are appended unless ReplaceRules is set.
func applySeed(ctx context.Context, lb *routing.LoadBalancer, tenantID string, seed *seedFile) (*seedReport, error) {
	report := &seedReport{}
	registry := lb.Registry()

	if seed.Settings != nil {
		if _, err := registry.UpsertSettings(ctx, tenantID, seed.Settings); err != nil {
			return report, fmt.Errorf("settings: %w", err)
		}
		report.SettingsUpdated = true
	}

	for i := range seed.Agents {
		_, err := lb.Capacity().CreateAgent(ctx, tenantID, &seed.Agents[i])
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			report.AgentsSkipped++
		case err != nil:
			return report, fmt.Errorf("agent %s: %w", seed.Agents[i].AgentID, err)
		default:
			report.AgentsCreated++
		}
	}

	if seed.ReplaceRules {
		existing, err := registry.ListRules(ctx, tenantID)
		if err != nil {
			return report, fmt.Errorf("list rules: %w", err)
		}
		for _, rule := range existing {
			if err := registry.DeleteRule(ctx, tenantID, rule.ID); err != nil {
				return report, fmt.Errorf("delete rule %s: %w", rule.ID, err)
			}
			report.RulesDeleted++
		}
	}
	for i := range seed.Rules {
		if _, err := registry.CreateRule(ctx, tenantID, &seed.Rules[i]); err != nil {
			return report, fmt.Errorf("rule %q: %w", seed.Rules[i].Name, err)
		}
		report.RulesCreated++
	}
	return report, nil
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <rules.yaml>",
		Short: "Load tenant settings, agents and routing rules from YAML",
		Long:  "Applies a seed file to one tenant. The tenant comes from --tenant or the file's tenant_id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer f.Close()

			seed, err := loadSeed(f)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			tenantID := c.tenantID
			if tenantID == "" {
				tenantID = seed.TenantID
			}
			if tenantID == "" {
				return fmt.Errorf("seed: no tenant in --tenant or tenant_id")
			}

			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := applySeed(ctx, a.Balancer, tenantID, seed)
				if err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d agents created (%d existing), %d rules created, %d rules replaced\n",
					tenantID, report.AgentsCreated, report.AgentsSkipped, report.RulesCreated, report.RulesDeleted)
				return nil
			})
		},
	}
}
