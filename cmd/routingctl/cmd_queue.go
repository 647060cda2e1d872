package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/app"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/spf13/cobra"
)

func newDrainCmd(c *cli) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Assign queued conversations of a tenant to free agents",
		Long: "Publishes a drain task for the running instances when Redis is configured, " +
			"otherwise drains in this process. --local always drains here.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireTenant(); err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var results []*routing.AssignResult
				var err error
				if local {
					results, err = a.Balancer.DrainQueue(ctx, c.tenantID)
				} else {
					results, err = a.RequestDrain(ctx, c.tenantID)
				}
				if err != nil {
					return fmt.Errorf("drain: %w", err)
				}
				if !local && a.TaskBus != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Drain requested for %s\n", c.tenantID)
					return nil
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), results)
				}
				assigned := 0
				for _, r := range results {
					if r.Status == routing.StatusAssigned {
						assigned++
						fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", r.ConversationID, r.AgentID)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Assigned %d queued conversations\n", assigned)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "drain in this process even when a task bus is configured")
	return cmd
}

func newEscalationsCmd(c *cli) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List conversations past the tenant's SLA",
		Long:  "Reads current SLA breaches. With --notify the breaches are also sent to the tenant's notification channels.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireTenant(); err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if notify {
					report, err := a.Sweeper.SweepTenant(ctx, c.tenantID)
					if err != nil {
						return fmt.Errorf("escalations: %w", err)
					}
					if c.asJSON {
						return c.printJSON(cmd.OutOrStdout(), report)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d breaches, %d notified, %d assigned from queue\n",
						report.Escalations, report.Notified, report.Assigned)
					return nil
				}

				breaches, err := a.Evaluator.CheckBreaches(ctx, c.tenantID)
				if err != nil {
					return fmt.Errorf("escalations: %w", err)
				}
				if c.asJSON {
					if breaches == nil {
						breaches = []domain.EscalationCandidate{}
					}
					return c.printJSON(cmd.OutOrStdout(), breaches)
				}
				if len(breaches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No SLA breaches")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONVERSATION\tSTATE\tAGENT\tPRIORITY\tWAITING")
				for _, b := range breaches {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", b.ConversationID, b.State, b.AgentID, b.Priority, b.Elapsed.Round(time.Second))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "send notifications for the breaches")
	return cmd
}
