package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/app"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		conversationID string
		agentID        string
		outcome        string
		since          time.Duration
		limit          int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show routing decisions of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireTenant(); err != nil {
				return err
			}
			filter := domain.HistoryFilter{
				ConversationID: conversationID,
				AgentID:        agentID,
				Outcome:        domain.RoutingOutcome(outcome),
				Limit:          limit,
			}
			if since > 0 {
				filter.From = time.Now().UTC().Add(-since)
			}

			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.Balancer.QueryRoutingHistory(ctx, c.tenantID, filter)
				if err != nil {
					return fmt.Errorf("history: %w", err)
				}
				if c.asJSON {
					if entries == nil {
						entries = []*domain.RoutingHistoryEntry{}
					}
					return c.printJSON(cmd.OutOrStdout(), entries)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tCONVERSATION\tOUTCOME\tSTRATEGY\tAGENT\tREASON")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.ConversationID, e.Outcome, e.StrategyUsed, e.SelectedAgentID, e.Reason)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "only this conversation")
	cmd.Flags().StringVar(&agentID, "agent", "", "only decisions selecting this agent")
	cmd.Flags().StringVar(&outcome, "outcome", "", "assigned, queued, rejected_by_agent, reassigned or released")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries, at most 1000")
	return cmd
}

func newArchiveCmd(c *cli) *cobra.Command {
	var (
		from, to  string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export routing history to Cloud Storage as JSON lines",
		Long:  "Writes the tenant's history between --from and --to (RFC3339, default the last 24 hours) to ARCHIVE_GCS_BUCKET.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireTenant(); err != nil {
				return err
			}
			end := time.Now().UTC()
			start := end.Add(-24 * time.Hour)
			var err error
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("archive: --from: %w", err)
				}
			}
			if to != "" {
				if end, err = time.Parse(time.RFC3339, to); err != nil {
					return fmt.Errorf("archive: --to: %w", err)
				}
			}

			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Archiver == nil {
					return fmt.Errorf("archive: ARCHIVE_GCS_BUCKET is not configured")
				}
				res, err := a.Archiver.Export(ctx, c.tenantID, start, end, overwrite)
				if err != nil {
					return fmt.Errorf("archive: %w", err)
				}
				if c.asJSON {
					return c.printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %d entries to %s\n", res.Entries, res.URI)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC3339")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC3339")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing archive of the same window")
	return cmd
}
