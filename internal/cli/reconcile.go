package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ring0.store/fulfillment/internal/money"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Review payment events that matched no order or several",
	}

	var limit int
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded reconciliation events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListReconciliationEvents(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No reconciliation events")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tPROVIDER\tREASON\tKIND\tEVENT\tCORRELATION\tEMAIL\tAMOUNT")
			for _, e := range events {
				amount := "-"
				if e.AmountMinorUnits != nil {
					amount = money.Format(*e.AmountMinorUnits, e.Currency)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339),
					e.Provider,
					e.Reason,
					e.Kind,
					orDash(e.EventType),
					orDash(e.CorrelationKey),
					orDash(e.CustomerEmail),
					amount,
				)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of events to show")
	list.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	cmd.AddCommand(list)

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
