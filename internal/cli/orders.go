package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/config"
	"ring0.store/fulfillment/internal/money"
	"ring0.store/fulfillment/models"
)

func newOrdersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and confirm orders",
	}
	cmd.AddCommand(newOrdersShowCommand(opts))
	cmd.AddCommand(newOrdersConfirmCommand(opts))
	return cmd
}

func newOrdersShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-number>",
		Short: "Print an order and the licenses assigned to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			order, err := store.FindOrderByNumber(ctx, args[0])
			if err != nil {
				return err
			}
			if order == nil {
				return fmt.Errorf("order %s not found", args[0])
			}
			licenses, err := store.FindLicensesByOrder(ctx, order.ID)
			if err != nil {
				return err
			}

			printOrder(cmd.OutOrStdout(), order, licenses)
			return nil
		},
	}
}

func newOrdersConfirmCommand(opts *rootOptions) *cobra.Command {
	var txHash string

	cmd := &cobra.Command{
		Use:   "confirm <order-number>",
		Short: "Confirm a manual crypto payment and fulfill the order",
		Long: `Marks a pending crypto-manual order as paid once the transfer has been
checked on chain. The order goes through the same fulfillment path as a
provider webhook, so running the command twice hands out one license.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txHash = strings.TrimSpace(txHash)
			if txHash == "" {
				return fmt.Errorf("--tx is required")
			}

			se, err := config.LoadFulfillment()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			dispatcher, release, err := newDispatcher(se, store)
			if err != nil {
				return err
			}
			defer release()

			allocator := fulfillment.NewAllocator(se.FallbackKeyPrefix)
			service := fulfillment.NewService(store, allocator, dispatcher)

			result, err := service.Process(ctx, manualConfirmation(args[0], txHash))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch result.Outcome {
			case fulfillment.OutcomeCompleted:
				fmt.Fprintf(out, "Order %s completed\n", args[0])
				if result.License != nil {
					fmt.Fprintf(out, "License key: %s\n", result.License.Key)
				}
			case fulfillment.OutcomeDuplicate:
				fmt.Fprintf(out, "Order %s was already processed\n", args[0])
			case fulfillment.OutcomeUnmatched:
				return fmt.Errorf("no pending crypto-manual order %s", args[0])
			default:
				fmt.Fprintf(out, "Order %s: %s\n", args[0], result.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&txHash, "tx", "", "transaction hash of the payment")
	return cmd
}

func manualConfirmation(orderNumber, txHash string) models.PaymentEvent {
	return models.PaymentEvent{
		Provider:        models.MethodCryptoManual,
		Kind:            models.EventSucceeded,
		ProviderEventID: "manual:" + orderNumber,
		RawType:         "manual.confirmed",
		CorrelationKey:  txHash,
		OrderNumber:     orderNumber,
	}
}

func printOrder(w io.Writer, order *models.Order, licenses []*models.License) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Order\t%s\n", order.OrderNumber)
	fmt.Fprintf(tw, "Status\t%s\n", order.Status)
	fmt.Fprintf(tw, "Method\t%s\n", order.PaymentMethod)
	if id := order.CorrelationID(); id != "" {
		fmt.Fprintf(tw, "Provider id\t%s\n", id)
	}
	fmt.Fprintf(tw, "Customer\t%s\n", order.CustomerEmail)
	fmt.Fprintf(tw, "Product\t%s (%s)\n", order.ProductName, order.Duration)
	fmt.Fprintf(tw, "Total\t%s\n", money.Format(order.AmountMinorUnits, order.Currency))
	fmt.Fprintf(tw, "Created\t%s\n", order.CreatedAt.UTC().Format(time.RFC3339))
	tw.Flush()

	if len(licenses) == 0 {
		fmt.Fprintln(w, "\nNo licenses assigned")
		return
	}
	fmt.Fprintln(w, "\nLicenses")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tEXPIRES\tFALLBACK")
	for _, l := range licenses {
		expires := "never"
		if l.ExpiresAt != nil {
			expires = l.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", l.Key, l.Status, expires, l.Fallback)
	}
	tw.Flush()
}
