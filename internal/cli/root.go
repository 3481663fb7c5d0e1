// Package cli holds the fulfillment command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ring0.store/fulfillment/internal/config"
	"ring0.store/fulfillment/internal/version"
	"ring0.store/fulfillment/storage"
)

type rootOptions struct {
	databaseURL string
}

// NewRootCommand builds the command tree. Commands write to the command's
// output so tests can capture it.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "fulfillment",
		Short: "Ring-0 order fulfillment service",
		Long: `Receives payment provider webhooks, hands out license keys for paid
orders and keeps the order ledger consistent under redelivery.

Run "fulfillment serve" for the HTTP service. The remaining commands are
operator tools that work directly on the database.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "database URL (defaults to DATABASE_URL)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newStockCommand(opts))
	root.AddCommand(newOrdersCommand(opts))
	root.AddCommand(newReconcileCommand(opts))
	return root
}

// Execute runs the root command and reports whether it succeeded.
func Execute() int {
	version.Load("VERSION")
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (o *rootOptions) resolveDatabaseURL() (string, error) {
	if o.databaseURL != "" {
		return o.databaseURL, nil
	}
	return config.DatabaseURL()
}

// openStore opens the configured database for an operator command.
func (o *rootOptions) openStore(ctx context.Context) (*storage.SQLStorage, error) {
	url, err := o.resolveDatabaseURL()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, url)
}
