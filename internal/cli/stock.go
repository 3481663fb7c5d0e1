package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

func newStockCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Manage unassigned license stock",
	}

	var productID, variantID string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Add one unassigned license per non-empty line of file",
		Long: `Reads license keys, one per line, and adds each as unassigned stock.
Use "-" to read from stdin. Keys already in the database are skipped.

Without --product the keys become general stock that any product can draw
from once its own stock runs out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if variantID != "" && productID == "" {
				return fmt.Errorf("--variant requires --product")
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			added, skipped, err := importStock(cmd, store, in, productID, variantID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d license(s), skipped %d duplicate(s)\n", added, skipped)

			scope := storage.GeneralStock()
			if variantID != "" {
				scope = storage.VariantStock(productID, variantID)
			} else if productID != "" {
				scope = storage.ProductStock(productID)
			}
			if n, err := store.CountStock(cmd.Context(), scope); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Stock available for %s: %d\n", scope, n)
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&productID, "product", "", "product the keys belong to")
	importCmd.Flags().StringVar(&variantID, "variant", "", "variant the keys belong to")
	cmd.AddCommand(importCmd)

	return cmd
}

func importStock(cmd *cobra.Command, store storage.Storage, in io.Reader, productID, variantID string) (added, skipped int, err error) {
	now := time.Now().UTC()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}

		license := &models.License{
			ID:        uuid.Must(uuid.NewRandom()).String(),
			Key:       key,
			ProductID: optional(productID),
			VariantID: optional(variantID),
			Status:    models.LicenseActive,
			CreatedAt: now,
		}
		ok, err := store.AddStock(cmd.Context(), license)
		if err != nil {
			return added, skipped, fmt.Errorf("failed to add license %s: %w", key, err)
		}
		if !ok {
			skipped++
			continue
		}
		added++
		// keep insertion order stable for first-in first-out claiming
		now = now.Add(time.Microsecond)
	}
	if err := scanner.Err(); err != nil {
		return added, skipped, fmt.Errorf("failed to read keys: %w", err)
	}

	logger.Info("License stock imported", map[string]interface{}{
		"product_id": productID,
		"variant_id": variantID,
		"added":      added,
		"skipped":    skipped,
	})
	return added, skipped, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
