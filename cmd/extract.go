// File: cmd/extract.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/factuscan/factuscan/internal/observability"
)

// newExtractCmd creates the `extract` command: parse the stored bills of one
// user service without scraping first.
func newExtractCmd() *cobra.Command {
	var userServiceID string

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Parses the stored bills of a user service into structured fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			comps := initializeComponents(cfg, logger)

			result, err := comps.Extractor.ProcessBills(ctx, userServiceID)
			if err != nil {
				return fmt.Errorf("extraction for %s failed: %w", userServiceID, err)
			}

			fmt.Printf("Success: %v\nBills processed: %d\n%s\n",
				result.Success, result.BillsProcessed, result.Message)
			return nil
		},
	}

	extractCmd.Flags().StringVarP(&userServiceID, "user-service", "u", "", "User service ID to extract bills for")
	_ = extractCmd.MarkFlagRequired("user-service")

	return extractCmd
}
