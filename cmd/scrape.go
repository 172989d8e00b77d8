// File: cmd/scrape.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/internal/observability"
)

// newScrapeCmd creates the `scrape` command: one full search for one user
// service, with the chained extraction when the search calls for it.
func newScrapeCmd() *cobra.Command {
	var userServiceID string

	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs the scraping recipe for a single user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			comps := initializeComponents(cfg, logger)

			userService, err := comps.Backend.GetUserService(ctx, userServiceID)
			if err != nil {
				return fmt.Errorf("fetching user service %s: %w", userServiceID, err)
			}
			service, err := comps.Backend.GetService(ctx, userService.ServiceID)
			if err != nil {
				return fmt.Errorf("fetching service %s: %w", userService.ServiceID, err)
			}

			logger.Info("Scraping user service",
				zap.String("user_service_id", userService.ID),
				zap.String("service", service.Name))

			result, err := comps.Interpreter.Search(ctx, service.ScrapingConfig, *userService)
			if err != nil {
				return fmt.Errorf("search for %s failed: %w", userServiceID, err)
			}

			fmt.Printf("Debt: %v\nBills found: %d\nSave: %s\n",
				result.Debt, len(result.Bills), result.SaveResult.Message)

			if !result.ShouldExtract {
				return nil
			}

			extraction, err := comps.Extractor.ProcessBills(ctx, userService.ID)
			if err != nil {
				return fmt.Errorf("extraction for %s failed: %w", userServiceID, err)
			}
			fmt.Printf("Extraction: %s\n", extraction.Message)
			return nil
		},
	}

	scrapeCmd.Flags().StringVarP(&userServiceID, "user-service", "u", "", "User service ID to scrape")
	_ = scrapeCmd.MarkFlagRequired("user-service")

	return scrapeCmd
}
