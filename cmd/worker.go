// File: cmd/worker.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/internal/observability"
	"github.com/factuscan/factuscan/internal/orchestrator"
)

// newWorkerCmd creates the `worker` command: fan every known provider out
// over the job pool, one job per enrolled user service.
func newWorkerCmd() *cobra.Command {
	var serviceID string

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs the scraping job pool over every enrolled user service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("worker.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			comps := initializeComponents(cfg, logger)

			pool, err := orchestrator.New(cfg.Worker, logger, comps.Interpreter, comps.Extractor)
			if err != nil {
				return err
			}
			pool.Start(ctx)

			services, err := comps.Backend.GetServices(ctx)
			if err != nil {
				return fmt.Errorf("listing services: %w", err)
			}

			queued := 0
			for _, svc := range services {
				if serviceID != "" && svc.ID != serviceID {
					continue
				}
				n, err := pool.EnqueueService(ctx, svc, comps.Backend)
				queued += n
				if err != nil {
					logger.Error("Failed to queue service", zap.String("service", svc.Name), zap.Error(err))
					break
				}
			}
			pool.Close()

			done := make(chan struct{})
			succeeded, failed := 0, 0
			go func() {
				defer close(done)
				for result := range pool.Results() {
					if result.Success {
						succeeded++
					} else {
						failed++
					}
					logger.Info("Job finished",
						zap.String("job_id", result.JobID),
						zap.Bool("success", result.Success),
						zap.Bool("debt", result.Debt),
						zap.String("message", result.Message))
				}
			}()

			pool.Stop()
			<-done

			fmt.Printf("Jobs queued: %d, succeeded: %d, failed: %d\n", queued, succeeded, failed)
			if ctx.Err() != nil {
				return fmt.Errorf("worker interrupted: %w", ctx.Err())
			}
			return nil
		},
	}

	workerCmd.Flags().StringVarP(&serviceID, "service", "s", "", "Only scrape this provider service ID")
	workerCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent scraping workers. (Overrides config/env)")

	return workerCmd
}
