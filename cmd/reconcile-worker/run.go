package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fee-reconciliation-backend/internal/repository"
	service "fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduler passes over the processing queue",
		Long: `Run picks up due queue items, matches them against unclaimed ledger
payments and schedules retries for the rest. Without --interval a single
pass is made.`,
		RunE: runScheduler,
	}

	cmd.Flags().Int("batch-size", 0, "maximum queue items per pass (default SCHEDULER_BATCH_SIZE)")
	cmd.Flags().String("tenant", "", "restrict the pass to one tenant ID")
	cmd.Flags().Duration("interval", 0, "repeat passes at this interval until interrupted")

	_ = viper.BindPFlag("scheduler.batch_size", cmd.Flags().Lookup("batch-size"))

	return cmd
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	opts := service.PassOptions{}
	if tenant, _ := cmd.Flags().GetString("tenant"); tenant != "" {
		id, err := uuid.Parse(tenant)
		if err != nil {
			return fmt.Errorf("invalid tenant ID %q: %w", tenant, err)
		}
		opts.TenantID = &id
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	db, err := openDB()
	if err != nil {
		return err
	}
	scheduler := service.NewScheduler(repository.NewStore(db), repository.NewLedgerRepository(db), cfg.Reconciliation())

	if interval <= 0 {
		_, err := runPass(ctx, scheduler, opts)
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := runPass(ctx, scheduler, opts); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runPass(ctx context.Context, scheduler *service.Scheduler, opts service.PassOptions) (service.PassResult, error) {
	start := time.Now()
	res, err := scheduler.RunPass(ctx, opts)
	if err != nil {
		return res, fmt.Errorf("scheduler pass: %w", err)
	}
	slog.Info("pass complete",
		"processed", res.Processed,
		"matched", res.Matched,
		"failed", res.Failed,
		"exhausted", res.Exhausted,
		"duration", time.Since(start))
	return res, nil
}
