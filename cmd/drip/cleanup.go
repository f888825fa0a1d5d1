package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/drip/internal/inbound"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up old data (completed campaigns, inbound message ids)",
	RunE:  runCleanup,
}

var (
	cleanupCampaignDays int
	cleanupDryRun       bool
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupCampaignDays, "days", 90, "Delete completed campaigns last run more than N days ago")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openConfiguredDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	ctx := context.Background()
	retention := time.Duration(cleanupCampaignDays) * 24 * time.Hour

	n, err := newCampaignService(database).Cleanup(ctx, retention, cleanupDryRun)
	if err != nil {
		return fmt.Errorf("failed to cleanup campaigns: %w", err)
	}
	if cleanupDryRun {
		fmt.Printf("Completed campaigns older than %d days: %d\n", cleanupCampaignDays, n)
	} else {
		fmt.Printf("Completed campaigns older than %d days deleted: %d\n", cleanupCampaignDays, n)
	}

	if err := cleanupInbound(ctx, cfg.Inbound.DedupPath, cfg.Inbound.DedupTTL); err != nil {
		return fmt.Errorf("failed to cleanup inbound store: %w", err)
	}

	if !cleanupDryRun {
		fmt.Println("\nCleanup completed")
	}
	return nil
}

func cleanupInbound(ctx context.Context, path string, ttl time.Duration) error {
	store, err := inbound.OpenDedupStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("Inbound message ids stored: %d\n", total)

	if cleanupDryRun || ttl <= 0 {
		return nil
	}

	pruned, err := store.Prune(ctx, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("  Expired ids pruned: %d\n", pruned)
	return nil
}
