package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/drip/internal/audience"
	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/db"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/repository"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignLaunchCmd = &cobra.Command{
	Use:   "launch <campaign_id>",
	Short: "Queue a campaign for its audience",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignLaunch,
}

var campaignStatsCmd = &cobra.Command{
	Use:   "stats <campaign_id>",
	Short: "Show send statistics for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignStats,
}

var (
	campaignListStatus string
	campaignListLimit  int
	campaignForce      bool
)

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, active, completed)")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum campaigns to show")
	campaignLaunchCmd.Flags().BoolVar(&campaignForce, "force", false, "Re-queue recipients that were already sent or failed")

	campaignCmd.AddCommand(campaignListCmd)
	campaignCmd.AddCommand(campaignLaunchCmd)
	campaignCmd.AddCommand(campaignStatsCmd)
}

func newCampaignService(database *db.DB) *campaign.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := repository.NewEventRepository(database.DB)
	return campaign.NewService(
		repository.NewCampaignRepository(database.DB),
		events,
		audience.NewResolver(database.DB, logger),
		logger,
	)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	campaigns, total, err := newCampaignService(database).List(context.Background(), models.CampaignListFilter{
		Status: models.CampaignStatus(campaignListStatus),
		Limit:  campaignListLimit,
	})
	if err != nil {
		return err
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOTAL\tQUEUED\tSENT\tFAILED\tREPLIED\tLAST RUN")
	for _, c := range campaigns {
		lastRun := "-"
		if c.LastRunAt != nil {
			lastRun = c.LastRunAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			c.ID, c.Name, c.Status,
			c.Stats.Total, c.Stats.Queued, c.Stats.Sent, c.Stats.Failed, c.Stats.Replied,
			lastRun)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d campaigns\n", len(campaigns), total)
	return nil
}

func runCampaignLaunch(cmd *cobra.Command, args []string) error {
	database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	res, err := newCampaignService(database).Launch(context.Background(), args[0], campaignForce)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign %q launched\n", res.Campaign)
	fmt.Printf("  Audience: %d\n", res.TotalAudience)
	fmt.Printf("  Queued:   %d\n", res.QueuedNow)
	fmt.Printf("  Skipped:  %d\n", res.Skipped)
	return nil
}

func runCampaignStats(cmd *cobra.Command, args []string) error {
	database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	svc := newCampaignService(database)
	ctx := context.Background()

	c, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	stats, err := svc.Stats(ctx, c.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Campaign:\t%s (%s)\n", c.Name, c.Status)
	fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
	fmt.Fprintf(w, "Queued:\t%d\n", stats.Queued)
	fmt.Fprintf(w, "Sent:\t%d\n", stats.Sent)
	fmt.Fprintf(w, "Failed:\t%d\n", stats.Failed)
	fmt.Fprintf(w, "Replied:\t%d\n", stats.Replied)
	if stats.Sent > 0 {
		fmt.Fprintf(w, "Reply rate:\t%.1f%%\n", float64(stats.Replied)*100/float64(stats.Sent))
	}
	w.Flush()
	return nil
}
