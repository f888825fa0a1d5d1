package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/ratelimit"
	"github.com/foxzi/drip/internal/repository"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Rate limit settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current rate limit settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update rate limit settings",
	Example: `  drip settings set --daily 300 --hourly 30
  drip settings set --start 09:00 --end 18:00
  drip settings set --active=false`,
	RunE: runSettingsSet,
}

var (
	settingsDaily       int
	settingsHourly      int
	settingsMinInterval int
	settingsMaxInterval int
	settingsStart       string
	settingsEnd         string
	settingsActive      bool
)

func init() {
	f := settingsSetCmd.Flags()
	f.IntVar(&settingsDaily, "daily", 0, "Maximum messages per day")
	f.IntVar(&settingsHourly, "hourly", 0, "Maximum messages per hour")
	f.IntVar(&settingsMinInterval, "min-interval", 0, "Minimum seconds between messages")
	f.IntVar(&settingsMaxInterval, "max-interval", 0, "Maximum seconds between messages")
	f.StringVar(&settingsStart, "start", "", "Working hours start (HH:MM)")
	f.StringVar(&settingsEnd, "end", "", "Working hours end (HH:MM)")
	f.BoolVar(&settingsActive, "active", true, "Enable or pause sending")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	cfg, err := repository.NewSettingsRepository(database.DB).GetRateLimit(context.Background())
	if err != nil {
		return err
	}

	printRateLimit(cfg)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	var upd models.RateLimitUpdate
	f := cmd.Flags()
	if f.Changed("daily") {
		upd.DailyLimit = &settingsDaily
	}
	if f.Changed("hourly") {
		upd.HourlyLimit = &settingsHourly
	}
	if f.Changed("min-interval") {
		upd.MinIntervalSeconds = &settingsMinInterval
	}
	if f.Changed("max-interval") {
		upd.MaxIntervalSeconds = &settingsMaxInterval
	}
	if f.Changed("start") {
		upd.WorkingHoursStart = &settingsStart
	}
	if f.Changed("end") {
		upd.WorkingHoursEnd = &settingsEnd
	}
	if f.Changed("active") {
		upd.IsActive = &settingsActive
	}

	database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	repo := repository.NewSettingsRepository(database.DB)

	cfg, err := repo.GetRateLimit(ctx)
	if err != nil {
		return err
	}
	upd.Apply(&cfg)

	if err := ratelimit.Validate(cfg); err != nil {
		return err
	}
	if err := repo.SaveRateLimit(ctx, &cfg); err != nil {
		return err
	}

	fmt.Println("Settings updated")
	printRateLimit(cfg)
	return nil
}

func printRateLimit(cfg models.RateLimitConfig) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Active:\t%v\n", cfg.IsActive)
	fmt.Fprintf(w, "Daily limit:\t%d\n", cfg.DailyLimit)
	fmt.Fprintf(w, "Hourly limit:\t%d\n", cfg.HourlyLimit)
	fmt.Fprintf(w, "Interval:\t%d-%ds\n", cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds)
	fmt.Fprintf(w, "Working hours:\t%s-%s\n", cfg.WorkingHoursStart, cfg.WorkingHoursEnd)
	fmt.Fprintf(w, "Updated:\t%s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05"))
	w.Flush()
}
