package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/drip/internal/config"
	"github.com/foxzi/drip/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	v, dirty, err := database.Version()
	if err != nil {
		return err
	}
	fmt.Printf("Migrations completed successfully (version %d, dirty %v)\n", v, dirty)
	return nil
}

// openDB opens and migrates the configured database
func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openConfiguredDB(cfg)
}

func openConfiguredDB(cfg *config.Config) (*db.DB, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
