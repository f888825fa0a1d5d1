package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/foxzi/drip/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the dispatcher",
	RunE:  runServe,
}

var serveNoDispatcher bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoDispatcher, "no-dispatcher", false, "Serve the API without sending queued messages")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, app.Options{
		Version:      version,
		NoDispatcher: serveNoDispatcher,
	})
	if err != nil {
		return err
	}

	return a.Run(context.Background())
}
