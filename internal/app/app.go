package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/foxzi/drip/internal/api"
	"github.com/foxzi/drip/internal/audience"
	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/config"
	"github.com/foxzi/drip/internal/db"
	"github.com/foxzi/drip/internal/dispatcher"
	"github.com/foxzi/drip/internal/gateway"
	"github.com/foxzi/drip/internal/inbound"
	"github.com/foxzi/drip/internal/metrics"
	"github.com/foxzi/drip/internal/ratelimit"
	"github.com/foxzi/drip/internal/repository"
)

// App is the main application
type App struct {
	config *config.Config
	logger *slog.Logger

	db         *db.DB
	dedup      *inbound.DedupStore
	cleaner    *inbound.Cleaner
	dispatcher *dispatcher.Dispatcher
	apiServer  *api.Server

	metricsServer    *metrics.Server
	metricsCollector *metrics.Collector
}

// Options tweaks what New starts
type Options struct {
	Version string
	// NoDispatcher serves the API without draining the queue
	NoDispatcher bool
}

// New creates a new application
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	dedup, err := inbound.OpenDedupStore(cfg.Inbound.DedupPath)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open inbound store: %w", err)
	}

	loc, err := cfg.Dispatcher.Location()
	if err != nil {
		database.Close()
		dedup.Close()
		return nil, err
	}

	contacts := repository.NewContactRepository(database.DB)
	events := repository.NewEventRepository(database.DB)
	campaigns := repository.NewCampaignRepository(database.DB)
	settings := repository.NewSettingsRepository(database.DB)

	resolver := audience.NewResolver(database.DB, logger)
	campaignSvc := campaign.NewService(campaigns, events, resolver, logger)
	governor := ratelimit.NewGovernor(events, loc, logger)
	gw := gateway.New(GatewayOptions(cfg.Gateway), logger)
	tracker := inbound.NewTracker(contacts, events, dedup, cfg.Dispatcher.ReplyWindow, logger)

	a := &App{
		config:  cfg,
		logger:  logger,
		db:      database,
		dedup:   dedup,
		cleaner: inbound.NewCleaner(dedup, cfg.Inbound.DedupTTL, cfg.Inbound.CleanupInterval, logger),
	}

	if !opts.NoDispatcher {
		a.dispatcher = dispatcher.New(DispatcherConfig(cfg.Dispatcher),
			campaignSvc, events, contacts, settings, governor, gw, logger)
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.metricsCollector = metrics.NewCollector(m, events, cfg.Metrics.CollectInterval, logger)
	}

	deps := api.Deps{
		Campaigns: campaignSvc,
		Contacts:  contacts,
		Settings:  settings,
		Tracker:   tracker,
		Gateway:   gw,
	}
	if a.dispatcher != nil {
		deps.Dispatcher = a.dispatcher
	}
	a.apiServer = api.NewServer(&cfg.Server, deps, opts.Version, logger)

	return a, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting drip",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"gateway_configured", a.config.Gateway.Configured(),
		"dispatcher", a.dispatcher != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	if a.dispatcher != nil {
		if err := a.dispatcher.Start(); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
	}
	a.cleaner.Start(ctx)

	if a.metricsServer != nil {
		a.metricsCollector.Start(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop taking work first; an in-flight send is left queued
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		a.metricsCollector.Stop()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.cleaner.Stop()

	if err := a.dedup.Close(); err != nil {
		a.logger.Error("inbound store close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// GatewayOptions converts the gateway section into client options
func GatewayOptions(cfg config.GatewayConfig) gateway.Options {
	return gateway.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Instance:          cfg.Instance,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		DryRun:            cfg.DryRun,
	}
}

// DispatcherConfig converts the dispatcher section into loop settings
func DispatcherConfig(cfg config.DispatcherConfig) dispatcher.Config {
	return dispatcher.Config{
		TickInterval: cfg.TickInterval,
		BatchSize:    cfg.BatchSize,
		SendTimeout:  cfg.SendTimeout,
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
