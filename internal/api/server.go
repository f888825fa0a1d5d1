package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/config"
	"github.com/foxzi/drip/internal/dispatcher"
	"github.com/foxzi/drip/internal/gateway"
	"github.com/foxzi/drip/internal/inbound"
	"github.com/foxzi/drip/internal/ipfilter"
	"github.com/foxzi/drip/internal/metrics"
	"github.com/foxzi/drip/internal/repository"
)

// StatusProvider reports the dispatcher state
type StatusProvider interface {
	Status() dispatcher.Status
}

// Deps holds the services the API exposes
type Deps struct {
	Campaigns  *campaign.Service
	Contacts   *repository.ContactRepository
	Settings   *repository.SettingsRepository
	Tracker    *inbound.Tracker
	Dispatcher StatusProvider
	// Gateway is optional; without it the status omits the connection state
	Gateway gateway.StateChecker
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.ServerConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	version    string
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.ServerConfig, deps Deps, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "api"),
		version:   version,
		startTime: time.Now(),
	}
	s.filter = ipfilter.New(cfg.AllowedIPs, s.logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)

		r.Post("/contacts", s.handleCreateContact)
		r.Get("/contacts/{id}", s.handleGetContact)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/launch", s.handleLaunchCampaign)
			r.Get("/{id}/stats", s.handleCampaignStats)
			r.Get("/{id}/leads", s.handleCampaignLeads)
		})

		r.Post("/audience/preview", s.handlePreviewAudience)

		r.Get("/settings/rate-limit", s.handleGetRateLimit)
		r.Put("/settings/rate-limit", s.handleUpdateRateLimit)

		r.Post("/inbound", s.handleInbound)

		r.Get("/dispatcher/status", s.handleDispatcherStatus)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
