package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foxzi/drip/internal/campaign"
	"github.com/foxzi/drip/internal/dispatcher"
	"github.com/foxzi/drip/internal/gateway"
	"github.com/foxzi/drip/internal/inbound"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/ratelimit"
)

const (
	defaultPageSize   = 50
	maxPageSize       = 500
	defaultSampleSize = 10
	maxSampleSize     = 500
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContactRequest is the request body for POST /contacts
type ContactRequest struct {
	FullName    string       `json:"full_name"`
	Phone       string       `json:"phone"`
	Email       string       `json:"email"`
	Source      string       `json:"source"`
	Type        string       `json:"type"`
	IsActive    *bool        `json:"is_active"`
	OptIn       bool         `json:"opt_in"`
	Stage       models.Stage `json:"stage"`
	Temperature string       `json:"temperature"`
	Score       int          `json:"score"`
}

// CampaignRequest is the request body for POST /campaigns
type CampaignRequest struct {
	Name             string          `json:"name"`
	AudienceRules    *models.RuleSet `json:"audience_rules"`
	MessageTemplate  string          `json:"message_template"`
	MediaURL         string          `json:"media_url"`
	ExcludedContacts []string        `json:"excluded_contacts"`
	ScheduledAt      *time.Time      `json:"scheduled_at"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// LeadsResponse is the response for GET /campaigns/{id}/leads
type LeadsResponse struct {
	CampaignID string                `json:"campaign_id"`
	Leads      []models.CampaignLead `json:"leads"`
	Total      int                   `json:"total"`
}

// PreviewRequest is the request body for POST /audience/preview
type PreviewRequest struct {
	Rules       *models.RuleSet `json:"rules"`
	SampleLimit int             `json:"sample_limit"`
}

// DispatcherStatusResponse is the response for GET /dispatcher/status
type DispatcherStatusResponse struct {
	Dispatcher dispatcher.Status        `json:"dispatcher"`
	Gateway    *gateway.ConnectionState `json:"gateway,omitempty"`
	GatewayErr string                   `json:"gateway_error,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleCreateContact handles POST /api/v1/contacts
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		s.sendError(w, http.StatusBadRequest, "full_name is required")
		return
	}
	digits, err := gateway.NormalizeNumber(req.Phone)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Stage != "" && !req.Stage.Valid() {
		s.sendError(w, http.StatusBadRequest, "invalid stage")
		return
	}

	phone := "+" + digits
	existing, err := s.deps.Contacts.FindByPhone(r.Context(), phone)
	if err != nil {
		s.logger.Error("failed to look up contact", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}
	if existing != nil {
		s.sendError(w, http.StatusConflict, "contact with this phone already exists")
		return
	}

	c := &models.Contact{
		FullName:    req.FullName,
		Phone:       phone,
		Email:       req.Email,
		Source:      req.Source,
		Type:        req.Type,
		IsActive:    req.IsActive == nil || *req.IsActive,
		OptIn:       req.OptIn,
		Stage:       req.Stage,
		Temperature: req.Temperature,
		Score:       req.Score,
	}
	if err := s.deps.Contacts.Create(r.Context(), c); err != nil {
		s.logger.Error("failed to create contact", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// handleGetContact handles GET /api/v1/contacts/{id}
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	c, err := s.deps.Contacts.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get contact", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "contact not found")
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CampaignListFilter{
		Status: models.CampaignStatus(q.Get("status")),
		Search: q.Get("search"),
		Limit:  queryInt(q.Get("limit"), defaultPageSize, 1, maxPageSize),
		Offset: queryInt(q.Get("offset"), 0, 0, -1),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.sendError(w, http.StatusBadRequest, "invalid status")
		return
	}

	campaigns, total, err := s.deps.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{
		Campaigns: campaigns,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := &models.Campaign{
		Name:             req.Name,
		AudienceRules:    req.AudienceRules,
		MessageTemplate:  req.MessageTemplate,
		MediaURL:         req.MediaURL,
		ExcludedContacts: req.ExcludedContacts,
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}

	if err := s.deps.Campaigns.Create(r.Context(), c); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var upd models.CampaignUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.deps.Campaigns.Update(r.Context(), chi.URLParam(r, "id"), &upd)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Campaigns.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// handleLaunchCampaign handles POST /api/v1/campaigns/{id}/launch
func (s *Server) handleLaunchCampaign(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := s.deps.Campaigns.Launch(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleCampaignLeads handles GET /api/v1/campaigns/{id}/leads
func (s *Server) handleCampaignLeads(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	leads, err := s.deps.Campaigns.Leads(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if leads == nil {
		leads = []models.CampaignLead{}
	}
	s.sendJSON(w, http.StatusOK, LeadsResponse{CampaignID: id, Leads: leads, Total: len(leads)})
}

// handlePreviewAudience handles POST /api/v1/audience/preview
func (s *Server) handlePreviewAudience(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rules == nil {
		req.Rules = &models.RuleSet{Logic: models.LogicAnd}
	}
	switch {
	case req.SampleLimit <= 0:
		req.SampleLimit = defaultSampleSize
	case req.SampleLimit > maxSampleSize:
		req.SampleLimit = maxSampleSize
	}

	preview, err := s.deps.Campaigns.Preview(r.Context(), req.Rules, req.SampleLimit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, preview)
}

// handleGetRateLimit handles GET /api/v1/settings/rate-limit
func (s *Server) handleGetRateLimit(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.GetRateLimit(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleUpdateRateLimit handles PUT /api/v1/settings/rate-limit
func (s *Server) handleUpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	var upd models.RateLimitUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := s.deps.Settings.GetRateLimit(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	upd.Apply(&cfg)

	if err := ratelimit.Validate(cfg); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.deps.Settings.SaveRateLimit(r.Context(), &cfg); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("rate limit settings updated",
		"daily_limit", cfg.DailyLimit,
		"hourly_limit", cfg.HourlyLimit,
		"is_active", cfg.IsActive,
	)
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleInbound handles POST /api/v1/inbound
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var hook inbound.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Tracker.Handle(r.Context(), hook.ToMessage())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleDispatcherStatus handles GET /api/v1/dispatcher/status
func (s *Server) handleDispatcherStatus(w http.ResponseWriter, r *http.Request) {
	var resp DispatcherStatusResponse
	if s.deps.Dispatcher != nil {
		resp.Dispatcher = s.deps.Dispatcher.Status()
	}

	if s.deps.Gateway != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		state, err := s.deps.Gateway.ConnectionState(ctx)
		if err != nil {
			resp.GatewayErr = err.Error()
		} else {
			resp.Gateway = state
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// writeServiceError maps domain errors to HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrInvalidID):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, campaign.ErrCampaignNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrNameRequired),
		errors.Is(err, campaign.ErrNoAudienceRules),
		errors.Is(err, campaign.ErrEmptyMessage),
		errors.Is(err, ratelimit.ErrInvalidRateLimit),
		errors.Is(err, inbound.ErrMissingPhone):
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrCampaignLocked):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// queryInt parses an integer query value, clamping to [lo, hi]; a
// negative hi means no upper bound
func queryInt(v string, def, lo, hi int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if hi >= 0 && n > hi {
		return hi
	}
	return n
}
