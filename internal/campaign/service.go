package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/drip/internal/metrics"
	"github.com/foxzi/drip/internal/models"
	"github.com/foxzi/drip/internal/repository"
)

var (
	ErrInvalidID        = errors.New("invalid campaign id")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoAudienceRules  = errors.New("campaign has no audience rules")
	ErrEmptyMessage     = errors.New("campaign has no message content")
	ErrCampaignLocked   = errors.New("campaign content can only be changed while in draft")
	ErrNameRequired     = errors.New("campaign name is required")
)

// AudienceResolver turns rule sets into contact ids
type AudienceResolver interface {
	Resolve(ctx context.Context, rules *models.RuleSet) ([]string, error)
	Preview(ctx context.Context, rules *models.RuleSet, sampleLimit int) (*models.AudiencePreview, error)
}

// Service manages campaign lifecycle: draft, launch, completion
type Service struct {
	campaigns *repository.CampaignRepository
	events    *repository.EventRepository
	resolver  AudienceResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a campaign service
func NewService(campaigns *repository.CampaignRepository, events *repository.EventRepository, resolver AudienceResolver, logger *slog.Logger) *Service {
	return &Service{
		campaigns: campaigns,
		events:    events,
		resolver:  resolver,
		logger:    logger.With("component", "campaign"),
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new draft campaign
func (s *Service) Create(ctx context.Context, c *models.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return ErrNameRequired
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return err
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	return nil
}

// Get returns a campaign by id
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return c, nil
}

// List returns campaigns matching the filter and the total count
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	return s.campaigns.List(ctx, filter)
}

// Update applies changes to a campaign. Audience rules and content are
// frozen once the campaign left draft.
func (s *Service) Update(ctx context.Context, id string, upd *models.CampaignUpdate) (*models.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.ChangesContent() && c.Status != models.CampaignDraft {
		return nil, ErrCampaignLocked
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		c.Name = name
	}
	if upd.AudienceRules != nil {
		c.AudienceRules = upd.AudienceRules
	}
	if upd.MessageTemplate != nil {
		c.MessageTemplate = *upd.MessageTemplate
	}
	if upd.MediaURL != nil {
		c.MediaURL = *upd.MediaURL
	}
	if upd.ExcludedContacts != nil {
		c.ExcludedContacts = upd.ExcludedContacts
	}
	if upd.ScheduledAt != nil {
		at := upd.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}

	if err := s.campaigns.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a campaign together with its send events
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.campaigns.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	s.logger.Info("campaign deleted", "campaign_id", id)
	return nil
}

// Launch resolves the audience and enqueues one send event per
// recipient. Existing events are left alone unless force is set, in which
// case sent and failed events go back to the queue.
func (s *Service) Launch(ctx context.Context, id string, force bool) (*models.LaunchResult, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.AudienceRules == nil {
		return nil, ErrNoAudienceRules
	}
	if !c.HasContent() {
		return nil, ErrEmptyMessage
	}

	contactIDs, err := s.resolver.Resolve(ctx, c.AudienceRules)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}
	contactIDs = exclude(contactIDs, c.ExcludedContacts)

	now := s.now().UTC()
	counts, err := s.events.EnqueueMany(ctx, c.ID, contactIDs, force, now)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue audience: %w", err)
	}

	if err := s.campaigns.MarkLaunched(ctx, c.ID, now); err != nil {
		return nil, err
	}
	if err := s.RefreshStats(ctx, c.ID); err != nil {
		s.logger.Warn("failed to refresh campaign stats", "campaign_id", c.ID, "error", err)
	}

	metrics.IncCampaignLaunched(counts.Queued(), counts.Unchanged)

	s.logger.Info("campaign launched",
		"campaign_id", c.ID,
		"name", c.Name,
		"audience", len(contactIDs),
		"queued", counts.Queued(),
		"requeued", counts.Requeued,
		"skipped", counts.Unchanged,
		"force", force,
	)

	return &models.LaunchResult{
		CampaignID:    c.ID,
		Campaign:      c.Name,
		TotalAudience: len(contactIDs),
		QueuedNow:     counts.Queued(),
		Skipped:       counts.Unchanged,
	}, nil
}

// LaunchDue launches draft campaigns whose scheduled time has passed.
// Failures are logged and do not stop the remaining launches.
func (s *Service) LaunchDue(ctx context.Context) (int, error) {
	due, err := s.campaigns.GetScheduledDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to get scheduled campaigns: %w", err)
	}

	launched := 0
	for _, c := range due {
		if _, err := s.Launch(ctx, c.ID, false); err != nil {
			s.logger.Error("scheduled launch failed", "campaign_id", c.ID, "error", err)
			continue
		}
		launched++
	}
	return launched, nil
}

// CompleteDrained marks active campaigns with an empty queue completed
func (s *Service) CompleteDrained(ctx context.Context) ([]string, error) {
	ids, err := s.campaigns.CompleteDrained(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.RefreshStats(ctx, id); err != nil {
			s.logger.Warn("failed to refresh campaign stats", "campaign_id", id, "error", err)
		}
		s.logger.Info("campaign completed", "campaign_id", id)
	}
	return ids, nil
}

// Preview resolves an audience without enqueueing anything
func (s *Service) Preview(ctx context.Context, rules *models.RuleSet, sampleLimit int) (*models.AudiencePreview, error) {
	return s.resolver.Preview(ctx, rules, sampleLimit)
}

// Stats returns live send statistics for a campaign
func (s *Service) Stats(ctx context.Context, id string) (models.CampaignStats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return models.CampaignStats{}, err
	}
	return s.events.Stats(ctx, id)
}

// Leads returns the per-recipient report for a campaign
func (s *Service) Leads(ctx context.Context, id string) ([]models.CampaignLead, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListByCampaign(ctx, id)
}

// RefreshStats recomputes and persists the aggregate stats of a campaign
func (s *Service) RefreshStats(ctx context.Context, id string) error {
	stats, err := s.events.Stats(ctx, id)
	if err != nil {
		return err
	}
	return s.campaigns.UpdateStats(ctx, id, stats)
}

// Cleanup deletes completed campaigns whose last run is older than the
// retention period. With dryRun only the count is returned.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration, dryRun bool) (int, error) {
	cutoff := s.now().Add(-retention)
	if dryRun {
		return s.campaigns.CountCompletedBefore(ctx, cutoff)
	}

	n, err := s.campaigns.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("completed campaigns cleaned up", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

func exclude(ids, excluded []string) []string {
	if len(excluded) == 0 {
		return ids
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
