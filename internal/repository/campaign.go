package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/drip/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, status, audience_rules, message_template, media_url, excluded_contacts,
	scheduled_at, last_run_at, stats, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var status string
	var rules sql.NullString
	var excluded, stats string
	var scheduledAt, lastRunAt sql.NullTime

	err := row.Scan(&c.ID, &c.Name, &status, &rules, &c.MessageTemplate, &c.MediaURL, &excluded,
		&scheduledAt, &lastRunAt, &stats, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Status = models.CampaignStatus(status)
	c.ScheduledAt = timePtr(scheduledAt)
	c.LastRunAt = timePtr(lastRunAt)

	if rules.Valid && rules.String != "" && rules.String != "null" {
		c.AudienceRules = &models.RuleSet{}
		if err := json.Unmarshal([]byte(rules.String), c.AudienceRules); err != nil {
			return nil, fmt.Errorf("invalid audience rules for campaign %s: %w", c.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(excluded), &c.ExcludedContacts); err != nil {
		return nil, fmt.Errorf("invalid excluded contacts for campaign %s: %w", c.ID, err)
	}
	if c.ExcludedContacts == nil {
		c.ExcludedContacts = []string{}
	}
	if stats != "" {
		if err := json.Unmarshal([]byte(stats), &c.Stats); err != nil {
			return nil, fmt.Errorf("invalid stats for campaign %s: %w", c.ID, err)
		}
	}

	return c, nil
}

func encodeRules(rules *models.RuleSet) (any, error) {
	if rules == nil {
		return nil, nil
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func encodeExcluded(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create inserts a new draft campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.Status = models.CampaignDraft
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.ExcludedContacts == nil {
		c.ExcludedContacts = []string{}
	}

	rules, err := encodeRules(c.AudienceRules)
	if err != nil {
		return fmt.Errorf("failed to encode audience rules: %w", err)
	}
	excluded, err := encodeExcluded(c.ExcludedContacts)
	if err != nil {
		return fmt.Errorf("failed to encode excluded contacts: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, audience_rules, message_template, media_url, excluded_contacts, scheduled_at, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		c.ID, c.Name, string(c.Status), rules, c.MessageTemplate, c.MediaURL, excluded,
		nullTime(c.ScheduledAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering, newest first
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Search != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + campaignColumns + " FROM campaigns" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

// Update saves the editable fields of a campaign
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now().UTC()

	rules, err := encodeRules(c.AudienceRules)
	if err != nil {
		return fmt.Errorf("failed to encode audience rules: %w", err)
	}
	excluded, err := encodeExcluded(c.ExcludedContacts)
	if err != nil {
		return fmt.Errorf("failed to encode excluded contacts: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE campaigns SET name = ?, audience_rules = ?, message_template = ?, media_url = ?,
			excluded_contacts = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, rules, c.MessageTemplate, c.MediaURL, excluded, nullTime(c.ScheduledAt), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// Delete removes a campaign and, through the foreign key, its send events
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// MarkLaunched sets the campaign active and records the run time
func (r *CampaignRepository) MarkLaunched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, last_run_at = ?, updated_at = ? WHERE id = ?`,
		string(models.CampaignActive), utc(at), utc(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark campaign launched: %w", err)
	}
	return nil
}

// GetScheduledDue returns draft campaigns whose scheduled time has passed
func (r *CampaignRepository) GetScheduledDue(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+campaignColumns+` FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`,
		string(models.CampaignDraft), utc(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// CompleteDrained marks active campaigns without queued events as
// completed and returns their IDs.
func (r *CampaignRepository) CompleteDrained(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM campaigns c
		WHERE c.status = ?
		AND NOT EXISTS (SELECT 1 FROM send_events e WHERE e.campaign_id = c.id AND e.status = ?)`,
		string(models.CampaignActive), string(models.EventQueued),
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	completed := ids[:0]
	for _, id := range ids {
		// Re-check under the update so a concurrent launch is not overridden
		result, err := r.db.ExecContext(ctx, `
			UPDATE campaigns SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
			AND NOT EXISTS (SELECT 1 FROM send_events e WHERE e.campaign_id = campaigns.id AND e.status = ?)`,
			string(models.CampaignCompleted), utc(now), id, string(models.CampaignActive), string(models.EventQueued),
		)
		if err != nil {
			return completed, fmt.Errorf("failed to complete campaign %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			completed = append(completed, id)
		}
	}
	return completed, nil
}

// UpdateStats persists aggregated campaign statistics
func (r *CampaignRepository) UpdateStats(ctx context.Context, id string, stats models.CampaignStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "UPDATE campaigns SET stats = ? WHERE id = ?", string(data), id)
	return err
}

// DeleteCompletedBefore removes completed campaigns whose last run is
// older than cutoff. Returns the number of deleted campaigns.
func (r *CampaignRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns WHERE status = ? AND last_run_at IS NOT NULL AND last_run_at < ?`,
		string(models.CampaignCompleted), utc(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete campaigns: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// CountCompletedBefore counts campaigns DeleteCompletedBefore would remove
func (r *CampaignRepository) CountCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns WHERE status = ? AND last_run_at IS NOT NULL AND last_run_at < ?`,
		string(models.CampaignCompleted), utc(cutoff),
	).Scan(&n)
	return n, err
}
