package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/drip/internal/models"
)

// ErrEventNotQueued is returned when a status transition loses a race:
// the event is no longer queued, or no longer exists.
var ErrEventNotQueued = errors.New("event is not queued")

// EventRepository is the durable send queue
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, campaign_id, contact_id, status, error, provider_message_id, enqueued_at, sent_at, replied_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.SendEvent, error) {
	e := &models.SendEvent{}
	var status string
	var sentAt, repliedAt sql.NullTime
	err := row.Scan(&e.ID, &e.CampaignID, &e.ContactID, &status, &e.Error, &e.ProviderMessageID,
		&e.EnqueuedAt, &sentAt, &repliedAt)
	if err != nil {
		return nil, err
	}
	e.Status = models.EventStatus(status)
	e.SentAt = timePtr(sentAt)
	e.RepliedAt = timePtr(repliedAt)
	return e, nil
}

// GetByID returns an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.SendEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM send_events WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the event for a (campaign, contact) pair
func (r *EventRepository) Get(ctx context.Context, campaignID, contactID string) (*models.SendEvent, error) {
	return getPair(ctx, r.db, campaignID, contactID)
}

func getPair(ctx context.Context, q querier, campaignID, contactID string) (*models.SendEvent, error) {
	e, err := scanEvent(q.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM send_events WHERE campaign_id = ? AND contact_id = ?",
		campaignID, contactID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Enqueue queues a send for the pair. An existing event is left alone
// unless force is set and the event already left the queue, in which case
// it is reset to queued and moved to the back of the FIFO.
func (r *EventRepository) Enqueue(ctx context.Context, campaignID, contactID string, force bool, now time.Time) (*models.SendEvent, models.EnqueueOutcome, error) {
	return enqueue(ctx, r.db, campaignID, contactID, force, now)
}

// EnqueueMany enqueues all contacts in a single transaction
func (r *EventRepository) EnqueueMany(ctx context.Context, campaignID string, contactIDs []string, force bool, now time.Time) (models.EnqueueCounts, error) {
	var counts models.EnqueueCounts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, err
	}
	defer tx.Rollback()

	for _, contactID := range contactIDs {
		_, outcome, err := enqueue(ctx, tx, campaignID, contactID, force, now)
		if err != nil {
			return models.EnqueueCounts{}, err
		}
		counts.Add(outcome)
	}

	if err := tx.Commit(); err != nil {
		return models.EnqueueCounts{}, fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return counts, nil
}

func enqueue(ctx context.Context, q querier, campaignID, contactID string, force bool, now time.Time) (*models.SendEvent, models.EnqueueOutcome, error) {
	existing, err := getPair(ctx, q, campaignID, contactID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up event: %w", err)
	}

	if existing == nil {
		e := &models.SendEvent{
			ID:         uuid.New().String(),
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     models.EventQueued,
			EnqueuedAt: utc(now),
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO send_events (id, campaign_id, contact_id, status, enqueued_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.CampaignID, e.ContactID, string(e.Status), e.EnqueuedAt,
		)
		if err != nil {
			return nil, "", fmt.Errorf("failed to enqueue event: %w", err)
		}
		return e, models.EnqueueCreated, nil
	}

	if !force || existing.Status == models.EventQueued {
		return existing, models.EnqueueUnchanged, nil
	}

	_, err = q.ExecContext(ctx, `
		UPDATE send_events
		SET status = ?, sent_at = NULL, replied_at = NULL, error = '', provider_message_id = '', enqueued_at = ?
		WHERE id = ?`,
		string(models.EventQueued), utc(now), existing.ID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to requeue event: %w", err)
	}

	existing.Status = models.EventQueued
	existing.SentAt = nil
	existing.RepliedAt = nil
	existing.Error = ""
	existing.ProviderMessageID = ""
	existing.EnqueuedAt = utc(now)
	return existing, models.EnqueueRequeued, nil
}

// NextEligible returns the oldest queued event belonging to an active
// campaign, or nil if there is none.
func (r *EventRepository) NextEligible(ctx context.Context) (*models.SendEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT e.id, e.campaign_id, e.contact_id, e.status, e.error, e.provider_message_id, e.enqueued_at, e.sent_at, e.replied_at
		FROM send_events e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE e.status = ? AND c.status = ?
		ORDER BY e.enqueued_at, e.rowid
		LIMIT 1`,
		string(models.EventQueued), string(models.CampaignActive),
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next event: %w", err)
	}
	return e, nil
}

// MarkSent moves a queued event to sent
func (r *EventRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string) error {
	return r.transition(ctx, `
		UPDATE send_events SET status = ?, sent_at = ?, provider_message_id = ?, error = ''
		WHERE id = ? AND status = ?`,
		string(models.EventSent), utc(sentAt), providerMessageID, id, string(models.EventQueued),
	)
}

// MarkFailed moves a queued event to failed
func (r *EventRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, `
		UPDATE send_events SET status = ?, error = ?
		WHERE id = ? AND status = ?`,
		string(models.EventFailed), reason, id, string(models.EventQueued),
	)
}

func (r *EventRepository) transition(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotQueued
	}
	return nil
}

// CountSentSince returns the number of events sent at or after since
func (r *EventRepository) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM send_events WHERE status = ? AND sent_at >= ?",
		string(models.EventSent), utc(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent events: %w", err)
	}
	return n, nil
}

// LastSentAt returns the time of the most recent send, or nil
func (r *EventRepository) LastSentAt(ctx context.Context) (*time.Time, error) {
	var sentAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT sent_at FROM send_events
		WHERE status = ? AND sent_at IS NOT NULL
		ORDER BY sent_at DESC LIMIT 1`,
		string(models.EventSent),
	).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last send time: %w", err)
	}
	return timePtr(sentAt), nil
}

// CountQueued returns the number of queued events across all campaigns
func (r *EventRepository) CountQueued(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM send_events WHERE status = ?", string(models.EventQueued),
	).Scan(&n)
	return n, err
}

// Stats aggregates event counts for a campaign
func (r *EventRepository) Stats(ctx context.Context, campaignID string) (models.CampaignStats, error) {
	var stats models.CampaignStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN replied_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM send_events WHERE campaign_id = ?`, campaignID,
	).Scan(&stats.Total, &stats.Queued, &stats.Sent, &stats.Failed, &stats.Replied)
	if err != nil {
		return stats, fmt.Errorf("failed to get campaign stats: %w", err)
	}
	return stats, nil
}

// ListByCampaign returns one row per recipient of the campaign
func (r *EventRepository) ListByCampaign(ctx context.Context, campaignID string) ([]models.CampaignLead, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.contact_id, c.full_name, c.phone_e164, e.status, e.error, e.enqueued_at, e.sent_at, e.replied_at,
			COALESCE(p.temperature, ''), COALESCE(p.stage, '')
		FROM send_events e
		JOIN contacts c ON c.id = e.contact_id
		LEFT JOIN lead_pipeline p ON p.contact_id = e.contact_id
		WHERE e.campaign_id = ?
		ORDER BY e.enqueued_at, e.rowid`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []models.CampaignLead{}
	for rows.Next() {
		var l models.CampaignLead
		var status, stage string
		var sentAt, repliedAt sql.NullTime
		if err := rows.Scan(&l.EventID, &l.ContactID, &l.FullName, &l.Phone, &status, &l.Error, &l.EnqueuedAt,
			&sentAt, &repliedAt, &l.Temperature, &stage); err != nil {
			return nil, err
		}
		l.Status = models.EventStatus(status)
		l.Stage = models.Stage(stage)
		l.SentAt = timePtr(sentAt)
		l.RepliedAt = timePtr(repliedAt)
		l.Replied = l.RepliedAt != nil
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// MarkReplied attributes an inbound reply to the contact's most recent
// sent event within window. Returns the updated event ID, or "" when no
// event qualifies.
func (r *EventRepository) MarkReplied(ctx context.Context, contactID string, now time.Time, window time.Duration) (string, error) {
	// One statement, so concurrent replies cannot claim the same event twice
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE send_events SET replied_at = ?
		WHERE replied_at IS NULL AND id = (
			SELECT id FROM send_events
			WHERE contact_id = ? AND status = ? AND replied_at IS NULL AND sent_at >= ?
			ORDER BY sent_at DESC LIMIT 1
		)
		RETURNING id`,
		utc(now), contactID, string(models.EventSent), utc(now.Add(-window)),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark event replied: %w", err)
	}
	return id, nil
}
