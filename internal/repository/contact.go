package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/drip/internal/models"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `
	c.id, c.full_name, c.phone_e164, c.email, c.source, c.type, c.is_active, c.opt_in,
	COALESCE(p.stage, 'novo'), COALESCE(p.temperature, ''), COALESCE(p.score, 0), COALESCE(p.unread_count, 0),
	c.last_interaction_at, c.created_at`

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	c := &models.Contact{}
	var stage string
	var lastInteraction sql.NullTime
	err := row.Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &c.Source, &c.Type, &c.IsActive, &c.OptIn,
		&stage, &c.Temperature, &c.Score, &c.UnreadCount, &lastInteraction, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Stage = models.Stage(stage)
	c.LastInteractionAt = timePtr(lastInteraction)
	return c, nil
}

// Create inserts a contact together with its pipeline row
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Stage == "" {
		c.Stage = models.StageNew
	}
	if c.Temperature == "" {
		c.Temperature = models.TemperatureCold
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (id, full_name, phone_e164, email, source, type, is_active, opt_in, last_interaction_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FullName, c.Phone, c.Email, c.Source, c.Type, c.IsActive, c.OptIn,
		nullTime(c.LastInteractionAt), utc(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lead_pipeline (contact_id, stage, temperature, score, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Stage), c.Temperature, c.Score, c.UnreadCount, utc(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline entry: %w", err)
	}

	return tx.Commit()
}

// GetByID returns a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		LEFT JOIN lead_pipeline p ON p.contact_id = c.id
		WHERE c.id = ?`, id)

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByPhone returns the contact whose phone matches digits, ignoring
// the leading plus sign.
func (r *ContactRepository) FindByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	digits := strings.TrimPrefix(phone, "+")
	row := r.db.QueryRowContext(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		LEFT JOIN lead_pipeline p ON p.contact_id = c.id
		WHERE REPLACE(c.phone_e164, '+', '') = ?
		ORDER BY c.created_at
		LIMIT 1`, digits)

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns contacts ordered by creation time
func (r *ContactRepository) List(ctx context.Context, limit, offset int) ([]models.Contact, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+contactColumns+`
		FROM contacts c
		LEFT JOIN lead_pipeline p ON p.contact_id = c.id
		ORDER BY c.created_at, c.id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, total, rows.Err()
}

// AdvanceStage moves the contact to stage to, but only while it is in
// stage from. Returns true if the row changed.
func (r *ContactRepository) AdvanceStage(ctx context.Context, contactID string, from, to models.Stage) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE lead_pipeline SET stage = ?, updated_at = ?
		WHERE contact_id = ? AND stage = ?`,
		string(to), utc(time.Now()), contactID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance stage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchInteraction records the time of the contact's latest inbound message
func (r *ContactRepository) TouchInteraction(ctx context.Context, contactID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE contacts SET last_interaction_at = ? WHERE id = ?", utc(at), contactID)
	return err
}

// IncrementUnread bumps the contact's unread inbound message counter
func (r *ContactRepository) IncrementUnread(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lead_pipeline SET unread_count = unread_count + 1, updated_at = ?
		WHERE contact_id = ?`, utc(time.Now()), contactID)
	return err
}
