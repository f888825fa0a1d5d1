// Package audience turns declarative audience rules into contact sets.
package audience

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/drip/internal/models"
)

// MaxSample bounds the preview sample size
const MaxSample = 500

// Resolver evaluates rule sets against the contact store. It never writes.
type Resolver struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver
func NewResolver(db *sql.DB, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:     db,
		logger: logger.With("component", "audience"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for relative dates
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Every contact gets a pipeline row on create. The outer join keeps a
// contact without one visible to rules that do not touch pipeline fields.
const fromContacts = ` FROM contacts c LEFT JOIN lead_pipeline p ON p.contact_id = c.id`

func (r *Resolver) compile(rules *models.RuleSet) *Filter {
	f := Compile(rules, r.now())
	for _, cond := range f.Dropped {
		r.logger.Warn("audience condition dropped",
			"field", cond.Field,
			"operator", cond.Operator,
		)
	}
	return f
}

// Resolve returns the IDs of contacts matching rules
func (r *Resolver) Resolve(ctx context.Context, rules *models.RuleSet) ([]string, error) {
	f := r.compile(rules)
	if f.MatchesNothing() {
		return []string{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT c.id"+fromContacts+" WHERE "+f.Where+" ORDER BY c.created_at, c.id", f.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Preview counts matching contacts and returns a bounded sample
func (r *Resolver) Preview(ctx context.Context, rules *models.RuleSet, sampleLimit int) (*models.AudiencePreview, error) {
	start := time.Now()
	if sampleLimit <= 0 || sampleLimit > MaxSample {
		sampleLimit = MaxSample
	}

	preview := &models.AudiencePreview{Sample: []models.AudienceSample{}}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&preview.TotalContacts); err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}

	f := r.compile(rules)
	if !f.MatchesNothing() {
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+fromContacts+" WHERE "+f.Where, f.Args...).Scan(&preview.Count); err != nil {
			return nil, fmt.Errorf("failed to count audience: %w", err)
		}

		args := append(append([]any{}, f.Args...), sampleLimit)
		rows, err := r.db.QueryContext(ctx,
			"SELECT c.id, c.full_name, c.phone_e164, COALESCE(p.temperature, '')"+fromContacts+
				" WHERE "+f.Where+" ORDER BY c.created_at, c.id LIMIT ?", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to sample audience: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var s models.AudienceSample
			if err := rows.Scan(&s.ID, &s.FullName, &s.Phone, &s.Temperature); err != nil {
				return nil, err
			}
			preview.Sample = append(preview.Sample, s)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	preview.QueryTimeMS = float64(time.Since(start).Microseconds()) / 1000
	return preview, nil
}
