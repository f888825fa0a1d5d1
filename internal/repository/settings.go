package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/drip/internal/models"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetRateLimit returns the sending policy, creating the default row on
// first access.
func (r *SettingsRepository) GetRateLimit(ctx context.Context) (models.RateLimitConfig, error) {
	def := models.DefaultRateLimitConfig()
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rate_limit_settings
			(id, daily_limit, hourly_limit, min_interval_seconds, max_interval_seconds,
			 working_hours_start, working_hours_end, is_active, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.DailyLimit, def.HourlyLimit, def.MinIntervalSeconds, def.MaxIntervalSeconds,
		def.WorkingHoursStart, def.WorkingHoursEnd, def.IsActive, utc(time.Now()),
	)
	if err != nil {
		return def, fmt.Errorf("failed to create default rate limit settings: %w", err)
	}

	var cfg models.RateLimitConfig
	err = r.db.QueryRowContext(ctx, `
		SELECT daily_limit, hourly_limit, min_interval_seconds, max_interval_seconds,
			working_hours_start, working_hours_end, is_active, updated_at
		FROM rate_limit_settings WHERE id = 1`,
	).Scan(&cfg.DailyLimit, &cfg.HourlyLimit, &cfg.MinIntervalSeconds, &cfg.MaxIntervalSeconds,
		&cfg.WorkingHoursStart, &cfg.WorkingHoursEnd, &cfg.IsActive, &cfg.UpdatedAt)
	if err != nil {
		return def, fmt.Errorf("failed to get rate limit settings: %w", err)
	}
	return cfg, nil
}

// SaveRateLimit overwrites the sending policy in place
func (r *SettingsRepository) SaveRateLimit(ctx context.Context, cfg *models.RateLimitConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_limit_settings
			(id, daily_limit, hourly_limit, min_interval_seconds, max_interval_seconds,
			 working_hours_start, working_hours_end, is_active, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_limit = excluded.daily_limit,
			hourly_limit = excluded.hourly_limit,
			min_interval_seconds = excluded.min_interval_seconds,
			max_interval_seconds = excluded.max_interval_seconds,
			working_hours_start = excluded.working_hours_start,
			working_hours_end = excluded.working_hours_end,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		cfg.DailyLimit, cfg.HourlyLimit, cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds,
		cfg.WorkingHoursStart, cfg.WorkingHoursEnd, cfg.IsActive, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rate limit settings: %w", err)
	}
	return nil
}
