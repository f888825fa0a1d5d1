package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/drip/internal/models"
)

func TestSettingsRepository_LazyDefault(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	cfg, err := repo.GetRateLimit(ctx)
	require.NoError(t, err)

	def := models.DefaultRateLimitConfig()
	assert.Equal(t, def.DailyLimit, cfg.DailyLimit)
	assert.Equal(t, def.HourlyLimit, cfg.HourlyLimit)
	assert.Equal(t, def.MinIntervalSeconds, cfg.MinIntervalSeconds)
	assert.Equal(t, def.MaxIntervalSeconds, cfg.MaxIntervalSeconds)
	assert.Equal(t, "08:00", cfg.WorkingHoursStart)
	assert.Equal(t, "20:00", cfg.WorkingHoursEnd)
	assert.True(t, cfg.IsActive)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rate_limit_settings").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestSettingsRepository_Save(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	cfg, err := repo.GetRateLimit(ctx)
	require.NoError(t, err)

	cfg.DailyLimit = 100
	cfg.IsActive = false
	cfg.WorkingHoursEnd = "18:30"
	require.NoError(t, repo.SaveRateLimit(ctx, &cfg))

	got, err := repo.GetRateLimit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, got.DailyLimit)
	assert.False(t, got.IsActive)
	assert.Equal(t, "18:30", got.WorkingHoursEnd)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rate_limit_settings").Scan(&rows))
	assert.Equal(t, 1, rows)
}
