package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxzi/drip/internal/db"
	"github.com/foxzi/drip/internal/models"
)

// setupTestDB creates a temporary SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.Migrate())
	return database.DB
}

func createTestContact(t *testing.T, repo *ContactRepository, name, phone, temperature string) *models.Contact {
	t.Helper()

	c := &models.Contact{
		FullName:    name,
		Phone:       phone,
		IsActive:    true,
		Temperature: temperature,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func createActiveCampaign(t *testing.T, repo *CampaignRepository, name string) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Name:            name,
		MessageTemplate: "hello",
		AudienceRules:   &models.RuleSet{Logic: models.LogicAnd},
	}
	require.NoError(t, repo.Create(context.Background(), c))
	require.NoError(t, repo.MarkLaunched(context.Background(), c.ID, time.Now()))
	return c
}
