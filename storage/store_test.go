package storage

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle-go/models"
)

func sampleProfile() *models.UserProfile {
	orgID := uuid.New()
	return &models.UserProfile{
		ID:            uuid.New(),
		Email:         "user@example.com",
		Name:          "Test User",
		AccountStatus: models.AccountVerified,
		EmailVerified: true,
		CurrentOrgID:  &orgID,
		Memberships: []models.Membership{
			{OrgID: orgID, OrgName: "Acme", Role: models.RoleOwner},
		},
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()

	store.SetToken(KeyAccessToken, "access-1")
	store.SetToken(KeyRefreshToken, "refresh-1")
	assert.Equal(t, "access-1", store.GetToken(KeyAccessToken))
	assert.Equal(t, "refresh-1", store.GetToken(KeyRefreshToken))

	store.RemoveToken(KeyAccessToken)
	assert.Equal(t, "", store.GetToken(KeyAccessToken))

	profile := sampleProfile()
	store.SetUser(profile)
	assert.Equal(t, profile, store.GetUser())

	store.ClearAll()
	assert.Equal(t, "", store.GetToken(KeyRefreshToken))
	assert.Nil(t, store.GetUser())
}

func TestMemoryStore_SetSessionKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	store := NewMemoryStore()
	store.SetToken(KeyRefreshToken, "refresh-old")

	store.SetSession(&models.TokenPair{AccessToken: "access-2"}, sampleProfile())

	assert.Equal(t, "access-2", store.GetToken(KeyAccessToken))
	assert.Equal(t, "refresh-old", store.GetToken(KeyRefreshToken))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store := NewSQLiteStore(path, zap.NewNop())
	_, degraded := store.(*NoopStore)
	require.False(t, degraded)

	store.SetToken(KeyAccessToken, "access-1")
	store.SetToken(KeyRefreshToken, "refresh-1")
	assert.Equal(t, "access-1", store.GetToken(KeyAccessToken))
	assert.Equal(t, "refresh-1", store.GetToken(KeyRefreshToken))

	profile := sampleProfile()
	store.SetUser(profile)
	got := store.GetUser()
	require.NotNil(t, got)
	assert.Equal(t, profile.ID, got.ID)
	assert.Equal(t, profile.Email, got.Email)
	assert.Equal(t, profile.Memberships, got.Memberships)

	store.SetSession(&models.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, profile)
	assert.Equal(t, "access-2", store.GetToken(KeyAccessToken))
	assert.Equal(t, "refresh-2", store.GetToken(KeyRefreshToken))

	store.ClearAll()
	assert.Equal(t, "", store.GetToken(KeyAccessToken))
	assert.Nil(t, store.GetUser())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	store := NewSQLiteStore(path, zap.NewNop())
	store.SetToken(KeyAccessToken, "access-1")
	require.NoError(t, store.(*SQLiteStore).Close())

	reopened := NewSQLiteStore(path, zap.NewNop())
	assert.Equal(t, "access-1", reopened.GetToken(KeyAccessToken))
}

func TestNewSQLiteStore_DegradesWhenMediumUnavailable(t *testing.T) {
	// A directory path is not a usable database file.
	store := NewSQLiteStore(t.TempDir(), zap.NewNop())

	_, degraded := store.(*NoopStore)
	assert.True(t, degraded)

	// Degraded stores are silent no-ops across the whole contract.
	store.SetToken(KeyAccessToken, "access-1")
	assert.Equal(t, "", store.GetToken(KeyAccessToken))
	store.SetUser(sampleProfile())
	assert.Nil(t, store.GetUser())
	store.SetSession(&models.TokenPair{AccessToken: "a"}, sampleProfile())
	store.RemoveToken(KeyAccessToken)
	store.ClearAll()
}

func TestNewSQLStore_ProbeFailureDegrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS session_kv").
		WillReturnError(assert.AnError)
	mock.ExpectClose()

	store := newSQLStore(db, zap.NewNop())
	_, degraded := store.(*NoopStore)
	assert.True(t, degraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
