package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/search-insights/internal/db/models"
)

func TestCredentialStore_UpsertKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, store.Upsert(ctx, "u1", CredentialFields{
		Email:        "a@example.com",
		AccessToken:  "old-access",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
		Scope:        "scope-a",
	}))

	newExpiry := expiry.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, "u1", CredentialFields{
		AccessToken: "new-access",
		Expiry:      newExpiry,
	}))

	cred, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.Equal(t, "scope-a", cred.Scope)
	assert.Equal(t, "a@example.com", cred.Email)
	assert.True(t, cred.Expiry.Equal(newExpiry))
	assert.Equal(t, int64(2), cred.Version)
}

func TestCredentialStore_GetMissing(t *testing.T) {
	store := NewCredentialStore(newTestDB(t))
	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialStore_UpdateIfVersion(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))
	require.NoError(t, store.Upsert(ctx, "u1", CredentialFields{Email: "a@example.com", AccessToken: "a0", RefreshToken: "r0"}))

	ok, err := store.UpdateIfVersion(ctx, "u1", 1, CredentialFields{AccessToken: "a1"})
	require.NoError(t, err)
	assert.True(t, ok)

	// stale version loses
	ok, err = store.UpdateIfVersion(ctx, "u1", 1, CredentialFields{AccessToken: "a2"})
	require.NoError(t, err)
	assert.False(t, ok)

	cred, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.Equal(t, "r0", cred.RefreshToken)
	assert.Equal(t, int64(2), cred.Version)
}

func TestCredentialStore_FindByEmail(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))
	require.NoError(t, store.Upsert(ctx, "u1", CredentialFields{Email: "a@example.com", AccessToken: "a0"}))

	cred, err := store.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", cred.UserID)

	_, err = store.FindByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))

	sess, err := store.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	assert.Len(t, sess.Token, 48)

	userID, err := store.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	require.NoError(t, store.Delete(ctx, sess.Token))
	_, err = store.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Expired(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestDB(t))
	sess, err := store.Create(ctx, "u1", time.Minute)
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = store.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportStore_FreshnessWindow(t *testing.T) {
	ctx := context.Background()
	store := NewReportStore(newTestDB(t))
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.Put(ctx, "u1", "key", `[{"keys":["a"]}]`, 1, created)
	require.NoError(t, err)

	_, fresh, err := store.GetFresh(ctx, "u1", "key", created.Add(23*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	_, fresh, err = store.GetFresh(ctx, "u1", "key", created.Add(24*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh, "exactly 24h old is stale")

	second, err := store.Put(ctx, "u1", "key", `[]`, 0, created.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "report id survives overwrite")
	assert.Equal(t, `[]`, second.Data)
	assert.Equal(t, 0, second.RowCount)

	_, fresh, err = store.GetFresh(ctx, "u2", "key", created, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestIntentStore_UpsertLookupLink(t *testing.T) {
	ctx := context.Background()
	store := NewIntentStore(newTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, []models.IntentRecord{
		{Query: "buy shoes", Intent: "Transactional", Category: "Shopping", FunnelStage: "Decision", MainKeywords: `["shoes"]`, AnalyzedAt: now},
		{Query: "weather today", Intent: "Unknown", Category: "Unknown", FunnelStage: "Unknown", MainKeywords: `[]`, AnalyzedAt: now},
	}))
	// overwrite, not version
	require.NoError(t, store.Upsert(ctx, []models.IntentRecord{
		{Query: "weather today", Intent: "Informational", Category: "Weather", FunnelStage: "Awareness", MainKeywords: `["weather"]`, AnalyzedAt: now},
	}))

	found, err := store.Lookup(ctx, []string{"buy shoes", "weather today", "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "Informational", found["weather today"].Intent)

	var count int64
	require.NoError(t, store.db.Model(&models.IntentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Link(ctx, "r1", []string{"buy shoes", "weather today"}))
	require.NoError(t, store.Link(ctx, "r2", []string{"buy shoes"}))
	linked, err := store.linkedQueries(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy shoes", "weather today"}, linked)
}
