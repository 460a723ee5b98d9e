package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db"
	"github.com/pysugar/search-insights/internal/db/dbtest"
	"github.com/pysugar/search-insights/internal/db/models"
)

type fakeRefresher struct {
	calls  atomic.Int32
	result RefreshResult
	err    error
	// gate, when set, blocks each call until closed.
	gate chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

type failingUpsertStore struct {
	*db.CredentialStore
}

func (s failingUpsertStore) Upsert(ctx context.Context, userID string, f db.CredentialFields) error {
	return errors.New("disk full")
}

// lostRaceStore always loses the version check and cannot reload.
type lostRaceStore struct {
	*db.CredentialStore
}

func (s lostRaceStore) UpdateIfVersion(ctx context.Context, userID string, version int64, f db.CredentialFields) (bool, error) {
	return false, nil
}

func (s lostRaceStore) Get(ctx context.Context, userID string) (*models.Credential, error) {
	return nil, errors.New("connection reset")
}

func testTokenConfig() config.TokenConfig {
	return config.Default().Token
}

func newTestManager(t *testing.T, refresher Refresher, cfg config.TokenConfig) (*Manager, *db.CredentialStore, time.Time) {
	t.Helper()
	store := db.NewCredentialStore(dbtest.New(t))
	mgr := NewManager(store, refresher, cfg, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }
	return mgr, store, now
}

func seedCredential(t *testing.T, store *db.CredentialStore, userID string, expiry time.Time) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), userID, db.CredentialFields{
		Email:        userID + "@example.com",
		AccessToken:  "old-access",
		RefreshToken: "stored-refresh",
		Expiry:       expiry,
		Scope:        "scope-a",
	}))
}

func TestGetValidAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	refresher := &fakeRefresher{}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(6*time.Minute))

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestGetValidAccessToken_WithinSkewRefreshes(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access", ExpiresIn: 45 * time.Minute}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(4*time.Minute))

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.Equal(t, int32(1), refresher.calls.Load())

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.WithinDuration(t, now.Add(45*time.Minute), cred.Expiry, time.Second)
}

func TestGetValidAccessToken_ExactSkewBoundaryIsExpired(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(5*time.Minute))

	_, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestGetValidAccessToken_DefaultExpiresIn(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(-time.Hour))

	_, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(3600*time.Second), cred.Expiry, time.Second)
}

func TestGetValidAccessToken_RetainsRefreshTokenWhenNotRotated(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new", ExpiresIn: 1800 * time.Second}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(-time.Second))

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.AccessToken)
	assert.Equal(t, "stored-refresh", cred.RefreshToken)
	assert.Equal(t, "scope-a", cred.Scope)
	assert.WithinDuration(t, now.Add(1800*time.Second), cred.Expiry, time.Second)
}

func TestGetValidAccessToken_StoresRotatedRefreshToken(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new", RefreshToken: "rotated"}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(-time.Second))

	_, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "rotated", cred.RefreshToken)
}

func TestGetValidAccessToken_CredentialNotFound(t *testing.T) {
	mgr, _, _ := newTestManager(t, &fakeRefresher{}, testTokenConfig())

	_, err := mgr.GetValidAccessToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestGetValidAccessToken_RefreshFailure(t *testing.T) {
	providerErr := errors.New(`oauth2: "invalid_grant" "Token has been expired or revoked."`)
	mgr, store, now := newTestManager(t, &fakeRefresher{err: providerErr}, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	assert.Empty(t, tok)
	assert.ErrorIs(t, err, ErrTokenRefreshFailed)
	assert.ErrorIs(t, err, providerErr)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", cred.AccessToken, "failed refresh must not touch storage")
}

func TestGetValidAccessToken_MissingRefreshToken(t *testing.T) {
	refresher := &fakeRefresher{}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	require.NoError(t, store.Upsert(context.Background(), "u1", db.CredentialFields{
		AccessToken: "old-access",
		Expiry:      now.Add(-time.Minute),
	}))

	_, err := mgr.GetValidAccessToken(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrTokenRefreshFailed)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestGetValidAccessToken_PersistFailureStillReturnsToken(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(-time.Minute))
	mgr.store = failingUpsertStore{store}

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	assert.Equal(t, "new-access", tok)
	assert.ErrorIs(t, err, ErrTokenPersistFailed)

	tok, err = mgr.AccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
}

func TestGetValidAccessToken_DedupCollapsesConcurrentRefreshes(t *testing.T) {
	cfg := testTokenConfig()
	cfg.RefreshDedup = true
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}, gate: make(chan struct{})}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = mgr.GetValidAccessToken(context.Background(), "u1")
		}(i)
	}

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(refresher.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", tokens[i])
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestGetValidAccessToken_DedupSurvivesCancelledLeader(t *testing.T) {
	cfg := testTokenConfig()
	cfg.RefreshDedup = true
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}, gate: make(chan struct{})}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := mgr.GetValidAccessToken(leaderCtx, "u1")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		tok string
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
		follower <- outcome{tok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The leader gives up while the refresh is still blocked.
	cancelLeader()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, ErrTokenRefreshFailed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled leader did not return")
	}

	close(refresher.gate)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "new-access", got.tok)
	assert.Equal(t, int32(1), refresher.calls.Load())

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
}

func TestGetValidAccessToken_CompareAndSwapAdoptsWinner(t *testing.T) {
	cfg := testTokenConfig()
	cfg.WriteMode = config.WriteModeCompareAndSwap
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "loser-access"}}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	stale, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)

	// Another process refreshes between our read and our write.
	require.NoError(t, store.Upsert(context.Background(), "u1", db.CredentialFields{
		AccessToken: "winner-access",
		Expiry:      now.Add(time.Hour),
	}))

	tok, err := mgr.refresh(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "winner-access", tok)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "winner-access", cred.AccessToken)
}

func TestGetValidAccessToken_CompareAndSwapLostToExpiredWrite(t *testing.T) {
	cfg := testTokenConfig()
	cfg.WriteMode = config.WriteModeCompareAndSwap
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "loser-access"}}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	stale, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)

	// A concurrent writer stores a token that is already expired.
	require.NoError(t, store.Upsert(context.Background(), "u1", db.CredentialFields{
		AccessToken: "expired-access",
		Expiry:      now.Add(-time.Second),
	}))

	tok, err := mgr.refresh(context.Background(), stale)
	assert.ErrorIs(t, err, ErrTokenPersistFailed)
	assert.Equal(t, "loser-access", tok)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "expired-access", cred.AccessToken)
}

func TestGetValidAccessToken_CompareAndSwapReloadFailure(t *testing.T) {
	cfg := testTokenConfig()
	cfg.WriteMode = config.WriteModeCompareAndSwap
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "loser-access"}}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	stale, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	mgr.store = lostRaceStore{store}

	tok, err := mgr.refresh(context.Background(), stale)
	assert.ErrorIs(t, err, ErrTokenPersistFailed)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, "loser-access", tok)
}

func TestGetValidAccessToken_CompareAndSwapWritesWhenUncontended(t *testing.T) {
	cfg := testTokenConfig()
	cfg.WriteMode = config.WriteModeCompareAndSwap
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "new-access"}}
	mgr, store, now := newTestManager(t, refresher, cfg)
	seedCredential(t, store, "u1", now.Add(-time.Minute))

	tok, err := mgr.GetValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)

	cred, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, int64(2), cred.Version)
}

func TestForceRefresh_IgnoresExpiry(t *testing.T) {
	refresher := &fakeRefresher{result: RefreshResult{AccessToken: "forced"}}
	mgr, store, now := newTestManager(t, refresher, testTokenConfig())
	seedCredential(t, store, "u1", now.Add(time.Hour))

	tok, err := mgr.ForceRefresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "forced", tok)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestStoreAuthorization_CreatesThenReusesUser(t *testing.T) {
	mgr, store, now := newTestManager(t, &fakeRefresher{}, testTokenConfig())
	ctx := context.Background()

	first, err := mgr.StoreAuthorization(ctx, "a@example.com", &oauth2.Token{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Expiry:       now.Add(time.Hour),
	}, "scope-a")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Re-consent without a new refresh token keeps the old one.
	second, err := mgr.StoreAuthorization(ctx, "a@example.com", &oauth2.Token{AccessToken: "a2"}, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	cred, err := store.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.Equal(t, "scope-a", cred.Scope)
	assert.WithinDuration(t, now.Add(time.Hour), cred.Expiry, time.Second)
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		name      string
		errText   string
		permanent bool
	}{
		{name: "invalid grant", errText: "oauth2: cannot fetch token: 400 Bad Request {\"error\":\"invalid_grant\"}", permanent: true},
		{name: "revoked", errText: "token has been expired or revoked", permanent: true},
		{name: "timeout", errText: "context deadline exceeded", permanent: false},
		{name: "server error", errText: "oauth2: cannot fetch token: 503 Service Unavailable", permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, isPermanentRefreshError(errors.New(tt.errText)))
		})
	}
	assert.False(t, isPermanentRefreshError(nil))
}
