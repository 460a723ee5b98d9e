package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db"
	"github.com/pysugar/search-insights/internal/db/models"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
)

var (
	// ErrCredentialNotFound means the user never authorized; they must connect their account.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrTokenRefreshFailed means the provider rejected or could not be reached for a refresh.
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	// ErrTokenPersistFailed means a refresh succeeded but could not be stored. The
	// token returned alongside it is valid for the current call.
	ErrTokenPersistFailed = errors.New("token persist failed")
)

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*models.Credential, error)
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
	Upsert(ctx context.Context, userID string, f db.CredentialFields) error
	UpdateIfVersion(ctx context.Context, userID string, version int64, f db.CredentialFields) (bool, error)
}

// Manager hands out valid access tokens, refreshing and persisting them as needed.
//
// Without RefreshDedup two concurrent calls for the same expired credential
// both refresh; with last_write_wins the later write is kept. RefreshDedup
// collapses them into one provider call per process, and compare_and_swap
// makes the losing writer adopt the stored token instead of overwriting it.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	log       *zap.Logger
	now       func() time.Time

	skew             time.Duration
	defaultExpiresIn time.Duration
	dedup            bool
	writeMode        string
	refreshTimeout   time.Duration

	group singleflight.Group
}

// NewManager creates a token manager.
func NewManager(store CredentialStore, refresher Refresher, cfg config.TokenConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:            store,
		refresher:        refresher,
		log:              log,
		now:              time.Now,
		skew:             cfg.ExpirySkew,
		defaultExpiresIn: cfg.DefaultExpiresIn,
		dedup:            cfg.RefreshDedup,
		writeMode:        cfg.WriteMode,
		refreshTimeout:   cfg.RefreshTimeout,
	}
	if m.defaultExpiresIn <= 0 {
		m.defaultExpiresIn = time.Hour
	}
	if m.writeMode == "" {
		m.writeMode = config.WriteModeLastWriteWins
	}
	return m
}

func (m *Manager) isExpired(cred *models.Credential) bool {
	return !m.now().Add(m.skew).Before(cred.Expiry)
}

// GetValidAccessToken returns the stored access token when it is valid for
// longer than the skew, otherwise refreshes it. On ErrTokenPersistFailed the
// returned token is still usable.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !m.isExpired(cred) {
		return cred.AccessToken, nil
	}

	if !m.dedup {
		return m.refresh(ctx, cred)
	}

	ch := m.group.DoChan(userID, func() (any, error) {
		// The flight is shared, so no single caller's cancellation may end it.
		fctx := context.WithoutCancel(ctx)
		if m.refreshTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, m.refreshTimeout)
			defer cancel()
		}
		// Another flight may have finished between our read and now.
		latest, err := m.load(fctx, userID)
		if err != nil {
			return "", err
		}
		if !m.isExpired(latest) {
			return latest.AccessToken, nil
		}
		return m.refresh(fctx, latest)
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.log.Debug("joined in-flight refresh", zap.String("user_id", userID))
		}
		return res.Val.(string), res.Err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrTokenRefreshFailed, ctx.Err())
	}
}

// AccessToken is GetValidAccessToken for callers that only need a bearer
// token: a persist failure is logged and the refreshed token is used anyway.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	tok, err := m.GetValidAccessToken(ctx, userID)
	if errors.Is(err, ErrTokenPersistFailed) && tok != "" {
		logging.FromContext(ctx, m.log).Warn("using refreshed token that was not persisted",
			zap.String("user_id", userID), zap.Error(err))
		return tok, nil
	}
	return tok, err
}

// ForceRefresh refreshes regardless of the stored expiry.
func (m *Manager) ForceRefresh(ctx context.Context, userID string) (string, error) {
	cred, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.refresh(ctx, cred)
}

// StoreAuthorization records the tokens of a completed authorization-code
// exchange for email, creating the user on first sign-in. It returns the user id.
func (m *Manager) StoreAuthorization(ctx context.Context, email string, tok *oauth2.Token, scope string) (string, error) {
	userID := uuid.New().String()
	existing, err := m.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		userID = existing.UserID
	case !errors.Is(err, db.ErrNotFound):
		return "", err
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(m.defaultExpiresIn)
	}
	if err := m.store.Upsert(ctx, userID, db.CredentialFields{
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scope:        scope,
	}); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return userID, nil
}

func (m *Manager) load(ctx context.Context, userID string) (*models.Credential, error) {
	cred, err := m.store.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrCredentialNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}

func (m *Manager) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	log := logging.FromContext(ctx, m.log).With(zap.String("user_id", cred.UserID))

	if cred.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("refresh_failed").Inc()
		return "", fmt.Errorf("%w: no refresh token stored", ErrTokenRefreshFailed)
	}

	res, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err == nil && res.AccessToken == "" {
		err = errors.New("provider returned an empty access token")
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("refresh_failed").Inc()
		if isPermanentRefreshError(err) {
			log.Warn("refresh token rejected, re-authorization required", zap.Error(err))
		} else {
			log.Warn("transient refresh failure", zap.Error(err))
		}
		return "", fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
	}

	expiresIn := res.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = m.defaultExpiresIn
	}
	fields := db.CredentialFields{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       m.now().Add(expiresIn),
		Scope:        res.Scope,
	}
	if res.RefreshToken != "" {
		log.Info("refresh token rotated")
	}

	if m.writeMode == config.WriteModeCompareAndSwap {
		return m.persistCAS(ctx, log, cred, fields)
	}

	if err := m.store.Upsert(ctx, cred.UserID, fields); err != nil {
		metrics.TokenRefreshes.WithLabelValues("persist_failed").Inc()
		log.Error("failed to persist refreshed token", zap.Error(err))
		return res.AccessToken, fmt.Errorf("%w: %w", ErrTokenPersistFailed, err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	log.Info("refreshed access token",
		zap.Time("expiry", fields.Expiry),
		zap.String("token", logging.MaskToken(res.AccessToken)),
	)
	return res.AccessToken, nil
}

// persistCAS writes only if nobody else updated the credential since it was
// read. A lost race returns the winner's token when it is still valid;
// otherwise our token comes back with ErrTokenPersistFailed.
func (m *Manager) persistCAS(ctx context.Context, log *zap.Logger, cred *models.Credential, fields db.CredentialFields) (string, error) {
	ok, err := m.store.UpdateIfVersion(ctx, cred.UserID, cred.Version, fields)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("persist_failed").Inc()
		log.Error("failed to persist refreshed token", zap.Error(err))
		return fields.AccessToken, fmt.Errorf("%w: %w", ErrTokenPersistFailed, err)
	}
	if ok {
		metrics.TokenRefreshes.WithLabelValues("success").Inc()
		log.Info("refreshed access token", zap.Time("expiry", fields.Expiry))
		return fields.AccessToken, nil
	}

	metrics.TokenRefreshes.WithLabelValues("lost_race").Inc()
	winner, err := m.load(ctx, cred.UserID)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("persist_failed").Inc()
		log.Error("failed to reload credential after lost race", zap.Error(err))
		return fields.AccessToken, fmt.Errorf("%w: reload after lost race: %w", ErrTokenPersistFailed, err)
	}
	if m.isExpired(winner) {
		metrics.TokenRefreshes.WithLabelValues("persist_failed").Inc()
		log.Warn("concurrent write left an expired credential", zap.Int64("version", winner.Version))
		return fields.AccessToken, fmt.Errorf("%w: concurrent write stored an expired token at version %d",
			ErrTokenPersistFailed, winner.Version)
	}
	log.Info("concurrent refresh won, using stored token", zap.Int64("version", winner.Version))
	return winner.AccessToken, nil
}
