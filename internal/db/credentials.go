package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/search-insights/internal/db/models"
)

// CredentialFields is a partial credential update. Zero values are left
// untouched in storage; in particular an empty RefreshToken never clears the
// stored one.
type CredentialFields struct {
	Email        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

func (f CredentialFields) updates() map[string]any {
	m := map[string]any{}
	if f.Email != "" {
		m["email"] = f.Email
	}
	if f.AccessToken != "" {
		m["access_token"] = f.AccessToken
	}
	if f.RefreshToken != "" {
		m["refresh_token"] = f.RefreshToken
	}
	if !f.Expiry.IsZero() {
		m["expiry"] = f.Expiry
	}
	if f.Scope != "" {
		m["scope"] = f.Scope
	}
	return m
}

// CredentialStore persists per-user OAuth credentials.
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get returns the stored credential or ErrNotFound.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

// FindByEmail looks a credential up by the Google account email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&cred).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

// Upsert creates the credential or applies the non-empty fields to the existing row.
func (s *CredentialStore) Upsert(ctx context.Context, userID string, f CredentialFields) error {
	cred := models.Credential{
		UserID:       userID,
		Email:        f.Email,
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		Expiry:       f.Expiry,
		Scope:        f.Scope,
		Version:      1,
	}

	updates := f.updates()
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now()

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&cred).Error
}

// UpdateIfVersion applies f only when the stored version still equals version.
// It reports whether the write happened.
func (s *CredentialStore) UpdateIfVersion(ctx context.Context, userID string, version int64, f CredentialFields) (bool, error) {
	updates := f.updates()
	updates["version"] = version + 1

	res := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
