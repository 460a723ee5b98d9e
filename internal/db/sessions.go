package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"gorm.io/gorm"

	"github.com/pysugar/search-insights/internal/db/models"
)

// SessionStore issues and resolves dashboard login sessions.
type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// Create issues a new random session token for userID valid for ttl.
func (s *SessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (*models.Session, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &models.Session{
		Token:     hex.EncodeToString(b),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// Resolve returns the user id for a live session token, or ErrNotFound.
func (s *SessionStore) Resolve(ctx context.Context, token string) (string, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, s.now()).
		First(&sess).Error
	if err != nil {
		return "", notFound(err)
	}
	return sess.UserID, nil
}

// Delete ends a session. Deleting an unknown token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error
}
