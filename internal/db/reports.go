package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/search-insights/internal/db/models"
)

// ReportStore caches fetched result sets keyed by (user id, cache key).
type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Get returns the cached report regardless of age, or ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, userID, cacheKey string) (*models.CachedReport, error) {
	var rep models.CachedReport
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND cache_key = ?", userID, cacheKey).
		First(&rep).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rep, nil
}

// GetFresh returns the cached report only if now - created_at < window.
func (s *ReportStore) GetFresh(ctx context.Context, userID, cacheKey string, now time.Time, window time.Duration) (*models.CachedReport, bool, error) {
	rep, err := s.Get(ctx, userID, cacheKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if now.Sub(rep.CreatedAt) >= window {
		return rep, false, nil
	}
	return rep, true, nil
}

// Put overwrites the cached rows for (userID, cacheKey). The report id is kept
// stable across overwrites so intent links stay attached.
func (s *ReportStore) Put(ctx context.Context, userID, cacheKey, data string, rowCount int, createdAt time.Time) (*models.CachedReport, error) {
	rep := &models.CachedReport{
		ID:        uuid.New().String(),
		UserID:    userID,
		CacheKey:  cacheKey,
		Data:      data,
		RowCount:  rowCount,
		CreatedAt: createdAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "row_count", "created_at"}),
	}).Create(rep).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, cacheKey)
}
