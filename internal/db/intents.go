package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/search-insights/internal/db/models"
)

// lookupChunk keeps IN lists under SQLite's bound-parameter limit.
const lookupChunk = 500

// IntentStore is the global, query-keyed intent cache.
type IntentStore struct {
	db *gorm.DB
}

func NewIntentStore(db *gorm.DB) *IntentStore {
	return &IntentStore{db: db}
}

// Lookup returns the cached records for queries, keyed by query string.
func (s *IntentStore) Lookup(ctx context.Context, queries []string) (map[string]models.IntentRecord, error) {
	found := make(map[string]models.IntentRecord, len(queries))
	for start := 0; start < len(queries); start += lookupChunk {
		end := min(start+lookupChunk, len(queries))
		var rows []models.IntentRecord
		if err := s.db.WithContext(ctx).Where("query IN ?", queries[start:end]).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			found[r.Query] = r
		}
	}
	return found, nil
}

// Upsert writes records keyed by query alone; existing rows are overwritten.
func (s *IntentStore) Upsert(ctx context.Context, records []models.IntentRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "query"}},
		DoUpdates: clause.AssignmentColumns([]string{"intent", "category", "funnel_stage", "main_keywords", "analyzed_at"}),
	}).CreateInBatches(records, 200).Error
}

// Link attaches queries to a report. Duplicate links are allowed.
func (s *IntentStore) Link(ctx context.Context, reportID string, queries []string) error {
	if reportID == "" || len(queries) == 0 {
		return nil
	}
	now := time.Now()
	links := make([]models.IntentLink, 0, len(queries))
	for _, q := range queries {
		links = append(links, models.IntentLink{ReportID: reportID, Query: q, CreatedAt: now})
	}
	return s.db.WithContext(ctx).CreateInBatches(links, 200).Error
}

// linkedQueries returns the queries linked to reportID in insertion order.
func (s *IntentStore) linkedQueries(ctx context.Context, reportID string) ([]string, error) {
	var queries []string
	err := s.db.WithContext(ctx).Model(&models.IntentLink{}).
		Where("report_id = ?", reportID).
		Order("id").
		Pluck("query", &queries).Error
	return queries, err
}
