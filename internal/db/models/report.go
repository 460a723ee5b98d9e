package models

import "time"

// CachedReport holds a fetched search-analytics result set for one user and fingerprint.
type CachedReport struct {
	ID        string `gorm:"uniqueIndex"` // UUID, stable across overwrites
	UserID    string `gorm:"primaryKey"`
	CacheKey  string `gorm:"primaryKey"`
	Data      string `gorm:"type:text"` // JSON array of rows
	RowCount  int
	CreatedAt time.Time
}
