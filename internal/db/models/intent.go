package models

import "time"

// IntentRecord is the single, globally shared classification of a query string.
type IntentRecord struct {
	Query        string `gorm:"primaryKey"`
	Intent       string
	Category     string
	FunnelStage  string
	MainKeywords string `gorm:"type:text"` // JSON array of strings
	AnalyzedAt   time.Time
}

// IntentLink attaches a cached classification to a report. Not unique.
type IntentLink struct {
	ID        uint   `gorm:"primaryKey"`
	ReportID  string `gorm:"index"`
	Query     string `gorm:"index"`
	CreatedAt time.Time
}
