package models

import "time"

// Credential stores one user's Google OAuth tokens.
type Credential struct {
	UserID       string `gorm:"primaryKey"` // UUID
	Email        string `gorm:"index"`
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	// Version increments on every token write; compare-and-swap persistence keys on it.
	Version   int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session maps a dashboard cookie to a user.
type Session struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	ExpiresAt time.Time
	CreatedAt time.Time
}
