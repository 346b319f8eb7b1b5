package models

import "time"

// ApiKey is a caller credential for the relay surface. Only the SHA-256
// hash of the key is persisted; the raw key is shown once at creation.
type ApiKey struct {
	ID            string `gorm:"primaryKey" json:"id"` // UUID
	KeyHash       string `gorm:"uniqueIndex" json:"-"`
	KeyDisplay    string `json:"key_display"` // masked form, e.g. sk-proxy-...a1b2
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Enabled       bool   `gorm:"default:true" json:"enabled"`
	LastUsedAt    time.Time `json:"last_used_at"`
	TotalRequests int64     `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
