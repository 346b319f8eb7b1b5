package models

import (
	"strings"
	"time"
)

// Account lifecycle states. ACTIVE implies Enabled; the pool only ever
// selects accounts that are both.
const (
	StatusActive   = "ACTIVE"
	StatusDisabled = "DISABLED"
	StatusExpired  = "EXPIRED"
	StatusError    = "ERROR"
)

// Auth schemes, resolved once when the account is created instead of
// re-sniffing the token prefix on every request.
const (
	AuthSchemeOAuth  = "oauth"
	AuthSchemeAPIKey = "api_key"
)

// Account stores OAuth identity and tokens for an upstream provider account.
type Account struct {
	ID             string `gorm:"primaryKey" json:"id"` // UUID
	Email          string `gorm:"index" json:"email"`
	Provider       string `gorm:"default:claude" json:"provider"`
	AccessToken    string `json:"-"`
	RefreshToken   string `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	Enabled        bool      `gorm:"default:true" json:"enabled"`
	Status         string    `gorm:"default:ACTIVE" json:"status"`     // ACTIVE, DISABLED, EXPIRED, ERROR
	AuthScheme     string    `gorm:"default:oauth" json:"auth_scheme"` // oauth or api_key
	LastUsedAt     time.Time `json:"last_used_at"`
	TotalRequests  int64     `json:"total_requests"`
	TotalTokens    int64     `json:"total_tokens"`
	Metadata       string    `json:"metadata,omitempty"` // JSON blob for provider-specific extras
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Eligible reports whether the account may be handed out by the pool,
// ignoring in-memory health which the pool layers on top.
func (a *Account) Eligible() bool {
	return a.Enabled && a.Status == StatusActive
}

// TokenExpiresWithin reports whether the access token expires before now+lead.
func (a *Account) TokenExpiresWithin(lead time.Duration) bool {
	if a.TokenExpiresAt.IsZero() {
		return false
	}
	return a.TokenExpiresAt.Before(time.Now().Add(lead))
}

// DetectAuthScheme maps a token prefix to the auth scheme stored on the
// account. Unknown prefixes are treated as raw API keys.
func DetectAuthScheme(token string) string {
	if strings.HasPrefix(token, "oauth_") || strings.HasPrefix(token, "sk-ant-oat") {
		return AuthSchemeOAuth
	}
	return AuthSchemeAPIKey
}
