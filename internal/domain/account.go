package domain

import (
	"time"
)

// AvitoAccount represents a connected marketplace account
// Maps to Postgres avito_accounts table
type AvitoAccount struct {
	ID                    int64     `json:"id" db:"id"`
	UserID                int64     `json:"user_id" db:"user_id"`
	Alias                 *string   `json:"alias,omitempty" db:"alias"`
	AvitoUserID           int64     `json:"avito_user_id" db:"avito_user_id"`
	EncryptedOAuthToken   string    `json:"-" db:"encrypted_oauth_token"`
	EncryptedRefreshToken string    `json:"-" db:"encrypted_refresh_token"`
	ExpiresAt             time.Time `json:"expires_at" db:"expires_at"`
	IsActive              bool      `json:"is_active" db:"is_active"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the account alias or a fallback label
func (a *AvitoAccount) DisplayName() string {
	if a.Alias != nil && *a.Alias != "" {
		return *a.Alias
	}
	return ""
}
