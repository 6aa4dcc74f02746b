package domain

import (
	"strconv"
	"time"
)

// User represents an operator identified by their Telegram id
// Maps to Postgres users table
type User struct {
	ID               int64     `json:"id" db:"id"`
	TelegramID       int64     `json:"telegram_id" db:"telegram_id"`
	FirstName        *string   `json:"first_name,omitempty" db:"first_name"`
	Username         *string   `json:"username,omitempty" db:"username"`
	Balance          float64   `json:"balance" db:"balance"`
	Timezone         string    `json:"timezone" db:"timezone"`
	HasAgreedToTerms bool      `json:"has_agreed_to_terms" db:"has_agreed_to_terms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns the best available human-readable name for the user
func (u *User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" {
		return *u.FirstName
	}
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return "ID " + strconv.FormatInt(u.TelegramID, 10)
}
