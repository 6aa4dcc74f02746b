package domain

import (
	"github.com/google/uuid"
)

// Permissions describes what a helper is allowed to do.
// AllowedAccounts nil means access to all of the owner's accounts.
type Permissions struct {
	CanReply        bool     `json:"can_reply"`
	AllowedAccounts *[]int64 `json:"allowed_accounts"`
}

// AllowsAccount reports whether the permissions grant access to the given
// internal account id
func (p Permissions) AllowsAccount(accountID int64) bool {
	if p.AllowedAccounts == nil {
		return true
	}
	for _, id := range *p.AllowedAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

// WithCanReply returns a copy with the reply flag changed
func (p Permissions) WithCanReply(canReply bool) Permissions {
	p.CanReply = canReply
	return p
}

// WithAllowedAccounts returns a copy scoped to the given accounts.
// Passing nil grants access to all accounts.
func (p Permissions) WithAllowedAccounts(accounts *[]int64) Permissions {
	p.AllowedAccounts = accounts
	return p
}

// ForwardingRule represents a delegated helper slot owned by one user
// Maps to Postgres forwarding_rules table
type ForwardingRule struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	OwnerID            int64       `json:"owner_id" db:"owner_id"`
	TargetTelegramID   *int64      `json:"target_telegram_id,omitempty" db:"target_telegram_id"`
	CustomRuleName     string      `json:"custom_rule_name" db:"custom_rule_name"`
	InvitePasswordHash *string     `json:"-" db:"invite_password_hash"`
	InviteCode         string      `json:"invite_code" db:"invite_code"`
	Permissions        Permissions `json:"permissions" db:"permissions"`
}

// IsAccepted reports whether the invite has been accepted by a helper
func (r *ForwardingRule) IsAccepted() bool {
	return r.TargetTelegramID != nil
}
