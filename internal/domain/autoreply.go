package domain

import (
	"github.com/google/uuid"
)

// Trigger types for auto-reply rules
const (
	TriggerAlways      = "always"
	TriggerExact       = "exact"
	TriggerContainsAny = "contains_any"
	TriggerContainsAll = "contains_all"
)

// AutoReplyRule represents a configured auto-reply trigger for one account
// Maps to Postgres auto_reply_rules table
type AutoReplyRule struct {
	ID              uuid.UUID `json:"id" db:"id"`
	AccountID       int64     `json:"account_id" db:"account_id"`
	Name            string    `json:"name" db:"name"`
	TriggerType     string    `json:"trigger_type" db:"trigger_type"`
	TriggerKeywords []string  `json:"trigger_keywords" db:"trigger_keywords"`
	ReplyText       string    `json:"reply_text" db:"reply_text"`
	DelaySeconds    int       `json:"delay_seconds" db:"delay_seconds"`
	CooldownSeconds int       `json:"cooldown_seconds" db:"cooldown_seconds"`
	IsActive        bool      `json:"is_active" db:"is_active"`
}

// AutoReplyMatch is the payload returned by the rule engine when a rule fires
type AutoReplyMatch struct {
	Text         string `json:"text"`
	DelaySeconds int    `json:"delay_seconds"`
	RuleName     string `json:"rule_name"`
}
