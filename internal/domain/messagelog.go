package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MessageLog is an append-only audit record of relayed messages
// Maps to Postgres message_logs table
type MessageLog struct {
	ID          uuid.UUID `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	ChatID      string    `json:"chat_id" db:"chat_id"`
	Direction   string    `json:"direction" db:"direction"`
	IsAutoReply bool      `json:"is_autoreply" db:"is_autoreply"`
	TriggerName *string   `json:"trigger_name,omitempty" db:"trigger_name"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// MessageStats aggregates log rows for one account over a window
type MessageStats struct {
	Incoming    int64 `json:"incoming"`
	Outgoing    int64 `json:"outgoing"`
	AutoReplies int64 `json:"auto_replies"`
}
