package domain

import (
	"time"
)

// ChatNote is one operator's note on a conversation.
// One note per author per conversation (composite key account+chat+author).
type ChatNote struct {
	AccountID int64     `json:"account_id" db:"account_id"`
	ChatID    string    `json:"chat_id" db:"chat_id"`
	AuthorID  int64     `json:"author_id" db:"author_id"`
	Text      string    `json:"text" db:"text"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Author is populated by queries that join users
	Author *User `json:"author,omitempty" db:"-"`
}
