package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction records one balance change for a user
// Maps to Postgres transactions table
type Transaction struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	Amount       float64   `json:"amount" db:"amount"`
	BalanceAfter float64   `json:"balance_after" db:"balance_after"`
	Description  string    `json:"description" db:"description"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}
