package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// TransactionRepository handles balance mutations in Postgres
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// CreateAndUpdateBalance records a transaction and applies it to the user's
// balance in one database transaction. The user row is locked FOR UPDATE to
// serialize concurrent balance changes.
func (r *TransactionRepository) CreateAndUpdateBalance(ctx context.Context, userID int64, amount float64, description string) (*domain.Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	newBalance := balance + amount

	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &domain.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, amount, balance_after, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp
	`, entry.ID, entry.UserID, entry.Amount, entry.BalanceAfter, entry.Description).Scan(&entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}
