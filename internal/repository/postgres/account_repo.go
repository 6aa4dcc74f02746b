package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// AccountRepository handles marketplace account data in Postgres
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, user_id, alias, avito_user_id, encrypted_oauth_token, encrypted_refresh_token, expires_at, is_active, created_at`

func scanAccount(row pgx.Row) (*domain.AvitoAccount, error) {
	account := &domain.AvitoAccount{}
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Alias,
		&account.AvitoUserID,
		&account.EncryptedOAuthToken,
		&account.EncryptedRefreshToken,
		&account.ExpiresAt,
		&account.IsActive,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByID retrieves an account by internal id; nil when absent
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.AvitoAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM avito_accounts WHERE id = $1`

	account, err := scanAccount(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetByAvitoUserID retrieves an account by its external marketplace id;
// nil when absent
func (r *AccountRepository) GetByAvitoUserID(ctx context.Context, avitoUserID int64) (*domain.AvitoAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM avito_accounts WHERE avito_user_id = $1`

	account, err := scanAccount(r.pool.QueryRow(ctx, query, avitoUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListByUserID retrieves all accounts connected by a user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*domain.AvitoAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM avito_accounts WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.AvitoAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	return accounts, nil
}

// UpdateTokens stores refreshed OAuth tokens for an account
func (r *AccountRepository) UpdateTokens(ctx context.Context, account *domain.AvitoAccount) error {
	query := `
		UPDATE avito_accounts
		SET encrypted_oauth_token = $2, encrypted_refresh_token = $3, expires_at = $4
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query,
		account.ID,
		account.EncryptedOAuthToken,
		account.EncryptedRefreshToken,
		account.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// Deactivate marks an account as inactive (e.g. on revoked authorization)
func (r *AccountRepository) Deactivate(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE avito_accounts SET is_active = false WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	return nil
}
