package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// UserRepository handles user data operations in Postgres
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetOrCreate finds a user by Telegram id, creating them on first contact.
// Username and first name are refreshed when they changed on Telegram's side.
func (r *UserRepository) GetOrCreate(ctx context.Context, telegramID int64, username, firstName *string) (*domain.User, error) {
	query := `
		INSERT INTO users (telegram_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, users.username),
			first_name = COALESCE(EXCLUDED.first_name, users.first_name)
		RETURNING id, telegram_id, first_name, username, balance, timezone, has_agreed_to_terms, created_at
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, telegramID, username, firstName).Scan(
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.Username,
		&user.Balance,
		&user.Timezone,
		&user.HasAgreedToTerms,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return user, nil
}

// GetByTelegramID retrieves a user by Telegram id; nil when absent
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `
		SELECT id, telegram_id, first_name, username, balance, timezone, has_agreed_to_terms, created_at
		FROM users
		WHERE telegram_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, telegramID).Scan(
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.Username,
		&user.Balance,
		&user.Timezone,
		&user.HasAgreedToTerms,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by internal id; nil when absent
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, telegram_id, first_name, username, balance, timezone, has_agreed_to_terms, created_at
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.Username,
		&user.Balance,
		&user.Timezone,
		&user.HasAgreedToTerms,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByTelegramIDs loads users for a batch of Telegram ids in one query
func (r *UserRepository) GetByTelegramIDs(ctx context.Context, telegramIDs []int64) (map[int64]*domain.User, error) {
	query := `
		SELECT id, telegram_id, first_name, username, balance, timezone, has_agreed_to_terms, created_at
		FROM users
		WHERE telegram_id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, telegramIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	users := make(map[int64]*domain.User, len(telegramIDs))
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.ID,
			&user.TelegramID,
			&user.FirstName,
			&user.Username,
			&user.Balance,
			&user.Timezone,
			&user.HasAgreedToTerms,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.TelegramID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	return users, nil
}

// GetOwnerByAvitoUserID resolves the owner of the account carrying the given
// external marketplace id; nil when no such account is connected
func (r *UserRepository) GetOwnerByAvitoUserID(ctx context.Context, avitoUserID int64) (*domain.User, error) {
	query := `
		SELECT u.id, u.telegram_id, u.first_name, u.username, u.balance, u.timezone, u.has_agreed_to_terms, u.created_at
		FROM users u
		JOIN avito_accounts a ON a.user_id = u.id
		WHERE a.avito_user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, avitoUserID).Scan(
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.Username,
		&user.Balance,
		&user.Timezone,
		&user.HasAgreedToTerms,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account owner: %w", err)
	}

	return user, nil
}
