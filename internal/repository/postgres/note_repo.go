package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// NoteRepository handles chat note data in Postgres
type NoteRepository struct {
	pool *pgxpool.Pool
}

// NewNoteRepository creates a new NoteRepository
func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

// ListForChat retrieves all notes on one conversation with their authors
func (r *NoteRepository) ListForChat(ctx context.Context, accountID int64, chatID string) ([]*domain.ChatNote, error) {
	query := `
		SELECT n.account_id, n.chat_id, n.author_id, n.text, n.updated_at,
		       u.id, u.telegram_id, u.first_name, u.username, u.balance, u.timezone, u.has_agreed_to_terms, u.created_at
		FROM chat_notes n
		JOIN users u ON u.id = n.author_id
		WHERE n.account_id = $1 AND n.chat_id = $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*domain.ChatNote
	for rows.Next() {
		note := &domain.ChatNote{Author: &domain.User{}}
		if err := rows.Scan(
			&note.AccountID,
			&note.ChatID,
			&note.AuthorID,
			&note.Text,
			&note.UpdatedAt,
			&note.Author.ID,
			&note.Author.TelegramID,
			&note.Author.FirstName,
			&note.Author.Username,
			&note.Author.Balance,
			&note.Author.Timezone,
			&note.Author.HasAgreedToTerms,
			&note.Author.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}

	return notes, nil
}

// Upsert creates or replaces the author's note on a conversation
func (r *NoteRepository) Upsert(ctx context.Context, note *domain.ChatNote) error {
	query := `
		INSERT INTO chat_notes (account_id, chat_id, author_id, text, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account_id, chat_id, author_id) DO UPDATE SET
			text = EXCLUDED.text,
			updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, note.AccountID, note.ChatID, note.AuthorID, note.Text); err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

// Delete removes the author's note; safe when absent
func (r *NoteRepository) Delete(ctx context.Context, accountID int64, chatID string, authorID int64) error {
	query := `DELETE FROM chat_notes WHERE account_id = $1 AND chat_id = $2 AND author_id = $3`

	if _, err := r.pool.Exec(ctx, query, accountID, chatID, authorID); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}
