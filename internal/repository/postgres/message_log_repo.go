package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// MessageLogRepository appends audit rows for relayed messages
type MessageLogRepository struct {
	pool *pgxpool.Pool
}

// NewMessageLogRepository creates a new MessageLogRepository
func NewMessageLogRepository(pool *pgxpool.Pool) *MessageLogRepository {
	return &MessageLogRepository{pool: pool}
}

// Append writes one log row. Rows are never mutated afterwards.
func (r *MessageLogRepository) Append(ctx context.Context, entry *domain.MessageLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO message_logs (id, account_id, chat_id, direction, is_autoreply, trigger_name, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.ChatID,
		entry.Direction,
		entry.IsAutoReply,
		entry.TriggerName,
		entry.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to append message log: %w", err)
	}
	return nil
}

// StatsForAccount aggregates in/out/auto counts for one account since a cutoff
func (r *MessageLogRepository) StatsForAccount(ctx context.Context, accountID int64, since time.Time) (*domain.MessageStats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE direction = 'in'),
			count(*) FILTER (WHERE direction = 'out'),
			count(*) FILTER (WHERE direction = 'out' AND is_autoreply)
		FROM message_logs
		WHERE account_id = $1 AND timestamp >= $2
	`

	stats := &domain.MessageStats{}
	err := r.pool.QueryRow(ctx, query, accountID, since).Scan(
		&stats.Incoming,
		&stats.Outgoing,
		&stats.AutoReplies,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query message stats: %w", err)
	}
	return stats, nil
}
