package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"avitobridge-backend/internal/domain"
)

// ReplyContextRepository stores the ephemeral mapping from a rendered
// Telegram message to its conversation, consulted when a reply arrives
type ReplyContextRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplyContextRepository creates a new ReplyContextRepository
func NewReplyContextRepository(client *redis.Client, ttl time.Duration) *ReplyContextRepository {
	return &ReplyContextRepository{client: client, ttl: ttl}
}

func contextKey(messageID int) string {
	return fmt.Sprintf("tg_context:%d", messageID)
}

// Set stores the reply context for a rendered message
func (r *ReplyContextRepository) Set(ctx context.Context, messageID int, replyCtx *domain.ReplyContext) error {
	data, err := json.Marshal(replyCtx)
	if err != nil {
		return fmt.Errorf("failed to encode reply context: %w", err)
	}
	if err := r.client.Set(ctx, contextKey(messageID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set reply context: %w", err)
	}
	return nil
}

// Get loads the reply context for a message; nil when expired or absent
func (r *ReplyContextRepository) Get(ctx context.Context, messageID int) (*domain.ReplyContext, error) {
	data, err := r.client.Get(ctx, contextKey(messageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reply context: %w", err)
	}

	replyCtx := &domain.ReplyContext{}
	if err := json.Unmarshal(data, replyCtx); err != nil {
		return nil, fmt.Errorf("failed to decode reply context: %w", err)
	}
	return replyCtx, nil
}
