package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownRepository tracks per-{chat, rule} auto-reply cooldown flags
type CooldownRepository struct {
	client *redis.Client
}

// NewCooldownRepository creates a new CooldownRepository
func NewCooldownRepository(client *redis.Client) *CooldownRepository {
	return &CooldownRepository{client: client}
}

func cooldownKey(chatID, ruleID string) string {
	return fmt.Sprintf("autoreply:cooldown:%s:%s", chatID, ruleID)
}

// IsActive reports whether the rule is cooling down in this chat
func (r *CooldownRepository) IsActive(ctx context.Context, chatID, ruleID string) (bool, error) {
	n, err := r.client.Exists(ctx, cooldownKey(chatID, ruleID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown: %w", err)
	}
	return n > 0, nil
}

// Activate sets the cooldown flag with the rule's expiry
func (r *CooldownRepository) Activate(ctx context.Context, chatID, ruleID string, duration time.Duration) error {
	if err := r.client.Set(ctx, cooldownKey(chatID, ruleID), "1", duration).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	return nil
}
