package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// interactionTTL bounds how long a half-finished dialog step survives
const interactionTTL = 30 * time.Minute

// PendingInteraction is the per-user dialog state awaiting the user's
// next input (invite password entry, note editing, admin reply)
type PendingInteraction struct {
	State   string            `json:"state"`
	Payload map[string]string `json:"payload,omitempty"`
}

// InteractionRepository stores pending interactions keyed by Telegram user id
type InteractionRepository struct {
	client *redis.Client
}

// NewInteractionRepository creates a new InteractionRepository
func NewInteractionRepository(client *redis.Client) *InteractionRepository {
	return &InteractionRepository{client: client}
}

func interactionKey(telegramID int64) string {
	return fmt.Sprintf("pending_interaction:%d", telegramID)
}

// Get loads the user's pending interaction; nil when the user is idle
func (r *InteractionRepository) Get(ctx context.Context, telegramID int64) (*PendingInteraction, error) {
	data, err := r.client.Get(ctx, interactionKey(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending interaction: %w", err)
	}

	interaction := &PendingInteraction{}
	if err := json.Unmarshal(data, interaction); err != nil {
		return nil, fmt.Errorf("failed to decode pending interaction: %w", err)
	}
	return interaction, nil
}

// Set stores the user's pending interaction
func (r *InteractionRepository) Set(ctx context.Context, telegramID int64, interaction *PendingInteraction) error {
	data, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("failed to encode pending interaction: %w", err)
	}
	if err := r.client.Set(ctx, interactionKey(telegramID), data, interactionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set pending interaction: %w", err)
	}
	return nil
}

// Clear returns the user to the idle state; safe when already idle
func (r *InteractionRepository) Clear(ctx context.Context, telegramID int64) error {
	if err := r.client.Del(ctx, interactionKey(telegramID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pending interaction: %w", err)
	}
	return nil
}
