package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"avitobridge-backend/internal/domain"
)

// ViewRepository stores conversation view documents in Redis with a
// retention TTL. Updates keep the remaining TTL so an untouched
// conversation still expires.
type ViewRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewViewRepository creates a new ViewRepository
func NewViewRepository(client *redis.Client, ttl time.Duration) *ViewRepository {
	return &ViewRepository{client: client, ttl: ttl}
}

// Get loads a view document; nil when absent
func (r *ViewRepository) Get(ctx context.Context, viewKey string) (*domain.ConversationView, error) {
	data, err := r.client.Get(ctx, viewKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get view %s: %w", viewKey, err)
	}

	view, err := domain.UnmarshalView(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode view %s: %w", viewKey, err)
	}
	return view, nil
}

// Set writes a view document with the full retention TTL
func (r *ViewRepository) Set(ctx context.Context, viewKey string, view *domain.ConversationView) error {
	data, err := domain.MarshalView(view)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, viewKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set view %s: %w", viewKey, err)
	}
	return nil
}

// Update writes an existing view document preserving its remaining TTL.
// When the key expired between read and write, the document is stored
// again with the full retention TTL instead of living forever.
func (r *ViewRepository) Update(ctx context.Context, viewKey string, view *domain.ConversationView) error {
	data, err := domain.MarshalView(view)
	if err != nil {
		return err
	}
	stored, err := r.client.SetXX(ctx, viewKey, data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update view %s: %w", viewKey, err)
	}
	if !stored {
		if err := r.client.Set(ctx, viewKey, data, r.ttl).Err(); err != nil {
			return fmt.Errorf("failed to update view %s: %w", viewKey, err)
		}
	}
	return nil
}
