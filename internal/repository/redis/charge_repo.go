package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// chargeKeyTTL keeps processed charge ids long enough to outlive any
// provider-side replay window
const chargeKeyTTL = 60 * 24 * time.Hour

// ChargeRepository records processed payment charge ids so a replayed
// charge credits the balance exactly once
type ChargeRepository struct {
	client *redis.Client
}

// NewChargeRepository creates a new ChargeRepository
func NewChargeRepository(client *redis.Client) *ChargeRepository {
	return &ChargeRepository{client: client}
}

// MarkProcessed claims a charge id. Returns false when the charge was
// already processed (the caller must treat the deposit as a no-op).
func (r *ChargeRepository) MarkProcessed(ctx context.Context, chargeID string) (bool, error) {
	key := fmt.Sprintf("tgpay_charge_processed:%s", chargeID)
	ok, err := r.client.SetNX(ctx, key, "1", chargeKeyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim charge id: %w", err)
	}
	return ok, nil
}
