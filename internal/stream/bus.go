package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus wraps the Redis Streams operations used by the relay: idempotent
// group creation, blocking group reads, per-entry acknowledgment and
// appends
type Bus struct {
	client *redis.Client
	block  time.Duration
}

// NewBus creates a new Bus. block is the blocking read timeout used by
// ReadOne so idle consumers can re-poll.
func NewBus(client *redis.Client, block time.Duration) *Bus {
	return &Bus{client: client, block: block}
}

// EnsureGroup idempotently creates a consumer group from the beginning of
// the stream, creating the stream itself when absent. An already-existing
// group is treated as success.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadOne blocks for up to the configured timeout waiting for one new
// entry for the consumer. Returns nil without error when the read timed
// out with nothing to deliver.
func (b *Bus) ReadOne(ctx context.Context, stream, group, consumer string) (*redis.XMessage, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    b.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %s: %w", stream, err)
	}

	for _, s := range res {
		for i := range s.Messages {
			return &s.Messages[i], nil
		}
	}
	return nil, nil
}

// Ack acknowledges one entry for the group
func (b *Bus) Ack(ctx context.Context, stream, group, id string) error {
	if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s on %s: %w", id, stream, err)
	}
	return nil
}

// Add appends an entry to a stream
func (b *Bus) Add(ctx context.Context, stream string, values map[string]interface{}) error {
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	return nil
}
