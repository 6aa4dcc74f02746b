package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one stream entry. Returning nil acknowledges the
// entry; returning an error leaves it unacknowledged for redelivery on
// consumer restart, so handlers must be idempotent per entry. Handlers
// swallow (log and return nil) failures that must not be retried.
type Handler func(ctx context.Context, msg *redis.XMessage) error

// Consumer is one infinitely-looping member of a consumer group. The
// loop body is guarded: a panic or loop-level failure is logged and the
// consumer resumes after a fixed backoff, so one bad entry can never
// kill the processor.
type Consumer struct {
	bus      *Bus
	stream   string
	group    string
	consumer string
	handler  Handler
	backoff  time.Duration
	log      *zap.Logger
}

// NewConsumer creates a consumer for one stream and group
func NewConsumer(bus *Bus, stream, group, consumer string, handler Handler, backoff time.Duration, log *zap.Logger) *Consumer {
	return &Consumer{
		bus:      bus,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
		backoff:  backoff,
		log:      log,
	}
}

// Run creates the consumer group if needed and loops until the context
// is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.bus.EnsureGroup(ctx, c.stream, c.group); err != nil {
		return err
	}
	c.log.Info("consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
	)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped", zap.String("stream", c.stream))
			return ctx.Err()
		default:
		}

		c.iterate(ctx)
	}
}

// iterate performs one read-handle-ack cycle under a panic guard
func (c *Consumer) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in consumer loop",
				zap.String("stream", c.stream),
				zap.Any("panic", r),
			)
			c.sleep(ctx)
		}
	}()

	msg, err := c.bus.ReadOne(ctx, c.stream, c.group, c.consumer)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("stream read failed", zap.String("stream", c.stream), zap.Error(err))
		c.sleep(ctx)
		return
	}
	if msg == nil {
		return
	}

	if err := c.handler(ctx, msg); err != nil {
		// Left unacked: redelivered after restart
		c.log.Error("entry handling failed",
			zap.String("stream", c.stream),
			zap.String("entry_id", msg.ID),
			zap.Error(err),
		)
		c.sleep(ctx)
		return
	}

	if err := c.bus.Ack(ctx, c.stream, c.group, msg.ID); err != nil {
		c.log.Error("ack failed", zap.String("stream", c.stream), zap.String("entry_id", msg.ID), zap.Error(err))
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.backoff):
	}
}
