package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/metrics"
)

// Normalizer moves validated intake entries onto the processing stream.
// The webhook endpoint only appends raw entries and returns; this stage
// is the first durable step of the pipeline and the place where poison
// entries are dropped instead of clogging the intake.
type Normalizer struct {
	bus Publisher
	log *zap.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(bus Publisher, log *zap.Logger) *Normalizer {
	return &Normalizer{bus: bus, log: log}
}

// Handle processes one raw intake entry
func (n *Normalizer) Handle(ctx context.Context, msg *redis.XMessage) error {
	inbound, err := domain.ParseInboundMessage(msg.Values)
	if err != nil {
		// Malformed entries are acked away, they can never succeed
		metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamIncomingRaw, "skipped").Inc()
		n.log.Warn("dropping malformed intake entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	if err := n.bus.Add(ctx, domain.StreamIncomingMessages, inbound.Values()); err != nil {
		metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamIncomingRaw, "error").Inc()
		return err
	}
	metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamIncomingRaw, "ok").Inc()
	return nil
}
