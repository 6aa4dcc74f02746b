package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/service/forwarding"
	"avitobridge-backend/pkg/metrics"
)

// RecipientLister computes who receives a message on a given account
type RecipientLister interface {
	Recipients(ctx context.Context, avitoUserID, accountID int64) ([]forwarding.Recipient, error)
}

// MessageLogger records message traffic for statistics
type MessageLogger interface {
	Append(ctx context.Context, entry *domain.MessageLog) error
}

// Forwarder fans processed messages out into one event per recipient.
// Each recipient event carries the full message plus the recipient's
// reply rights, so downstream processing needs no further permission
// lookups.
type Forwarder struct {
	accounts   AccountResolver
	recipients RecipientLister
	messageLog MessageLogger
	bus        Publisher
	log        *zap.Logger
}

// NewForwarder creates a new Forwarder
func NewForwarder(accounts AccountResolver, recipients RecipientLister, messageLog MessageLogger, bus Publisher, log *zap.Logger) *Forwarder {
	return &Forwarder{accounts: accounts, recipients: recipients, messageLog: messageLog, bus: bus, log: log}
}

// Handle processes one processed-message entry
func (f *Forwarder) Handle(ctx context.Context, msg *redis.XMessage) error {
	inbound, err := domain.ParseInboundMessage(msg.Values)
	if err != nil {
		f.log.Warn("dropping malformed processed entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	account, err := f.accounts.GetByAvitoUserID(ctx, inbound.AvitoUserID)
	if err != nil {
		return fmt.Errorf("failed to resolve account: %w", err)
	}
	if account == nil {
		f.log.Warn("dropping message for unknown account", zap.Int64("avito_user_id", inbound.AvitoUserID))
		return nil
	}

	// Statistics must not block delivery
	logEntry := &domain.MessageLog{
		AccountID: account.ID,
		ChatID:    inbound.ChatID,
		Direction: domain.DirectionIn,
	}
	if err := f.messageLog.Append(ctx, logEntry); err != nil {
		f.log.Warn("failed to record inbound message", zap.Error(err))
	}

	recipients, err := f.recipients.Recipients(ctx, inbound.AvitoUserID, account.ID)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamProcessedMessages, "skipped").Inc()
		return nil
	}

	for _, recipient := range recipients {
		event := &domain.FanoutEvent{
			UserTelegramID: recipient.TelegramID,
			DBAccountID:    account.ID,
			CanReply:       recipient.CanReply,
			AvitoUserID:    inbound.AvitoUserID,
			Message:        *inbound,
		}
		if err := f.bus.Add(ctx, domain.StreamNewMessageEvents, event.Values()); err != nil {
			metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamProcessedMessages, "error").Inc()
			return err
		}
	}

	metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamProcessedMessages, "ok").Inc()
	return nil
}
