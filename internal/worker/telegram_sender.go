package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/telegram"
	"avitobridge-backend/pkg/metrics"
)

// maxTelegramRetries bounds redelivery attempts before an entry is moved
// to the dead-letter stream
const maxTelegramRetries = 3

// TelegramDeliverer sends relay messages to Telegram users
type TelegramDeliverer interface {
	SendText(chatID int64, text, parseMode, replyMarkup string) (int, error)
	SendDocument(chatID int64, filePath, caption string) error
}

// TelegramSender delivers queued Telegram messages. Transient failures
// re-enqueue the message with a bumped retry counter; after the retry
// budget it goes to the dead-letter stream. Either way the original entry
// is acked, so the queue never wedges on one bad message.
type TelegramSender struct {
	bot TelegramDeliverer
	bus Publisher
	log *zap.Logger
}

// NewTelegramSender creates a new TelegramSender
func NewTelegramSender(bot TelegramDeliverer, bus Publisher, log *zap.Logger) *TelegramSender {
	return &TelegramSender{bot: bot, bus: bus, log: log}
}

// Handle processes one queued Telegram message
func (s *TelegramSender) Handle(ctx context.Context, msg *redis.XMessage) error {
	tgMsg, err := domain.ParseTelegramMessage(msg.Values)
	if err != nil {
		s.log.Warn("dropping malformed telegram entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	switch tgMsg.Type {
	case "document":
		err = s.bot.SendDocument(tgMsg.UserID, tgMsg.FilePath, tgMsg.Caption)
	default:
		_, err = s.bot.SendText(tgMsg.UserID, tgMsg.Text, tgMsg.ParseMode, tgMsg.ReplyMarkup)
	}

	if err == nil {
		metrics.TelegramSendTotal.WithLabelValues(tgMsg.Type, "ok").Inc()
		return nil
	}

	if errors.Is(err, telegram.ErrRecipientGone) {
		// Retrying cannot help a recipient that no longer exists
		metrics.TelegramSendTotal.WithLabelValues(tgMsg.Type, "gone").Inc()
		s.log.Info("telegram recipient gone", zap.Int64("user_id", tgMsg.UserID))
		return nil
	}

	if cooldown := telegram.RetryAfter(err); cooldown > 0 {
		s.log.Warn("telegram flood control", zap.Duration("retry_after", cooldown))
		select {
		case <-ctx.Done():
		case <-time.After(cooldown):
		}
	}

	if tgMsg.Retries >= maxTelegramRetries {
		metrics.TelegramDLQTotal.Inc()
		s.log.Error("telegram delivery exhausted retries, moving to dead letter",
			zap.Int64("user_id", tgMsg.UserID),
			zap.Error(err),
		)
		values := tgMsg.Values()
		values["last_error"] = err.Error()
		if dlqErr := s.bus.Add(ctx, domain.StreamTelegramDLQ, values); dlqErr != nil {
			return dlqErr
		}
		return nil
	}

	metrics.TelegramSendTotal.WithLabelValues(tgMsg.Type, "retry").Inc()
	s.log.Warn("telegram delivery failed, re-enqueueing",
		zap.Int64("user_id", tgMsg.UserID),
		zap.Int("attempt", tgMsg.Retries+1),
		zap.Error(err),
	)
	tgMsg.Retries++
	return s.bus.Add(ctx, domain.StreamTelegramOutgoing, tgMsg.Values())
}

// ChatActionNotifier shows typing-style indicators to Telegram users
type ChatActionNotifier interface {
	SendChatAction(chatID int64, action string) error
}

// TelegramActionWorker relays typing indicators. Purely cosmetic, so
// every failure is swallowed.
type TelegramActionWorker struct {
	bot ChatActionNotifier
	log *zap.Logger
}

// NewTelegramActionWorker creates a new TelegramActionWorker
func NewTelegramActionWorker(bot ChatActionNotifier, log *zap.Logger) *TelegramActionWorker {
	return &TelegramActionWorker{bot: bot, log: log}
}

// Handle processes one chat action entry
func (w *TelegramActionWorker) Handle(ctx context.Context, msg *redis.XMessage) error {
	raw, _ := msg.Values["user_id"].(string)
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.log.Warn("dropping malformed chat action entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}
	action, _ := msg.Values["action"].(string)

	if err := w.bot.SendChatAction(userID, action); err != nil {
		w.log.Debug("failed to send chat action", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}
