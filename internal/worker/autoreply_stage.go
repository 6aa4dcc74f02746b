package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/metrics"
)

// autoReplyAuthor is the display name attached to automated replies
const autoReplyAuthor = "Автоответчик"

// AccountResolver resolves internal accounts by marketplace user id
type AccountResolver interface {
	GetByAvitoUserID(ctx context.Context, avitoUserID int64) (*domain.AvitoAccount, error)
}

// Matcher evaluates auto-reply rules for an inbound message
type Matcher interface {
	Match(ctx context.Context, accountID int64, chatID, text string) (*domain.AutoReplyMatch, error)
}

// AutoReplyStage evaluates auto-reply rules against inbound messages and
// forwards every message, enriched with the reply outcome when a rule
// fired immediately. Auto-reply failures never block forwarding: the
// message always reaches the processed stream.
type AutoReplyStage struct {
	accounts  AccountResolver
	engine    Matcher
	scheduler *Scheduler
	bus       Publisher
	log       *zap.Logger
}

// NewAutoReplyStage creates a new AutoReplyStage
func NewAutoReplyStage(accounts AccountResolver, engine Matcher, scheduler *Scheduler, bus Publisher, log *zap.Logger) *AutoReplyStage {
	return &AutoReplyStage{
		accounts:  accounts,
		engine:    engine,
		scheduler: scheduler,
		bus:       bus,
		log:       log,
	}
}

func delayKey(accountID int64, chatID string) string {
	return fmt.Sprintf("%d:%s", accountID, chatID)
}

// Handle processes one inbound message
func (s *AutoReplyStage) Handle(ctx context.Context, msg *redis.XMessage) error {
	inbound, err := domain.ParseInboundMessage(msg.Values)
	if err != nil {
		s.log.Warn("dropping malformed inbound entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	account, err := s.accounts.GetByAvitoUserID(ctx, inbound.AvitoUserID)
	if err != nil {
		return fmt.Errorf("failed to resolve account: %w", err)
	}
	if account == nil || !account.IsActive {
		// No account to reply from; the message still gets forwarded
		s.log.Warn("no active account for inbound message", zap.Int64("avito_user_id", inbound.AvitoUserID))
		return s.forward(ctx, inbound)
	}

	// A newer client message supersedes any not-yet-sent delayed reply
	s.scheduler.Cancel(delayKey(account.ID, inbound.ChatID))

	match, err := s.engine.Match(ctx, account.ID, inbound.ChatID, inbound.Text)
	if err != nil {
		s.log.Error("auto-reply evaluation failed",
			zap.Int64("account_id", account.ID),
			zap.String("chat_id", inbound.ChatID),
			zap.Error(err),
		)
		return s.forward(ctx, inbound)
	}
	if match == nil {
		return s.forward(ctx, inbound)
	}

	reply := &domain.OutgoingMessage{
		AccountID:  account.ID,
		ChatID:     inbound.ChatID,
		Text:       match.Text,
		ActionType: domain.ActionTypeAutoReply,
		AuthorName: autoReplyAuthor,
		RuleName:   match.RuleName,
	}

	if match.DelaySeconds > 0 {
		s.scheduleReply(account.ID, inbound.ChatID, match.DelaySeconds, reply)
		// The card must not claim a reply that has not been sent yet
		return s.forward(ctx, inbound)
	}

	if err := s.bus.Add(ctx, domain.StreamOutgoingMessages, reply.Values()); err != nil {
		return fmt.Errorf("failed to queue auto-reply: %w", err)
	}

	inbound.AutoreplySent = true
	inbound.AutoreplyRuleName = match.RuleName
	inbound.AutoreplyText = match.Text
	return s.forward(ctx, inbound)
}

// scheduleReply queues a delayed auto-reply. The task runs outside the
// consumer loop, so it gets its own context and error boundary.
func (s *AutoReplyStage) scheduleReply(accountID int64, chatID string, delaySeconds int, reply *domain.OutgoingMessage) {
	delay := time.Duration(delaySeconds) * time.Second
	s.log.Info("auto-reply delayed",
		zap.Int64("account_id", accountID),
		zap.String("chat_id", chatID),
		zap.Duration("delay", delay),
	)

	s.scheduler.Schedule(delayKey(accountID, chatID), delay, func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.bus.Add(sendCtx, domain.StreamOutgoingMessages, reply.Values()); err != nil {
			s.log.Error("failed to queue delayed auto-reply",
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
		}
	})
}

func (s *AutoReplyStage) forward(ctx context.Context, inbound *domain.InboundMessage) error {
	if err := s.bus.Add(ctx, domain.StreamProcessedMessages, inbound.Values()); err != nil {
		metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamIncomingMessages, "error").Inc()
		return err
	}
	metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamIncomingMessages, "ok").Inc()
	return nil
}
