package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/service/view"
	"avitobridge-backend/pkg/metrics"
)

// SubscriberUpdater re-renders a view's card for every subscriber
type SubscriberUpdater interface {
	UpdateAllSubscribers(ctx context.Context, v *domain.ConversationView) error
}

// OutboundDispatcher delivers queued replies to the marketplace and
// reflects them on the conversation card. The entry is acked even when
// the marketplace rejects the send: replies are user-visible actions and
// silently re-sending one hours later would be worse than losing it.
type OutboundDispatcher struct {
	accounts   AccountStore
	gateway    GatewayFactory
	messageLog MessageLogger
	views      view.ViewStore
	updater    SubscriberUpdater
	log        *zap.Logger
}

// NewOutboundDispatcher creates a new OutboundDispatcher
func NewOutboundDispatcher(
	accounts AccountStore,
	gateway GatewayFactory,
	messageLog MessageLogger,
	views view.ViewStore,
	updater SubscriberUpdater,
	log *zap.Logger,
) *OutboundDispatcher {
	return &OutboundDispatcher{
		accounts:   accounts,
		gateway:    gateway,
		messageLog: messageLog,
		views:      views,
		updater:    updater,
		log:        log,
	}
}

// Handle processes one outgoing reply
func (d *OutboundDispatcher) Handle(ctx context.Context, msg *redis.XMessage) error {
	outgoing, err := domain.ParseOutgoingMessage(msg.Values)
	if err != nil {
		d.log.Warn("dropping malformed outgoing entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	account, err := d.accounts.GetByID(ctx, outgoing.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil || !account.IsActive {
		d.log.Warn("dropping reply for inactive account", zap.Int64("account_id", outgoing.AccountID))
		return nil
	}

	gw := d.gateway(account)
	if outgoing.ImageID != "" {
		err = gw.SendImage(ctx, outgoing.ChatID, outgoing.ImageID, outgoing.Text)
	} else {
		err = gw.SendText(ctx, outgoing.ChatID, outgoing.Text)
	}
	if err != nil {
		metrics.AvitoSendFailedTotal.WithLabelValues(outgoing.ActionType).Inc()
		d.log.Error("marketplace send failed",
			zap.Int64("account_id", outgoing.AccountID),
			zap.String("chat_id", outgoing.ChatID),
			zap.String("action_type", outgoing.ActionType),
			zap.Error(err),
		)
		return nil
	}

	d.recordAndRender(ctx, outgoing)
	metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamOutgoingMessages, "ok").Inc()
	return nil
}

// recordAndRender logs the sent reply and pushes it onto every
// subscriber's card. The reply is already on the marketplace, so
// failures here are logged and swallowed.
func (d *OutboundDispatcher) recordAndRender(ctx context.Context, outgoing *domain.OutgoingMessage) {
	logEntry := &domain.MessageLog{
		AccountID:   outgoing.AccountID,
		ChatID:      outgoing.ChatID,
		Direction:   domain.DirectionOut,
		IsAutoReply: outgoing.ActionType == domain.ActionTypeAutoReply,
	}
	if logEntry.IsAutoReply && outgoing.RuleName != "" {
		rule := outgoing.RuleName
		logEntry.TriggerName = &rule
	}
	if err := d.messageLog.Append(ctx, logEntry); err != nil {
		d.log.Warn("failed to record outgoing message", zap.Error(err))
	}

	key := domain.ViewKey(outgoing.AccountID, outgoing.ChatID)
	v, err := d.views.Get(ctx, key)
	if err != nil || v == nil {
		if err != nil {
			d.log.Warn("failed to load view after send", zap.String("view_key", key), zap.Error(err))
		}
		return
	}

	entry := domain.ActionLogEntry{
		Type:         actionLogType(outgoing.ActionType),
		AuthorName:   outgoing.AuthorName,
		Text:         outgoing.Text,
		TemplateName: outgoing.TemplateName,
		RuleName:     outgoing.RuleName,
		Timestamp:    time.Now().Unix(),
	}
	v.PrependAction(entry)
	// Replying marks the conversation read on the marketplace side
	v.IsLastMessageRead = true

	if err := d.views.Update(ctx, key, v); err != nil {
		d.log.Warn("failed to persist view after send", zap.String("view_key", key), zap.Error(err))
		return
	}
	if err := d.updater.UpdateAllSubscribers(ctx, v); err != nil {
		d.log.Warn("failed to refresh subscriber cards", zap.String("view_key", key), zap.Error(err))
	}
}

func actionLogType(actionType string) string {
	switch actionType {
	case domain.ActionTypeAutoReply:
		return domain.ActionAutoReply
	case domain.ActionTypeTemplateReply:
		return domain.ActionTemplateReply
	case domain.ActionTypeImageReply:
		return domain.ActionImageReply
	default:
		return domain.ActionManualReply
	}
}

// ChatActionStage executes marketplace-side chat actions (read marker,
// block, unblock) and syncs the result back onto the card
type ChatActionStage struct {
	accounts AccountStore
	gateway  GatewayFactory
	views    view.ViewStore
	updater  SubscriberUpdater
	log      *zap.Logger
}

// NewChatActionStage creates a new ChatActionStage
func NewChatActionStage(accounts AccountStore, gateway GatewayFactory, views view.ViewStore, updater SubscriberUpdater, log *zap.Logger) *ChatActionStage {
	return &ChatActionStage{accounts: accounts, gateway: gateway, views: views, updater: updater, log: log}
}

// Handle processes one chat action
func (s *ChatActionStage) Handle(ctx context.Context, msg *redis.XMessage) error {
	action, err := domain.ParseChatAction(msg.Values)
	if err != nil {
		s.log.Warn("dropping malformed chat action", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	account, err := s.accounts.GetByID(ctx, action.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil || !account.IsActive {
		return nil
	}

	key := domain.ViewKey(action.AccountID, action.ChatID)
	v, err := s.views.Get(ctx, key)
	if err != nil {
		return err
	}

	gw := s.gateway(account)
	if action.Action == "toggle_block" {
		// Resolved against the current view state
		if v != nil && v.IsBlocked {
			action.Action = "unblock"
		} else {
			action.Action = "block"
		}
	}

	switch action.Action {
	case "mark_read":
		if err := gw.MarkRead(ctx, action.ChatID); err != nil {
			s.log.Error("failed to mark chat read", zap.String("chat_id", action.ChatID), zap.Error(err))
			return nil
		}
		if v != nil {
			v.IsLastMessageRead = true
		}
	case "block":
		if v == nil {
			s.log.Warn("cannot block without a view, interlocutor unknown", zap.String("chat_id", action.ChatID))
			return nil
		}
		if err := gw.BlockUser(ctx, v.InterlocutorID, nil); err != nil {
			s.log.Error("failed to block user", zap.String("chat_id", action.ChatID), zap.Error(err))
			return nil
		}
		v.IsBlocked = true
	case "unblock":
		if v == nil {
			return nil
		}
		if err := gw.UnblockUser(ctx, v.InterlocutorID); err != nil {
			s.log.Error("failed to unblock user", zap.String("chat_id", action.ChatID), zap.Error(err))
			return nil
		}
		v.IsBlocked = false
	default:
		s.log.Warn("unknown chat action", zap.String("action", action.Action))
		return nil
	}

	if v == nil {
		return nil
	}
	if err := s.views.Update(ctx, key, v); err != nil {
		return err
	}
	if err := s.updater.UpdateAllSubscribers(ctx, v); err != nil {
		s.log.Warn("failed to refresh subscriber cards", zap.String("view_key", key), zap.Error(err))
	}
	return nil
}
