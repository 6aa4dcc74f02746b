package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/avito"
	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/service/view"
	"avitobridge-backend/internal/telegram"
	"avitobridge-backend/pkg/metrics"
)

// Attachment display labels shown on cards and forwarded messages
const (
	attachmentPhoto    = "фото"
	attachmentVoice    = "голосовое сообщение"
	attachmentVideo    = "видео"
	attachmentLocation = "геопозиция"
)

// Gateway is the per-account marketplace surface used by the processors
type Gateway interface {
	GetChatInfo(ctx context.Context, chatID string) (*avito.ChatInfo, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]avito.Message, error)
	GetVoiceFiles(ctx context.Context, voiceIDs []string) (map[string]string, error)
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, imageID, caption string) error
	MarkRead(ctx context.Context, chatID string) error
	BlockUser(ctx context.Context, userID int64, itemID *int64) error
	UnblockUser(ctx context.Context, userID int64) error
}

// GatewayFactory builds the marketplace gateway for one account
type GatewayFactory func(account *domain.AvitoAccount) Gateway

// UserStore resolves Telegram users
type UserStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
}

// AccountStore resolves internal accounts by id
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*domain.AvitoAccount, error)
}

// ViewProvider serves conversation views and owns card subscriptions
type ViewProvider interface {
	GetOrRehydrate(ctx context.Context, gw view.ChatGateway, account *domain.AvitoAccount, chatID string) (*domain.ConversationView, error)
	Subscribe(ctx context.Context, viewKey string, telegramID int64, messageID int) error
}

// CardRenderer sends fresh conversation cards
type CardRenderer interface {
	RenderNewCard(v *domain.ConversationView, user *domain.User) (int, error)
}

// AttachmentSender forwards non-text message content to a recipient
type AttachmentSender interface {
	SendPhotoURL(chatID int64, url, caption string) error
	SendVoiceURL(chatID int64, url string) error
	SendLocation(chatID int64, lat, lon float64) error
}

// ReplyContextStore binds card message ids to their conversations
type ReplyContextStore interface {
	Set(ctx context.Context, messageID int, replyCtx *domain.ReplyContext) error
}

// EventProcessor turns one recipient event into a delivered conversation
// card: it applies the inbound message to the shared view, forwards any
// attachment, sends the card and registers the reply context. Delivery
// failures to a single recipient are swallowed; the entry is acked so the
// rest of the fan-out is unaffected.
type EventProcessor struct {
	users         UserStore
	accounts      AccountStore
	gateway       GatewayFactory
	provider      ViewProvider
	renderer      CardRenderer
	views         view.ViewStore
	attachments   AttachmentSender
	replyContexts ReplyContextStore
	log           *zap.Logger
}

// NewEventProcessor creates a new EventProcessor
func NewEventProcessor(
	users UserStore,
	accounts AccountStore,
	gateway GatewayFactory,
	provider ViewProvider,
	renderer CardRenderer,
	views view.ViewStore,
	attachments AttachmentSender,
	replyContexts ReplyContextStore,
	log *zap.Logger,
) *EventProcessor {
	return &EventProcessor{
		users:         users,
		accounts:      accounts,
		gateway:       gateway,
		provider:      provider,
		renderer:      renderer,
		views:         views,
		attachments:   attachments,
		replyContexts: replyContexts,
		log:           log,
	}
}

// Handle processes one recipient event
func (p *EventProcessor) Handle(ctx context.Context, msg *redis.XMessage) error {
	event, err := domain.ParseFanoutEvent(msg.Values)
	if err != nil {
		p.log.Warn("dropping malformed recipient event", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}

	user, err := p.users.GetByTelegramID(ctx, event.UserTelegramID)
	if err != nil {
		return fmt.Errorf("failed to load recipient: %w", err)
	}
	if user == nil {
		p.log.Warn("dropping event for unknown recipient", zap.Int64("telegram_id", event.UserTelegramID))
		return nil
	}

	account, err := p.accounts.GetByID(ctx, event.DBAccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		p.log.Warn("dropping event for unknown account", zap.Int64("account_id", event.DBAccountID))
		return nil
	}

	gw := p.gateway(account)
	inbound := &event.Message

	v, err := p.provider.GetOrRehydrate(ctx, gw, account, inbound.ChatID)
	if err != nil {
		return err
	}

	key := domain.ViewKey(account.ID, inbound.ChatID)
	applyInbound(v, inbound)
	// New inbound traffic refreshes the conversation's retention window
	if err := p.views.Set(ctx, key, v); err != nil {
		return err
	}

	p.forwardAttachment(ctx, gw, user, inbound)

	cardID, err := p.renderer.RenderNewCard(v, user)
	if err != nil {
		if errors.Is(err, telegram.ErrRecipientGone) {
			p.log.Info("recipient unreachable, card not delivered", zap.Int64("telegram_id", user.TelegramID))
			return nil
		}
		// One recipient's failure must not hold up the stream
		p.log.Error("failed to deliver card",
			zap.Int64("telegram_id", user.TelegramID),
			zap.String("chat_id", inbound.ChatID),
			zap.Error(err),
		)
		return nil
	}

	v.Subscribe(user.TelegramID, cardID)
	if err := p.provider.Subscribe(ctx, key, user.TelegramID, cardID); err != nil {
		return err
	}

	replyCtx := &domain.ReplyContext{
		AvitoChatID:    inbound.ChatID,
		AvitoAccountID: account.ID,
		CanReply:       event.CanReply,
	}
	if err := p.replyContexts.Set(ctx, cardID, replyCtx); err != nil {
		return err
	}

	metrics.StreamEntriesProcessedTotal.WithLabelValues(domain.StreamNewMessageEvents, "ok").Inc()
	return nil
}

// applyInbound folds a new client message into the view. Applying the
// same message twice is a no-op, which matters because the fan-out
// delivers one event per recipient against the shared view.
func applyInbound(v *domain.ConversationView, inbound *domain.InboundMessage) {
	sameMessage := v.LastClientMessageTimestamp == inbound.CreatedTS &&
		v.LastClientMessageText == inbound.Text

	if !sameMessage {
		v.LastClientMessageText = inbound.Text
		v.LastClientMessageTimestamp = inbound.CreatedTS
		v.LastClientMessageAttachment = attachmentInfo(inbound)
		// The reply history belonged to the previous client message
		v.ActionLog = []domain.ActionLogEntry{}
		v.IsLastMessageRead = false
	}

	if inbound.AutoreplySent {
		// Replying marks the chat read on the marketplace side
		v.IsLastMessageRead = true
		entry := domain.ActionLogEntry{
			Type:       domain.ActionAutoReply,
			AuthorName: autoReplyAuthor,
			Text:       inbound.AutoreplyText,
			RuleName:   inbound.AutoreplyRuleName,
			Timestamp:  time.Now().Unix(),
		}
		if len(v.ActionLog) == 0 || !sameAutoReply(&v.ActionLog[0], &entry) {
			v.PrependAction(entry)
		}
	}
}

func sameAutoReply(a, b *domain.ActionLogEntry) bool {
	return a.Type == domain.ActionAutoReply && a.RuleName == b.RuleName && a.Text == b.Text
}

func attachmentInfo(inbound *domain.InboundMessage) *domain.AttachmentInfo {
	switch {
	case inbound.ImageURL != "":
		return &domain.AttachmentInfo{Kind: attachmentPhoto}
	case inbound.VoiceID != "":
		return &domain.AttachmentInfo{Kind: attachmentVoice}
	case inbound.VideoPreviewURL != "":
		return &domain.AttachmentInfo{Kind: attachmentVideo}
	case inbound.LocationLat != "":
		return &domain.AttachmentInfo{Kind: attachmentLocation}
	default:
		return nil
	}
}

// forwardAttachment delivers the message's non-text content as a separate
// Telegram message. Best effort: a failed attachment still leaves the
// card delivery to proceed.
func (p *EventProcessor) forwardAttachment(ctx context.Context, gw Gateway, user *domain.User, inbound *domain.InboundMessage) {
	var err error
	switch {
	case inbound.ImageURL != "":
		err = p.attachments.SendPhotoURL(user.TelegramID, inbound.ImageURL, "")
	case inbound.VoiceID != "":
		var urls map[string]string
		urls, err = gw.GetVoiceFiles(ctx, []string{inbound.VoiceID})
		if err == nil {
			if u, ok := urls[inbound.VoiceID]; ok {
				err = p.attachments.SendVoiceURL(user.TelegramID, u)
			}
		}
	case inbound.VideoPreviewURL != "":
		err = p.attachments.SendPhotoURL(user.TelegramID, inbound.VideoPreviewURL, attachmentVideo)
	case inbound.LocationLat != "" && inbound.LocationLon != "":
		var lat, lon float64
		lat, lon, err = telegram.ParseLatLon(inbound.LocationLat, inbound.LocationLon)
		if err == nil {
			err = p.attachments.SendLocation(user.TelegramID, lat, lon)
		}
	default:
		return
	}

	if err != nil {
		p.log.Warn("failed to forward attachment",
			zap.Int64("telegram_id", user.TelegramID),
			zap.String("chat_id", inbound.ChatID),
			zap.Error(err),
		)
	}
}
