package view

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"avitobridge-backend/internal/avito"
	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/metrics"
)

// rehydrateMessageLimit is how much history is fetched when rebuilding a
// view from the marketplace
const rehydrateMessageLimit = 10

// ChatGateway is the marketplace surface the provider rebuilds views from
type ChatGateway interface {
	GetChatInfo(ctx context.Context, chatID string) (*avito.ChatInfo, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]avito.Message, error)
}

// ViewStore persists conversation view documents
type ViewStore interface {
	Get(ctx context.Context, viewKey string) (*domain.ConversationView, error)
	Set(ctx context.Context, viewKey string, view *domain.ConversationView) error
	Update(ctx context.Context, viewKey string, view *domain.ConversationView) error
}

// NoteLister loads the helper notes attached to a conversation
type NoteLister interface {
	ListForChat(ctx context.Context, accountID int64, chatID string) ([]*domain.ChatNote, error)
}

// Provider serves conversation views. Every request rebuilds the display
// facts (interlocutor, item, last client message) from the marketplace
// and the notes from the relational store, then folds in the state only
// the cached document knows: subscribers, the reply history and the
// unread marker.
type Provider struct {
	views ViewStore
	notes NoteLister
	log   *zap.Logger
}

// NewProvider creates a new Provider
func NewProvider(views ViewStore, notes NoteLister, log *zap.Logger) *Provider {
	return &Provider{views: views, notes: notes, log: log}
}

// GetOrRehydrate returns the current view for a conversation, rebuilt
// from the marketplace and persisted with a fresh TTL. When the
// marketplace is unreachable, a cached document of the current schema
// version is served as-is rather than failing the delivery.
func (p *Provider) GetOrRehydrate(ctx context.Context, gw ChatGateway, account *domain.AvitoAccount, chatID string) (*domain.ConversationView, error) {
	key := domain.ViewKey(account.ID, chatID)

	cached, err := p.views.Get(ctx, key)
	if err != nil {
		// A corrupt document is rebuilt rather than surfaced
		p.log.Warn("discarding unreadable view document", zap.String("view_key", key), zap.Error(err))
		cached = nil
	}

	fresh, err := p.rehydrate(ctx, gw, account, chatID)
	if err != nil {
		metrics.ViewRehydrationsTotal.WithLabelValues("error").Inc()
		if cached != nil && !cached.IsStale() {
			p.log.Warn("marketplace fetch failed, serving cached view",
				zap.String("view_key", key),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, err
	}
	metrics.ViewRehydrationsTotal.WithLabelValues("ok").Inc()

	mergeCached(fresh, cached)

	if err := p.views.Set(ctx, key, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// rehydrate rebuilds a view from chat metadata, recent messages and
// stored notes, fetched concurrently. A note lookup failure degrades to
// a card without notes instead of blocking the delivery.
func (p *Provider) rehydrate(ctx context.Context, gw ChatGateway, account *domain.AvitoAccount, chatID string) (*domain.ConversationView, error) {
	var (
		wg       sync.WaitGroup
		info     *avito.ChatInfo
		infoErr  error
		messages []avito.Message
		msgsErr  error
		notes    []*domain.ChatNote
		notesErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		info, infoErr = gw.GetChatInfo(ctx, chatID)
	}()
	go func() {
		defer wg.Done()
		messages, msgsErr = gw.GetMessages(ctx, chatID, rehydrateMessageLimit)
	}()
	go func() {
		defer wg.Done()
		notes, notesErr = p.notes.ListForChat(ctx, account.ID, chatID)
	}()
	wg.Wait()

	if infoErr != nil {
		return nil, fmt.Errorf("failed to fetch chat info: %w", infoErr)
	}
	if msgsErr != nil {
		return nil, fmt.Errorf("failed to fetch chat messages: %w", msgsErr)
	}
	if notesErr != nil {
		p.log.Warn("failed to load chat notes",
			zap.Int64("account_id", account.ID),
			zap.String("chat_id", chatID),
			zap.Error(notesErr),
		)
		notes = nil
	}

	view := &domain.ConversationView{
		ViewVersion: domain.ViewVersion,
		AccountID:   account.ID,
		ChatID:      chatID,
		Subscribers: make(map[string]int),
		Notes:       make(map[string]domain.NoteEntry),
		ActionLog:   []domain.ActionLogEntry{},

		// No unread marker until a real inbound message proves otherwise
		IsLastMessageRead: true,
	}
	if account.Alias != nil && *account.Alias != "" {
		view.AccountAlias = account.Alias
	}

	if interlocutor := info.Interlocutor(account.AvitoUserID); interlocutor != nil {
		view.InterlocutorName = interlocutor.Name
		view.InterlocutorID = interlocutor.ID
		view.IsBlocked = interlocutor.Blocked
	}

	item := info.Context.Value
	view.ItemTitle = item.Title
	if item.PriceString != "" {
		price := item.PriceString
		view.ItemPriceString = &price
	}
	if item.URL != "" {
		u := item.URL
		view.ItemURL = &u
	}

	// Messages arrive newest first; the card shows the latest client message
	for i := range messages {
		if messages[i].Direction != "in" {
			continue
		}
		view.LastClientMessageText = messages[i].Content.Text
		view.LastClientMessageTimestamp = messages[i].Created
		view.IsLastMessageRead = messages[i].IsRead
		break
	}

	for _, note := range notes {
		entry := domain.NoteEntry{Text: note.Text, Timestamp: note.UpdatedAt.Unix()}
		if note.Author != nil {
			entry.AuthorName = note.Author.DisplayName()
		}
		view.Notes[strconv.FormatInt(note.AuthorID, 10)] = entry
	}

	return view, nil
}

// mergeCached folds the state only the cached document knows into the
// rebuilt one. Subscribers and the reply history always survive; the
// reply history belongs to the client message and is reset downstream
// when a genuinely new one arrives. The marketplace history API can lag
// behind the webhook, so a cached document that already saw a newer
// client message keeps it, and a cached unread marker survives only as
// unread: the rebuilt read flag may claim "read" from that same lag.
func mergeCached(fresh, cached *domain.ConversationView) {
	if cached == nil {
		return
	}

	for id, msgID := range cached.Subscribers {
		fresh.Subscribers[id] = msgID
	}
	// Notes come from the relational store on every rebuild; cached
	// entries only fill in when that lookup degraded
	for author, note := range cached.Notes {
		if _, ok := fresh.Notes[author]; !ok {
			fresh.Notes[author] = note
		}
	}
	if cached.LastClientMessageTimestamp > fresh.LastClientMessageTimestamp {
		fresh.LastClientMessageText = cached.LastClientMessageText
		fresh.LastClientMessageTimestamp = cached.LastClientMessageTimestamp
		fresh.LastClientMessageAttachment = cached.LastClientMessageAttachment
		fresh.IsLastMessageRead = cached.IsLastMessageRead
	}
	if len(cached.ActionLog) > 0 {
		fresh.ActionLog = cached.ActionLog
		if len(fresh.ActionLog) > domain.ActionLogCap {
			fresh.ActionLog = fresh.ActionLog[:domain.ActionLogCap]
		}
	}
	if !cached.IsLastMessageRead {
		fresh.IsLastMessageRead = false
	}
}

// Subscribe records the Telegram message id showing the card for a user
func (p *Provider) Subscribe(ctx context.Context, viewKey string, telegramID int64, messageID int) error {
	view, err := p.views.Get(ctx, viewKey)
	if err != nil {
		return err
	}
	if view == nil {
		return fmt.Errorf("view %s not found", viewKey)
	}
	view.Subscribe(telegramID, messageID)
	return p.views.Update(ctx, viewKey, view)
}

// Unsubscribe removes a user's card binding, used when Telegram reports
// the card message unreachable
func (p *Provider) Unsubscribe(ctx context.Context, viewKey string, telegramID int64) error {
	view, err := p.views.Get(ctx, viewKey)
	if err != nil {
		return err
	}
	if view == nil {
		return nil
	}
	view.Unsubscribe(telegramID)
	return p.views.Update(ctx, viewKey, view)
}
