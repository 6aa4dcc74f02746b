package view

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/telegram"
	"avitobridge-backend/pkg/metrics"
)

const cardTimeLayout = "02.01.2006 15:04"

// CardSender delivers and edits rendered cards
type CardSender interface {
	SendCard(chatID int64, html string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error)
	EditCard(chatID int64, messageID int, html string, keyboard *tgbotapi.InlineKeyboardMarkup) error
}

// UserLoader resolves subscribers in one batch for per-user rendering
type UserLoader interface {
	GetByTelegramIDs(ctx context.Context, telegramIDs []int64) (map[int64]*domain.User, error)
}

// CardUnsubscriber drops a user's card binding from the stored view
type CardUnsubscriber interface {
	Unsubscribe(ctx context.Context, viewKey string, telegramID int64) error
}

// Renderer turns conversation views into Telegram cards and keeps every
// subscriber's copy in sync
type Renderer struct {
	sender CardSender
	users  UserLoader
	subs   CardUnsubscriber
	log    *zap.Logger
}

// NewRenderer creates a new Renderer
func NewRenderer(sender CardSender, users UserLoader, subs CardUnsubscriber, log *zap.Logger) *Renderer {
	return &Renderer{sender: sender, users: users, subs: subs, log: log}
}

// userLocation resolves the user's display timezone, falling back to UTC
func userLocation(user *domain.User) *time.Location {
	if user == nil || user.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func formatCardTime(ts int64, loc *time.Location) string {
	return time.Unix(ts, 0).In(loc).Format(cardTimeLayout)
}

// BuildText renders the HTML card body for one subscriber. Timestamps use
// the subscriber's timezone, so the same view renders differently per user.
func (r *Renderer) BuildText(view *domain.ConversationView, user *domain.User) string {
	loc := userLocation(user)
	text := "💬 <b>" + html.EscapeString(view.InterlocutorName) + "</b>"
	if view.IsBlocked {
		text += " 🚫"
	}
	if view.AccountAlias != nil {
		text += fmt.Sprintf("\n👤 Аккаунт: <i>%s</i>", html.EscapeString(*view.AccountAlias))
	}

	if view.ItemTitle != "" {
		title := html.EscapeString(view.ItemTitle)
		if view.ItemURL != nil {
			text += fmt.Sprintf("\n📦 <a href=\"%s\">%s</a>", *view.ItemURL, title)
		} else {
			text += "\n📦 " + title
		}
		if view.ItemPriceString != nil {
			text += " — " + html.EscapeString(*view.ItemPriceString)
		}
	}

	if view.LastClientMessageText != "" || view.LastClientMessageAttachment != nil {
		marker := "🔵"
		if view.IsLastMessageRead {
			marker = "⚪️"
		}
		text += fmt.Sprintf("\n\n%s <i>%s</i>", marker, formatCardTime(view.LastClientMessageTimestamp, loc))
		if view.LastClientMessageAttachment != nil {
			text += fmt.Sprintf("\n📎 %s", html.EscapeString(view.LastClientMessageAttachment.Kind))
		}
		if view.LastClientMessageText != "" {
			text += "\n<blockquote>" + html.EscapeString(view.LastClientMessageText) + "</blockquote>"
		}
	}

	if len(view.ActionLog) > 0 {
		text += "\n\n📤 <b>Ответы:</b>"
		for _, entry := range view.ActionLog {
			text += "\n" + renderAction(&entry, loc)
		}
	}

	if len(view.Notes) > 0 {
		text += "\n\n📝 <b>Заметки:</b>"
		for _, note := range view.Notes {
			text += fmt.Sprintf("\n<i>%s:</i> %s",
				html.EscapeString(note.AuthorName), html.EscapeString(note.Text))
		}
	}

	return text
}

func renderAction(entry *domain.ActionLogEntry, loc *time.Location) string {
	when := formatCardTime(entry.Timestamp, loc)
	author := html.EscapeString(entry.AuthorName)
	switch entry.Type {
	case domain.ActionAutoReply:
		label := "🤖 Автоответ"
		if entry.RuleName != "" {
			label += " «" + html.EscapeString(entry.RuleName) + "»"
		}
		return fmt.Sprintf("%s (%s): %s", label, when, html.EscapeString(entry.Text))
	case domain.ActionTemplateReply:
		label := author
		if entry.TemplateName != "" {
			label += " 📋 «" + html.EscapeString(entry.TemplateName) + "»"
		}
		return fmt.Sprintf("%s (%s): %s", label, when, html.EscapeString(entry.Text))
	case domain.ActionImageReply:
		return fmt.Sprintf("%s (%s): 🖼 изображение", author, when)
	default:
		return fmt.Sprintf("%s (%s): %s", author, when, html.EscapeString(entry.Text))
	}
}

// BuildKeyboard renders the card's inline controls
func (r *Renderer) BuildKeyboard(view *domain.ConversationView) *tgbotapi.InlineKeyboardMarkup {
	ref := strconv.FormatInt(view.AccountID, 10) + ":" + view.ChatID

	readLabel := "✅ Прочитано"
	if view.IsLastMessageRead {
		readLabel = "🔵 Не прочитано"
	}
	blockLabel := "🚫 Заблокировать"
	if view.IsBlocked {
		blockLabel = "♻️ Разблокировать"
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(readLabel, "toggle_read:"+ref),
			tgbotapi.NewInlineKeyboardButtonData(blockLabel, "toggle_block:"+ref),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Шаблоны", "templates:"+ref),
			tgbotapi.NewInlineKeyboardButtonData("📝 Заметка", "edit_note:"+ref),
		),
	)
	return &keyboard
}

// RenderNewCard sends a fresh card to one user and returns the Telegram
// message id
func (r *Renderer) RenderNewCard(view *domain.ConversationView, user *domain.User) (int, error) {
	return r.sender.SendCard(user.TelegramID, r.BuildText(view, user), r.BuildKeyboard(view))
}

// UpdateAllSubscribers re-renders the card for every subscriber. A
// subscriber whose card is unreachable (blocked bot, deleted message) is
// dropped from the view so the next update skips them.
func (r *Renderer) UpdateAllSubscribers(ctx context.Context, view *domain.ConversationView) error {
	if len(view.Subscribers) == 0 {
		return nil
	}

	telegramIDs := make([]int64, 0, len(view.Subscribers))
	for id := range view.Subscribers {
		tgID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		telegramIDs = append(telegramIDs, tgID)
	}

	users, err := r.users.GetByTelegramIDs(ctx, telegramIDs)
	if err != nil {
		return fmt.Errorf("failed to load subscribers: %w", err)
	}

	keyboard := r.BuildKeyboard(view)
	updated := 0
	var gone []int64

	for _, tgID := range telegramIDs {
		messageID := view.Subscribers[strconv.FormatInt(tgID, 10)]
		text := r.BuildText(view, users[tgID])

		if err := r.sender.EditCard(tgID, messageID, text, keyboard); err != nil {
			if errors.Is(err, telegram.ErrRecipientGone) {
				gone = append(gone, tgID)
				continue
			}
			r.log.Error("failed to update subscriber card",
				zap.Int64("telegram_id", tgID),
				zap.String("chat_id", view.ChatID),
				zap.Error(err),
			)
			continue
		}
		updated++
	}
	metrics.ViewSubscribersUpdated.Observe(float64(updated))

	key := domain.ViewKey(view.AccountID, view.ChatID)
	for _, tgID := range gone {
		view.Unsubscribe(tgID)
		if err := r.subs.Unsubscribe(ctx, key, tgID); err != nil {
			return err
		}
		r.log.Info("unsubscribed unreachable card",
			zap.Int64("telegram_id", tgID),
			zap.String("chat_id", view.ChatID),
		)
	}
	return nil
}
