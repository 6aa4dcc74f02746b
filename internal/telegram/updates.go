package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/internal/service/interaction"
)

// UserSource registers and resolves Telegram users
type UserSource interface {
	GetOrCreate(ctx context.Context, telegramID int64, username, firstName *string) (*domain.User, error)
}

// ReplyContextSource resolves which conversation a Telegram reply targets
type ReplyContextSource interface {
	Get(ctx context.Context, messageID int) (*domain.ReplyContext, error)
}

// Dialogs is the multi-step interaction surface of the update router
type Dialogs interface {
	HandleText(ctx context.Context, user *domain.User, text string) (*interaction.Outcome, error)
	AwaitNote(ctx context.Context, telegramID, accountID int64, chatID string) error
}

// StreamPublisher appends entries to relay streams
type StreamPublisher interface {
	Add(ctx context.Context, stream string, values map[string]interface{}) error
}

// Responder is the subset of the bot the router answers with
type Responder interface {
	SendText(chatID int64, text, parseMode, replyMarkup string) (int, error)
	AnswerCallback(callbackID, text string) error
}

// UpdateRouter dispatches incoming Telegram updates: replies to rendered
// cards become marketplace messages, inline buttons become chat actions,
// and plain text feeds the pending dialog state machine
type UpdateRouter struct {
	users         UserSource
	replyContexts ReplyContextSource
	dialogs       Dialogs
	bus           StreamPublisher
	bot           Responder
	log           *zap.Logger
}

// NewUpdateRouter creates a new UpdateRouter
func NewUpdateRouter(users UserSource, replyContexts ReplyContextSource, dialogs Dialogs, bus StreamPublisher, bot Responder, log *zap.Logger) *UpdateRouter {
	return &UpdateRouter{
		users:         users,
		replyContexts: replyContexts,
		dialogs:       dialogs,
		bus:           bus,
		bot:           bot,
		log:           log,
	}
}

// Run consumes the update channel until the context is cancelled
func (r *UpdateRouter) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			r.handleUpdate(ctx, &update)
		}
	}
}

func (r *UpdateRouter) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic while handling update", zap.Any("panic", rec))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func (r *UpdateRouter) resolveUser(ctx context.Context, from *tgbotapi.User) (*domain.User, error) {
	var username, firstName *string
	if from.UserName != "" {
		username = &from.UserName
	}
	if from.FirstName != "" {
		firstName = &from.FirstName
	}
	return r.users.GetOrCreate(ctx, from.ID, username, firstName)
}

// parseCardRef splits "action:accountID:chatID" callback data. Chat ids
// may contain colons, so only the first two separators split.
func parseCardRef(data string) (action string, accountID int64, chatID string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 {
		return "", 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	return parts[0], id, parts[2], true
}

func (r *UpdateRouter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, accountID, chatID, ok := parseCardRef(cb.Data)
	if !ok {
		r.answer(cb.ID, "")
		return
	}

	switch action {
	case "toggle_read":
		r.publishChatAction(ctx, cb, accountID, chatID, "mark_read", "Отмечено прочитанным")
	case "toggle_block":
		r.publishChatAction(ctx, cb, accountID, chatID, "toggle_block", "Готово")
	case "edit_note":
		if err := r.dialogs.AwaitNote(ctx, cb.From.ID, accountID, chatID); err != nil {
			r.log.Error("failed to start note dialog", zap.Error(err))
			r.answer(cb.ID, "Ошибка, попробуйте ещё раз")
			return
		}
		r.answer(cb.ID, "")
		r.bot.SendText(cb.From.ID, "📝 Отправьте текст заметки одним сообщением.", "", "")
	case "templates":
		r.answer(cb.ID, "Ответьте на карточку текстом сообщения")
	default:
		r.answer(cb.ID, "")
	}
}

func (r *UpdateRouter) publishChatAction(ctx context.Context, cb *tgbotapi.CallbackQuery, accountID int64, chatID, action, toast string) {
	chatAction := &domain.ChatAction{AccountID: accountID, ChatID: chatID, Action: action}
	if err := r.bus.Add(ctx, domain.StreamChatActions, chatAction.Values()); err != nil {
		r.log.Error("failed to queue chat action", zap.Error(err))
		r.answer(cb.ID, "Ошибка, попробуйте ещё раз")
		return
	}
	r.answer(cb.ID, toast)
}

func (r *UpdateRouter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, err := r.resolveUser(ctx, msg.From)
	if err != nil {
		r.log.Error("failed to resolve user", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		return
	}

	if msg.ReplyToMessage != nil {
		r.handleCardReply(ctx, user, msg)
		return
	}

	outcome, err := r.dialogs.HandleText(ctx, user, msg.Text)
	if err != nil {
		r.log.Error("dialog handling failed", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
		return
	}
	if outcome.Handled && outcome.Reply != "" {
		r.bot.SendText(user.TelegramID, outcome.Reply, "", "")
	}
}

// handleCardReply turns a Telegram reply to a rendered card into a
// marketplace message
func (r *UpdateRouter) handleCardReply(ctx context.Context, user *domain.User, msg *tgbotapi.Message) {
	replyCtx, err := r.replyContexts.Get(ctx, msg.ReplyToMessage.MessageID)
	if err != nil {
		r.log.Error("failed to load reply context", zap.Error(err))
		return
	}
	if replyCtx == nil {
		r.bot.SendText(user.TelegramID, "Не удалось определить диалог: карточка устарела.", "", "")
		return
	}
	if !replyCtx.CanReply {
		r.bot.SendText(user.TelegramID, "У вас нет прав отвечать в этом диалоге.", "", "")
		return
	}
	if msg.Text == "" {
		r.bot.SendText(user.TelegramID, "Поддерживаются только текстовые ответы.", "", "")
		return
	}

	outgoing := &domain.OutgoingMessage{
		AccountID:  replyCtx.AvitoAccountID,
		ChatID:     replyCtx.AvitoChatID,
		Text:       msg.Text,
		ActionType: domain.ActionTypeManualReply,
		AuthorName: user.DisplayName(),
	}
	if err := r.bus.Add(ctx, domain.StreamOutgoingMessages, outgoing.Values()); err != nil {
		r.log.Error("failed to queue reply", zap.Error(err))
		r.bot.SendText(user.TelegramID, "Не удалось отправить ответ, попробуйте ещё раз.", "", "")
		return
	}
}

func (r *UpdateRouter) answer(callbackID, text string) {
	if err := r.bot.AnswerCallback(callbackID, text); err != nil {
		r.log.Debug("failed to answer callback", zap.Error(err))
	}
}
