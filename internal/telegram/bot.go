package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ErrRecipientGone marks failures where the recipient can never receive
// the message again: blocked bot, deleted chat, vanished message. Callers
// react by unsubscribing the recipient instead of retrying.
var ErrRecipientGone = errors.New("telegram recipient unavailable")

// goneMarkers are the API error fragments that mean the recipient or
// target message is permanently unreachable
var goneMarkers = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"message to edit not found",
	"message can't be edited",
	"MESSAGE_ID_INVALID",
}

// Bot wraps the Telegram API client used by the relay workers
type Bot struct {
	api *tgbotapi.BotAPI
	log *zap.Logger
}

// NewBot creates a new Bot from a bot token
func NewBot(token string, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{api: api, log: log}, nil
}

// classify maps raw API errors onto the relay's error vocabulary
func classify(err error) error {
	if err == nil {
		return nil
	}
	text := err.Error()
	for _, marker := range goneMarkers {
		if strings.Contains(text, marker) {
			return fmt.Errorf("%w: %s", ErrRecipientGone, text)
		}
	}
	return err
}

// RetryAfter extracts the flood-control cooldown from an API error, or
// zero when the error is not a rate limit
func RetryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// SendCard sends an HTML conversation card with an inline keyboard and
// returns the new message id
func (b *Bot) SendCard(chatID int64, html string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// EditCard rewrites an existing conversation card in place. An unchanged
// card ("message is not modified") is treated as success.
func (b *Bot) EditCard(chatID int64, messageID int, html string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, html)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if keyboard != nil {
		edit.ReplyMarkup = keyboard
	}

	if _, err := b.api.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return classify(err)
	}
	return nil
}

// SendText sends a plain message. parseMode is "html", "markdown" or empty;
// replyMarkup is an optional serialized inline keyboard.
func (b *Bot) SendText(chatID int64, text, parseMode, replyMarkup string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	switch strings.ToLower(parseMode) {
	case "html":
		msg.ParseMode = tgbotapi.ModeHTML
	case "markdown":
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if replyMarkup != "" {
		var keyboard tgbotapi.InlineKeyboardMarkup
		if err := json.Unmarshal([]byte(replyMarkup), &keyboard); err != nil {
			b.log.Warn("dropping malformed reply markup", zap.Error(err))
		} else {
			msg.ReplyMarkup = keyboard
		}
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// SendDocument sends a local file as a document
func (b *Bot) SendDocument(chatID int64, filePath, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filePath))
	doc.Caption = caption
	if _, err := b.api.Send(doc); err != nil {
		return classify(err)
	}
	return nil
}

// SendPhotoURL sends a photo by remote URL
func (b *Bot) SendPhotoURL(chatID int64, url, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		return classify(err)
	}
	return nil
}

// SendVoiceURL sends a voice message by remote URL
func (b *Bot) SendVoiceURL(chatID int64, url string) error {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileURL(url))
	if _, err := b.api.Send(voice); err != nil {
		return classify(err)
	}
	return nil
}

// SendLocation sends a map point
func (b *Bot) SendLocation(chatID int64, lat, lon float64) error {
	loc := tgbotapi.NewLocation(chatID, lat, lon)
	if _, err := b.api.Send(loc); err != nil {
		return classify(err)
	}
	return nil
}

// SendChatAction shows a typing-style indicator ("typing", "upload_photo")
func (b *Bot) SendChatAction(chatID int64, action string) error {
	if action == "" {
		action = tgbotapi.ChatTyping
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		return classify(err)
	}
	return nil
}

// Updates opens the long-poll update channel
func (b *Bot) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	return b.api.GetUpdatesChan(u)
}

// StopUpdates closes the long-poll update channel
func (b *Bot) StopUpdates() {
	b.api.StopReceivingUpdates()
}

// AnswerCallback acknowledges an inline button press, optionally with a
// toast text
func (b *Bot) AnswerCallback(callbackID, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return classify(err)
	}
	return nil
}

// ParseLatLon converts the stringly lat/lon pair carried on the wire
func ParseLatLon(lat, lon string) (float64, float64, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}
	return la, lo, nil
}
