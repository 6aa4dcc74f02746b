package domain

import (
	"encoding/json"
	"fmt"
)

// ViewVersion is the current conversation view schema version.
// Bump when the document shape changes; UnmarshalView upgrades older
// documents on read.
const ViewVersion = 13

// ActionLogCap bounds the visible reply history on a card
const ActionLogCap = 5

// Action log entry types
const (
	ActionManualReply   = "manual_reply"
	ActionTemplateReply = "template_reply"
	ActionAutoReply     = "auto_reply"
	ActionImageReply    = "image_reply"
)

// ActionLogEntry is one reply action shown on the card, most recent first
type ActionLogEntry struct {
	Type         string `json:"type"`
	AuthorName   string `json:"author_name"`
	Text         string `json:"text"`
	TemplateName string `json:"template_name,omitempty"`
	RuleName     string `json:"rule_name,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// NoteEntry is one operator's note as shown on the card
type NoteEntry struct {
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// AttachmentInfo references the separately forwarded attachment message
type AttachmentInfo struct {
	MessageID int    `json:"message_id"`
	Kind      string `json:"type"` // "фото", "голосовое сообщение", "видео", "геопозиция"
}

// ConversationView is the materialized per-chat display state cached in
// the view store. Subscribers maps Telegram user id (as string, JSON keys
// are strings) to the Telegram message id currently showing the card.
type ConversationView struct {
	ViewVersion  int     `json:"view_version"`
	AccountID    int64   `json:"account_id"`
	AccountAlias *string `json:"account_alias,omitempty"`
	ChatID       string  `json:"chat_id"`

	InterlocutorName string `json:"interlocutor_name"`
	InterlocutorID   int64  `json:"interlocutor_id"`
	IsBlocked        bool   `json:"is_blocked"`

	ItemTitle       string  `json:"item_title"`
	ItemPriceString *string `json:"item_price_string,omitempty"`
	ItemURL         *string `json:"item_url,omitempty"`

	LastClientMessageText       string          `json:"last_client_message_text,omitempty"`
	LastClientMessageTimestamp  int64           `json:"last_client_message_timestamp,omitempty"`
	LastClientMessageAttachment *AttachmentInfo `json:"last_client_message_attachment,omitempty"`
	IsLastMessageRead           bool            `json:"is_last_message_read"`

	Subscribers map[string]int       `json:"subscribers"`
	Notes       map[string]NoteEntry `json:"notes"`
	ActionLog   []ActionLogEntry     `json:"action_log"`
}

// ViewKey builds the view store key for one conversation
func ViewKey(accountID int64, chatID string) string {
	return fmt.Sprintf("chat_view:%d:%s", accountID, chatID)
}

// PrependAction inserts an entry at the head of the action log and trims
// it to the cap
func (v *ConversationView) PrependAction(entry ActionLogEntry) {
	log := append([]ActionLogEntry{entry}, v.ActionLog...)
	if len(log) > ActionLogCap {
		log = log[:ActionLogCap]
	}
	v.ActionLog = log
}

// Subscribe upserts a subscriber's card message id
func (v *ConversationView) Subscribe(telegramID int64, messageID int) {
	if v.Subscribers == nil {
		v.Subscribers = make(map[string]int)
	}
	v.Subscribers[fmt.Sprintf("%d", telegramID)] = messageID
}

// Unsubscribe removes a subscriber; safe when absent
func (v *ConversationView) Unsubscribe(telegramID int64) {
	delete(v.Subscribers, fmt.Sprintf("%d", telegramID))
}

// UnmarshalView decodes a stored view document defensively. The stored
// ViewVersion is preserved so callers can detect documents written by an
// older schema and rebuild them.
func UnmarshalView(data []byte) (*ConversationView, error) {
	var view ConversationView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to decode view document: %w", err)
	}

	// Older documents may lack the maps entirely
	if view.Subscribers == nil {
		view.Subscribers = make(map[string]int)
	}
	if view.Notes == nil {
		view.Notes = make(map[string]NoteEntry)
	}
	if view.ActionLog == nil {
		view.ActionLog = []ActionLogEntry{}
	}
	if len(view.ActionLog) > ActionLogCap {
		view.ActionLog = view.ActionLog[:ActionLogCap]
	}

	return &view, nil
}

// IsStale reports whether the document was written by an older schema
// version and must be rebuilt from the source of truth
func (v *ConversationView) IsStale() bool {
	return v.ViewVersion != ViewVersion
}

// MarshalView encodes a view for storage
func MarshalView(view *ConversationView) ([]byte, error) {
	view.ViewVersion = ViewVersion
	data, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view document: %w", err)
	}
	return data, nil
}

// ReplyContext authorizes and routes a Telegram reply to a rendered card
// or forwarded message
type ReplyContext struct {
	AvitoChatID    string `json:"avito_chat_id"`
	AvitoAccountID int64  `json:"avito_account_id"`
	CanReply       bool   `json:"can_reply"`
}
