package domain

import (
	"fmt"
	"strconv"
)

// Stream names (the wire contract between processors)
const (
	StreamIncomingRaw       = "avito:incoming:raw"
	StreamIncomingMessages  = "avito:incoming:messages"
	StreamProcessedMessages = "avito:processed:messages"
	StreamNewMessageEvents  = "events:new_avito_message"
	StreamOutgoingMessages  = "avito:outgoing:messages"
	StreamChatActions       = "avito:chat:actions"
	StreamTelegramOutgoing  = "telegram:outgoing:messages"
	StreamTelegramActions   = "telegram:chat_actions"
	StreamTelegramDLQ       = "telegram:outgoing:dlq"
	StreamNotifications     = "system:notifications"
)

// Outgoing action types
const (
	ActionTypeManualReply   = "manual_reply"
	ActionTypeTemplateReply = "template_reply"
	ActionTypeAutoReply     = "auto_reply"
	ActionTypeImageReply    = "image_reply"
)

// InboundMessage is one normalized marketplace webhook notification.
// AvitoUserID is the external marketplace account id; the internal account
// is resolved downstream.
type InboundMessage struct {
	AvitoUserID int64
	ChatID      string
	SenderID    int64
	Text        string
	CreatedTS   int64

	// Optional attachment descriptors from the webhook payload
	ImageURL        string
	VoiceID         string
	VideoPreviewURL string
	LocationLat     string
	LocationLon     string

	// Enrichment added by the auto-reply stage
	AutoreplySent     bool
	AutoreplyRuleName string
	AutoreplyText     string
}

// Values encodes the message for XAdd
func (m *InboundMessage) Values() map[string]interface{} {
	values := map[string]interface{}{
		"account_id": strconv.FormatInt(m.AvitoUserID, 10),
		"chat_id":    m.ChatID,
		"sender_id":  strconv.FormatInt(m.SenderID, 10),
		"text":       m.Text,
		"created_ts": strconv.FormatInt(m.CreatedTS, 10),
	}
	putOptional(values, "image_url", m.ImageURL)
	putOptional(values, "voice_id", m.VoiceID)
	putOptional(values, "video_preview_url", m.VideoPreviewURL)
	putOptional(values, "location_lat", m.LocationLat)
	putOptional(values, "location_lon", m.LocationLon)
	if m.AutoreplySent {
		values["autoreply_sent"] = "true"
		values["autoreply_rule_name"] = m.AutoreplyRuleName
		values["autoreply_text"] = m.AutoreplyText
	}
	return values
}

// ParseInboundMessage decodes a stream entry produced by Values
func ParseInboundMessage(values map[string]interface{}) (*InboundMessage, error) {
	avitoUserID, err := int64Field(values, "account_id")
	if err != nil {
		return nil, err
	}
	chatID := stringField(values, "chat_id")
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	senderID, _ := int64Field(values, "sender_id")
	createdTS, _ := int64Field(values, "created_ts")

	return &InboundMessage{
		AvitoUserID:       avitoUserID,
		ChatID:            chatID,
		SenderID:          senderID,
		Text:              stringField(values, "text"),
		CreatedTS:         createdTS,
		ImageURL:          stringField(values, "image_url"),
		VoiceID:           stringField(values, "voice_id"),
		VideoPreviewURL:   stringField(values, "video_preview_url"),
		LocationLat:       stringField(values, "location_lat"),
		LocationLon:       stringField(values, "location_lon"),
		AutoreplySent:     stringField(values, "autoreply_sent") == "true",
		AutoreplyRuleName: stringField(values, "autoreply_rule_name"),
		AutoreplyText:     stringField(values, "autoreply_text"),
	}, nil
}

// FanoutEvent is one per-recipient copy of a processed inbound message
type FanoutEvent struct {
	UserTelegramID int64
	DBAccountID    int64
	CanReply       bool
	AvitoUserID    int64
	Message        InboundMessage
}

// Values encodes the event for XAdd
func (e *FanoutEvent) Values() map[string]interface{} {
	values := e.Message.Values()
	delete(values, "account_id")
	values["user_telegram_id"] = strconv.FormatInt(e.UserTelegramID, 10)
	values["db_account_id"] = strconv.FormatInt(e.DBAccountID, 10)
	values["can_reply"] = strconv.FormatBool(e.CanReply)
	values["avito_user_id"] = strconv.FormatInt(e.AvitoUserID, 10)
	return values
}

// ParseFanoutEvent decodes a stream entry produced by Values
func ParseFanoutEvent(values map[string]interface{}) (*FanoutEvent, error) {
	telegramID, err := int64Field(values, "user_telegram_id")
	if err != nil {
		return nil, err
	}
	accountID, err := int64Field(values, "db_account_id")
	if err != nil {
		return nil, err
	}
	chatID := stringField(values, "chat_id")
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	avitoUserID, _ := int64Field(values, "avito_user_id")
	senderID, _ := int64Field(values, "sender_id")
	createdTS, _ := int64Field(values, "created_ts")

	return &FanoutEvent{
		UserTelegramID: telegramID,
		DBAccountID:    accountID,
		CanReply:       stringField(values, "can_reply") == "true",
		AvitoUserID:    avitoUserID,
		Message: InboundMessage{
			AvitoUserID:       avitoUserID,
			ChatID:            chatID,
			SenderID:          senderID,
			Text:              stringField(values, "text"),
			CreatedTS:         createdTS,
			ImageURL:          stringField(values, "image_url"),
			VoiceID:           stringField(values, "voice_id"),
			VideoPreviewURL:   stringField(values, "video_preview_url"),
			LocationLat:       stringField(values, "location_lat"),
			LocationLon:       stringField(values, "location_lon"),
			AutoreplySent:     stringField(values, "autoreply_sent") == "true",
			AutoreplyRuleName: stringField(values, "autoreply_rule_name"),
			AutoreplyText:     stringField(values, "autoreply_text"),
		},
	}, nil
}

// OutgoingMessage is one message to deliver to the marketplace.
// AccountID here is the internal account id.
type OutgoingMessage struct {
	AccountID    int64
	ChatID       string
	Text         string
	ActionType   string
	AuthorName   string
	RuleName     string
	TemplateName string
	ImageID      string
}

// Values encodes the message for XAdd
func (m *OutgoingMessage) Values() map[string]interface{} {
	values := map[string]interface{}{
		"account_id":  strconv.FormatInt(m.AccountID, 10),
		"chat_id":     m.ChatID,
		"text":        m.Text,
		"action_type": m.ActionType,
		"author_name": m.AuthorName,
	}
	putOptional(values, "rule_name", m.RuleName)
	putOptional(values, "template_name", m.TemplateName)
	putOptional(values, "image_id", m.ImageID)
	return values
}

// ParseOutgoingMessage decodes a stream entry produced by Values
func ParseOutgoingMessage(values map[string]interface{}) (*OutgoingMessage, error) {
	accountID, err := int64Field(values, "account_id")
	if err != nil {
		return nil, err
	}
	chatID := stringField(values, "chat_id")
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}

	actionType := stringField(values, "action_type")
	if actionType == "" {
		actionType = ActionTypeManualReply
	}

	return &OutgoingMessage{
		AccountID:    accountID,
		ChatID:       chatID,
		Text:         stringField(values, "text"),
		ActionType:   actionType,
		AuthorName:   stringField(values, "author_name"),
		RuleName:     stringField(values, "rule_name"),
		TemplateName: stringField(values, "template_name"),
		ImageID:      stringField(values, "image_id"),
	}, nil
}

// ChatAction is one marketplace-side chat action (mark read)
type ChatAction struct {
	AccountID int64
	ChatID    string
	Action    string
}

// Values encodes the action for XAdd
func (a *ChatAction) Values() map[string]interface{} {
	return map[string]interface{}{
		"account_id": strconv.FormatInt(a.AccountID, 10),
		"chat_id":    a.ChatID,
		"action":     a.Action,
	}
}

// ParseChatAction decodes a stream entry produced by Values
func ParseChatAction(values map[string]interface{}) (*ChatAction, error) {
	accountID, err := int64Field(values, "account_id")
	if err != nil {
		return nil, err
	}
	chatID := stringField(values, "chat_id")
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	return &ChatAction{
		AccountID: accountID,
		ChatID:    chatID,
		Action:    stringField(values, "action"),
	}, nil
}

// TelegramMessage is one message to deliver to a Telegram user
type TelegramMessage struct {
	UserID      int64
	Type        string // "text" or "document"
	Text        string
	FilePath    string
	Caption     string
	ReplyMarkup string // serialized inline keyboard, optional
	ParseMode   string // "html", "markdown" or empty
	Retries     int
}

// Values encodes the message for XAdd
func (m *TelegramMessage) Values() map[string]interface{} {
	values := map[string]interface{}{
		"user_id": strconv.FormatInt(m.UserID, 10),
		"type":    m.Type,
	}
	putOptional(values, "text", m.Text)
	putOptional(values, "file_path", m.FilePath)
	putOptional(values, "caption", m.Caption)
	putOptional(values, "reply_markup", m.ReplyMarkup)
	putOptional(values, "parse_mode", m.ParseMode)
	if m.Retries > 0 {
		values["retries"] = strconv.Itoa(m.Retries)
	}
	return values
}

// ParseTelegramMessage decodes a stream entry produced by Values
func ParseTelegramMessage(values map[string]interface{}) (*TelegramMessage, error) {
	userID, err := int64Field(values, "user_id")
	if err != nil {
		return nil, err
	}
	msgType := stringField(values, "type")
	if msgType == "" {
		msgType = "text"
	}
	retries, _ := int64Field(values, "retries")

	return &TelegramMessage{
		UserID:      userID,
		Type:        msgType,
		Text:        stringField(values, "text"),
		FilePath:    stringField(values, "file_path"),
		Caption:     stringField(values, "caption"),
		ReplyMarkup: stringField(values, "reply_markup"),
		ParseMode:   stringField(values, "parse_mode"),
		Retries:     int(retries),
	}, nil
}

// SystemNotification is an out-of-band operator notification event
type SystemNotification struct {
	Type      string
	AccountID int64
	Text      string
}

// Values encodes the notification for XAdd
func (n *SystemNotification) Values() map[string]interface{} {
	return map[string]interface{}{
		"type":       n.Type,
		"account_id": strconv.FormatInt(n.AccountID, 10),
		"text":       n.Text,
	}
}

func putOptional(values map[string]interface{}, key, value string) {
	if value != "" {
		values[key] = value
	}
}

func stringField(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func int64Field(values map[string]interface{}, key string) (int64, error) {
	s := stringField(values, key)
	if s == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
