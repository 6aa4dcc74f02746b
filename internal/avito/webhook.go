package avito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// webhookPayload mirrors the marketplace webhook envelope. Only message
// events carry a value; everything else is acknowledged and dropped.
type webhookPayload struct {
	Payload struct {
		Type  string `json:"type"`
		Value struct {
			ID       string `json:"id"`
			ChatID   string `json:"chat_id"`
			UserID   int64  `json:"user_id"`   // account the webhook belongs to
			AuthorID int64  `json:"author_id"` // message sender
			Created  int64  `json:"created"`
			Type     string `json:"type"`
			ChatType string `json:"chat_type"`
			Content  struct {
				Text  string `json:"text"`
				Image struct {
					Sizes map[string]string `json:"sizes"`
				} `json:"image"`
				Voice struct {
					VoiceID string `json:"voice_id"`
				} `json:"voice"`
				Video struct {
					PreviewURL string `json:"preview_url"`
				} `json:"video"`
				Location struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"location"`
			} `json:"content"`
		} `json:"value"`
	} `json:"payload"`
}

// Publisher appends entries to the intake stream
type Publisher interface {
	Add(ctx context.Context, stream string, values map[string]interface{}) error
}

// WebhookHandler verifies and ingests marketplace webhook notifications.
// Its only job is to get a valid notification onto the intake stream and
// answer 200 fast; all real work happens in downstream processors.
type WebhookHandler struct {
	secret    string
	publisher Publisher
	log       *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables
// signature verification, intended for local development only.
func NewWebhookHandler(secret string, publisher Publisher, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, publisher: publisher, log: log}
}

// verifySignature checks the hex HMAC-SHA256 signature header against the
// raw body in constant time
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Handle is the gin endpoint for marketplace webhooks
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Hook-Signature")) {
		h.log.Warn("webhook signature mismatch")
		c.JSON(http.StatusForbidden, gin.H{"ok": false})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("malformed webhook body", zap.Error(err))
		// 200 so the marketplace does not retry an unparseable body
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	msg, ok := h.normalize(&payload)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if err := h.publisher.Add(c.Request.Context(), domain.StreamIncomingRaw, msg.Values()); err != nil {
		h.log.Error("failed to enqueue webhook message", zap.Error(err))
		// Non-200 makes the marketplace redeliver later
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// normalize converts a webhook envelope to an intake message. Returns
// ok=false for non-message events and for the account's own outgoing
// messages, which would otherwise echo back as inbound traffic.
func (h *WebhookHandler) normalize(payload *webhookPayload) (*domain.InboundMessage, bool) {
	v := &payload.Payload.Value
	if payload.Payload.Type != "message" || v.ChatID == "" {
		return nil, false
	}
	if v.AuthorID == v.UserID {
		return nil, false
	}

	msg := &domain.InboundMessage{
		AvitoUserID: v.UserID,
		ChatID:      v.ChatID,
		SenderID:    v.AuthorID,
		Text:        v.Content.Text,
		CreatedTS:   v.Created,
	}

	switch v.Type {
	case "image":
		msg.ImageURL = largestImageURL(v.Content.Image.Sizes)
	case "voice":
		msg.VoiceID = v.Content.Voice.VoiceID
	case "video":
		msg.VideoPreviewURL = v.Content.Video.PreviewURL
	case "location":
		msg.LocationLat = strconv.FormatFloat(v.Content.Location.Lat, 'f', -1, 64)
		msg.LocationLon = strconv.FormatFloat(v.Content.Location.Lon, 'f', -1, 64)
	}

	return msg, true
}

// largestImageURL picks the biggest rendition from the size map, keyed
// like "140x105", "1280x960"
func largestImageURL(sizes map[string]string) string {
	bestArea := -1
	bestURL := ""
	for size, u := range sizes {
		area := sizeArea(size)
		if area > bestArea {
			bestArea = area
			bestURL = u
		}
	}
	return bestURL
}

func sizeArea(size string) int {
	var w, h int
	if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err != nil {
		return 0
	}
	return w * h
}
