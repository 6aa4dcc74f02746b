package avito

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// Mocks
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Add(ctx context.Context, stream string, values map[string]interface{}) error {
	args := m.Called(ctx, stream, values)
	return args.Error(0)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(handler *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhook", handler.Handle)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hook-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func messageBody(authorID int64) []byte {
	return []byte(fmt.Sprintf(`{
		"payload": {
			"type": "message",
			"value": {
				"id": "msg-1",
				"chat_id": "chat-1",
				"user_id": 9000,
				"author_id": %d,
				"created": 1700000000,
				"type": "text",
				"content": {"text": "Ещё актуально?"}
			}
		}
	}`, authorID))
}

func TestWebhookEnqueuesInboundMessage(t *testing.T) {
	publisher := new(MockPublisher)
	handler := NewWebhookHandler("secret", publisher, zap.NewNop())

	// Expectations
	publisher.On("Add", mock.Anything, domain.StreamIncomingRaw, mock.MatchedBy(func(values map[string]interface{}) bool {
		return values["account_id"] == "9000" &&
			values["chat_id"] == "chat-1" &&
			values["sender_id"] == "555" &&
			values["text"] == "Ещё актуально?"
	})).Return(nil)

	body := messageBody(555)
	w := postWebhook(handler, body, sign("secret", body))

	assert.Equal(t, http.StatusOK, w.Code)
	publisher.AssertExpectations(t)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	publisher := new(MockPublisher)
	handler := NewWebhookHandler("secret", publisher, zap.NewNop())

	w := postWebhook(handler, messageBody(555), "deadbeef")

	assert.Equal(t, http.StatusForbidden, w.Code)
	publisher.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookDropsOwnMessages(t *testing.T) {
	publisher := new(MockPublisher)
	handler := NewWebhookHandler("", publisher, zap.NewNop())

	// Author equals the account owner: the echo of our own reply
	w := postWebhook(handler, messageBody(9000), "")

	assert.Equal(t, http.StatusOK, w.Code)
	publisher.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookAcksUnparseableBody(t *testing.T) {
	publisher := new(MockPublisher)
	handler := NewWebhookHandler("", publisher, zap.NewNop())

	// 200 so the marketplace does not retry garbage forever
	w := postWebhook(handler, []byte("not json"), "")

	assert.Equal(t, http.StatusOK, w.Code)
	publisher.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookRedeliversOnEnqueueFailure(t *testing.T) {
	publisher := new(MockPublisher)
	handler := NewWebhookHandler("", publisher, zap.NewNop())

	publisher.On("Add", mock.Anything, domain.StreamIncomingRaw, mock.Anything).Return(assert.AnError)

	w := postWebhook(handler, messageBody(555), "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLargestImageURL(t *testing.T) {
	sizes := map[string]string{
		"140x105":  "https://img/small",
		"1280x960": "https://img/big",
		"640x480":  "https://img/mid",
	}
	assert.Equal(t, "https://img/big", largestImageURL(sizes))
	assert.Equal(t, "", largestImageURL(nil))
}
