package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/crypto"
	apperrors "avitobridge-backend/pkg/errors"
)

// Error is the typed gateway error raised on non-2xx marketplace responses
type Error struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("avito api error %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether the error indicates revoked or expired
// authorization
func (e *Error) IsAuthError() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
}

// TokenStore persists refreshed tokens and deactivates revoked accounts
type TokenStore interface {
	UpdateTokens(ctx context.Context, account *domain.AvitoAccount) error
	Deactivate(ctx context.Context, id int64) error
}

// Notifier publishes out-of-band system notification events
type Notifier interface {
	Add(ctx context.Context, stream string, values map[string]interface{}) error
}

// ClientFactory builds per-account API clients sharing one HTTP client
// and credential set
type ClientFactory struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cipher       *crypto.TokenCipher
	tokens       TokenStore
	notifier     Notifier
	log          *zap.Logger
}

// NewClientFactory creates a new ClientFactory
func NewClientFactory(
	baseURL, clientID, clientSecret string,
	cipher *crypto.TokenCipher,
	tokens TokenStore,
	notifier Notifier,
	log *zap.Logger,
) *ClientFactory {
	return &ClientFactory{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		cipher:       cipher,
		tokens:       tokens,
		notifier:     notifier,
		log:          log,
	}
}

// For returns an API client bound to one account
func (f *ClientFactory) For(account *domain.AvitoAccount) *Client {
	return &Client{factory: f, account: account}
}

// Client calls the marketplace API on behalf of one account, refreshing
// the OAuth token before each call when it is near expiry
type Client struct {
	factory *ClientFactory
	account *domain.AvitoAccount
}

// Account returns the account the client is bound to
func (c *Client) Account() *domain.AvitoAccount {
	return c.account
}

// refreshAccessToken renews the token pair using the stored refresh token.
// A 400/401 response means the authorization was revoked: the account is
// deactivated and a reauthorization notification is queued instead of
// surfacing the error to the conversation flow.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	f := c.factory
	f.log.Info("refreshing avito token", zap.Int64("account_id", c.account.ID))

	refreshToken, err := f.cipher.Decrypt(c.account.EncryptedRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {f.clientID},
		"client_secret": {f.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return apperrors.TokenRefreshError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &Error{StatusCode: resp.StatusCode, Message: string(body)}

		if apiErr.IsAuthError() {
			if err := f.tokens.Deactivate(ctx, c.account.ID); err != nil {
				f.log.Error("failed to deactivate account", zap.Int64("account_id", c.account.ID), zap.Error(err))
			}
			c.account.IsActive = false

			notification := &domain.SystemNotification{
				Type:      "reauth_needed",
				AccountID: c.account.ID,
				Text:      fmt.Sprintf("Требуется повторная авторизация для аккаунта Avito %d!", c.account.AvitoUserID),
			}
			if err := f.notifier.Add(ctx, domain.StreamNotifications, notification.Values()); err != nil {
				f.log.Error("failed to queue reauth notification", zap.Error(err))
			}
			f.log.Error("token refresh rejected, account deactivated", zap.Int64("account_id", c.account.ID))
		}
		return apiErr
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	encAccess, err := f.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := f.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	c.account.EncryptedOAuthToken = encAccess
	c.account.EncryptedRefreshToken = encRefresh
	c.account.ExpiresAt = time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)

	if err := f.tokens.UpdateTokens(ctx, c.account); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	f.log.Info("avito token refreshed", zap.Int64("account_id", c.account.ID))
	return nil
}

// authHeader refreshes the token when it expires within five minutes and
// returns the bearer header value
func (c *Client) authHeader(ctx context.Context) (string, error) {
	if c.account.ExpiresAt.Before(time.Now().UTC().Add(5 * time.Minute)) {
		if err := c.refreshAccessToken(ctx); err != nil {
			return "", err
		}
	}

	token, err := c.factory.cipher.Decrypt(c.account.EncryptedOAuthToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return "Bearer " + token, nil
}

// doJSON issues an authorized request and decodes the JSON response into out
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	auth, err := c.authHeader(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.factory.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.factory.httpClient.Do(req)
	if err != nil {
		return apperrors.GatewayError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Message: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ChatUser is one participant of a marketplace chat
type ChatUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Blocked bool   `json:"blocked"`
}

// ItemContext describes the listing a chat belongs to
type ItemContext struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	PriceString string `json:"price_string"`
	URL         string `json:"url"`
}

// ChatInfo is the chat metadata returned by the marketplace
type ChatInfo struct {
	Users   []ChatUser `json:"users"`
	Context struct {
		Value ItemContext `json:"value"`
	} `json:"context"`
}

// Interlocutor returns the chat participant that is not the account owner
func (ci *ChatInfo) Interlocutor(ownAvitoUserID int64) *ChatUser {
	for i := range ci.Users {
		if ci.Users[i].ID != ownAvitoUserID {
			return &ci.Users[i]
		}
	}
	return nil
}

// GetChatInfo retrieves chat metadata including participants
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	path := fmt.Sprintf("/messenger/v2/accounts/%d/chats/%s", c.account.AvitoUserID, chatID)

	info := &ChatInfo{}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Message is one chat message as returned by the marketplace, newest first
type Message struct {
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
	Direction string `json:"direction"` // "in" or "out"
	Created   int64  `json:"created"`
	IsRead    bool   `json:"isRead"`
}

// GetMessages retrieves recent chat messages, newest first
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/messenger/v3/accounts/%d/chats/%s/messages/?limit=%d", c.account.AvitoUserID, chatID, limit)

	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendText sends a text message into a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	path := fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/messages", c.account.AvitoUserID, chatID)
	payload := map[string]interface{}{
		"message": map[string]string{"text": text},
		"type":    "text",
	}
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// SendImage sends a previously uploaded image into a chat. The image
// endpoint does not support captions, so a non-empty caption is sent as a
// follow-up text message.
func (c *Client) SendImage(ctx context.Context, chatID, imageID, caption string) error {
	path := fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/messages/image", c.account.AvitoUserID, chatID)
	payload := map[string]string{"image_id": imageID}

	if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return err
	}
	if caption != "" {
		return c.SendText(ctx, chatID, caption)
	}
	return nil
}

// MarkRead marks all chat messages as read
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/read", c.account.AvitoUserID, chatID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// BlockUser blocks the interlocutor in the context of a listing
func (c *Client) BlockUser(ctx context.Context, userID int64, itemID *int64) error {
	path := fmt.Sprintf("/messenger/v2/accounts/%d/blacklist", c.account.AvitoUserID)

	context := map[string]interface{}{"reason_id": 4}
	if itemID != nil {
		context["item_id"] = *itemID
	}
	payload := map[string]interface{}{
		"users": []map[string]interface{}{
			{"user_id": userID, "context": context},
		},
	}
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// UnblockUser removes a user from the blacklist
func (c *Client) UnblockUser(ctx context.Context, userID int64) error {
	path := fmt.Sprintf("/messenger/v2/accounts/%d/blacklist/%d", c.account.AvitoUserID, userID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// GetVoiceFiles resolves temporary download URLs for voice message ids
func (c *Client) GetVoiceFiles(ctx context.Context, voiceIDs []string) (map[string]string, error) {
	path := fmt.Sprintf("/messenger/v1/accounts/%d/getVoiceFiles?voice_ids=%s",
		c.account.AvitoUserID, url.QueryEscape(strings.Join(voiceIDs, ",")))

	var out struct {
		VoicesURLs map[string]string `json:"voices_urls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.VoicesURLs, nil
}
