package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"avitobridge-backend/internal/domain"
)

// Mocks
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) GetByID(ctx context.Context, id int64) (*domain.AvitoAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AvitoAccount), args.Error(1)
}

type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) Deposit(ctx context.Context, userID int64, amount float64, chargeID, description string) (*domain.Transaction, error) {
	args := m.Called(ctx, userID, amount, chargeID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) StatsForAccount(ctx context.Context, accountID int64, since time.Time) (*domain.MessageStats, error) {
	args := m.Called(ctx, accountID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageStats), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Add(ctx context.Context, stream string, values map[string]interface{}) error {
	args := m.Called(ctx, stream, values)
	return args.Error(0)
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/payments/notify", h.HandlePayment)
	router.GET("/v1/accounts/:id/stats", h.GetAccountStats)
	return router
}

func TestHandlePaymentCreditsBalance(t *testing.T) {
	users := new(MockUserStore)
	wallet := new(MockWallet)
	notifier := new(MockNotifier)
	handler := NewHandler(users, new(MockAccountStore), wallet, new(MockStatsSource), notifier)

	users.On("GetByTelegramID", mock.Anything, int64(100)).Return(&domain.User{ID: 5, TelegramID: 100}, nil)
	wallet.On("Deposit", mock.Anything, int64(5), 500.0, "charge-1", mock.Anything).
		Return(&domain.Transaction{UserID: 5, Amount: 500, BalanceAfter: 750}, nil)
	notifier.On("Add", mock.Anything, domain.StreamTelegramOutgoing, mock.Anything).Return(nil)

	body := []byte(`{"telegram_id":100,"amount":500,"charge_id":"charge-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/notify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	newTestRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "credited")
	wallet.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestHandlePaymentReplayIsDuplicate(t *testing.T) {
	users := new(MockUserStore)
	wallet := new(MockWallet)
	notifier := new(MockNotifier)
	handler := NewHandler(users, new(MockAccountStore), wallet, new(MockStatsSource), notifier)

	users.On("GetByTelegramID", mock.Anything, int64(100)).Return(&domain.User{ID: 5, TelegramID: 100}, nil)
	wallet.On("Deposit", mock.Anything, int64(5), 500.0, "charge-1", mock.Anything).Return(nil, nil)

	body := []byte(`{"telegram_id":100,"amount":500,"charge_id":"charge-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/notify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	newTestRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")
	notifier.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlePaymentRejectsUnknownUser(t *testing.T) {
	users := new(MockUserStore)
	handler := NewHandler(users, new(MockAccountStore), new(MockWallet), new(MockStatsSource), new(MockNotifier))

	users.On("GetByTelegramID", mock.Anything, int64(100)).Return(nil, nil)

	body := []byte(`{"telegram_id":100,"amount":500,"charge_id":"charge-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/notify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	newTestRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAccountStats(t *testing.T) {
	accounts := new(MockAccountStore)
	stats := new(MockStatsSource)
	handler := NewHandler(new(MockUserStore), accounts, new(MockWallet), stats, new(MockNotifier))

	alias := "Магазин"
	accounts.On("GetByID", mock.Anything, int64(42)).Return(&domain.AvitoAccount{ID: 42, Alias: &alias}, nil)
	stats.On("StatsForAccount", mock.Anything, int64(42), mock.Anything).
		Return(&domain.MessageStats{Incoming: 10, Outgoing: 4, AutoReplies: 2}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/42/stats?days=30", nil)
	w := httptest.NewRecorder()

	newTestRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"incoming":10`)
	assert.Contains(t, w.Body.String(), "Магазин")
}
