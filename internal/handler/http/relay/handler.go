package relay

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/response"
)

// UserStore resolves bot users
type UserStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
}

// AccountStore resolves connected marketplace accounts
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*domain.AvitoAccount, error)
}

// Wallet credits balances for confirmed payments
type Wallet interface {
	Deposit(ctx context.Context, userID int64, amount float64, chargeID, description string) (*domain.Transaction, error)
}

// StatsSource aggregates message-log rows per account
type StatsSource interface {
	StatsForAccount(ctx context.Context, accountID int64, since time.Time) (*domain.MessageStats, error)
}

// Notifier queues out-of-band Telegram messages
type Notifier interface {
	Add(ctx context.Context, stream string, values map[string]interface{}) error
}

// Handler serves the operational HTTP API: payment provider callbacks and
// per-account message statistics
type Handler struct {
	users    UserStore
	accounts AccountStore
	wallet   Wallet
	stats    StatsSource
	notifier Notifier
}

// NewHandler creates a new relay handler
func NewHandler(users UserStore, accounts AccountStore, wallet Wallet, stats StatsSource, notifier Notifier) *Handler {
	return &Handler{
		users:    users,
		accounts: accounts,
		wallet:   wallet,
		stats:    stats,
		notifier: notifier,
	}
}

// PaymentNotification represents a payment provider success callback
type PaymentNotification struct {
	TelegramID int64   `json:"telegram_id" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	ChargeID   string  `json:"charge_id" binding:"required"`
}

// HandlePayment credits a user's balance for a confirmed payment.
// Providers retry callbacks, so the charge id makes the credit idempotent.
// POST /v1/payments/notify
func (h *Handler) HandlePayment(c *gin.Context) {
	var req PaymentNotification
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetByTelegramID(ctx, req.TelegramID)
	if err != nil {
		response.InternalError(c, "Failed to resolve user")
		return
	}
	if user == nil {
		response.NotFound(c, "Unknown user")
		return
	}

	entry, err := h.wallet.Deposit(ctx, user.ID, req.Amount, req.ChargeID, "Пополнение баланса")
	if err != nil {
		response.InternalError(c, "Failed to credit balance")
		return
	}
	if entry == nil {
		// Replayed callback, already credited
		response.Success(c, http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	notice := &domain.TelegramMessage{
		UserID: user.TelegramID,
		Type:   "text",
		Text:   fmt.Sprintf("💰 Баланс пополнен на %.2f ₽. Текущий баланс: %.2f ₽.", req.Amount, entry.BalanceAfter),
	}
	if err := h.notifier.Add(ctx, domain.StreamTelegramOutgoing, notice.Values()); err != nil {
		// The credit already landed; the notification is best effort
		response.Success(c, http.StatusOK, gin.H{"status": "credited"})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":        "credited",
		"balance_after": entry.BalanceAfter,
	})
}

// GetAccountStats returns message counters for one account over a window
// GET /v1/accounts/:id/stats?days=7
func (h *Handler) GetAccountStats(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "Invalid account ID")
		return
	}

	days := 7
	if daysStr := c.Query("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 365 {
			days = d
		}
	}

	ctx := c.Request.Context()
	account, err := h.accounts.GetByID(ctx, accountID)
	if err != nil {
		response.InternalError(c, "Failed to resolve account")
		return
	}
	if account == nil {
		response.NotFound(c, "Unknown account")
		return
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.stats.StatsForAccount(ctx, accountID, since)
	if err != nil {
		response.InternalError(c, "Failed to load stats")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"account_id":   accountID,
		"account_name": account.DisplayName(),
		"days":         days,
		"stats":        stats,
	})
}
