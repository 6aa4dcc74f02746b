package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// UserByIDStore resolves users by internal id
type UserByIDStore interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// NotificationWorker routes out-of-band system events (expired
// marketplace authorization, operational warnings) to the affected
// account's owner as a Telegram message
type NotificationWorker struct {
	accounts AccountStore
	users    UserByIDStore
	bus      Publisher
	log      *zap.Logger
}

// NewNotificationWorker creates a new NotificationWorker
func NewNotificationWorker(accounts AccountStore, users UserByIDStore, bus Publisher, log *zap.Logger) *NotificationWorker {
	return &NotificationWorker{accounts: accounts, users: users, bus: bus, log: log}
}

// Handle processes one system notification
func (w *NotificationWorker) Handle(ctx context.Context, msg *redis.XMessage) error {
	text, _ := msg.Values["text"].(string)
	rawAccountID, _ := msg.Values["account_id"].(string)
	accountID, err := strconv.ParseInt(rawAccountID, 10, 64)
	if err != nil || text == "" {
		w.log.Warn("dropping malformed notification", zap.String("entry_id", msg.ID))
		return nil
	}

	account, err := w.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		w.log.Warn("notification for unknown account", zap.Int64("account_id", accountID))
		return nil
	}

	owner, err := w.users.GetByID(ctx, account.UserID)
	if err != nil {
		return fmt.Errorf("failed to load account owner: %w", err)
	}
	if owner == nil {
		return nil
	}

	notification := &domain.TelegramMessage{
		UserID: owner.TelegramID,
		Type:   "text",
		Text:   "⚠️ " + text,
	}
	return w.bus.Add(ctx, domain.StreamTelegramOutgoing, notification.Values())
}
