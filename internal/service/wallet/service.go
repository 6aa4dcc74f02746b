package wallet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// ChargeStore claims payment charge ids exactly once
type ChargeStore interface {
	MarkProcessed(ctx context.Context, chargeID string) (bool, error)
}

// LedgerStore applies balance changes atomically
type LedgerStore interface {
	CreateAndUpdateBalance(ctx context.Context, userID int64, amount float64, description string) (*domain.Transaction, error)
}

// Service handles user balance deposits. Deposits are idempotent on the
// payment provider's charge id, so webhook replays credit at most once.
type Service struct {
	charges ChargeStore
	ledger  LedgerStore
	log     *zap.Logger
}

// NewService creates a new Service
func NewService(charges ChargeStore, ledger LedgerStore, log *zap.Logger) *Service {
	return &Service{charges: charges, ledger: ledger, log: log}
}

// Deposit credits the user's balance for a successful payment. Returns
// the created transaction, or nil when the charge was already processed.
func (s *Service) Deposit(ctx context.Context, userID int64, amount float64, chargeID, description string) (*domain.Transaction, error) {
	claimed, err := s.charges.MarkProcessed(ctx, chargeID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim charge: %w", err)
	}
	if !claimed {
		s.log.Warn("duplicate payment charge ignored",
			zap.String("charge_id", chargeID),
			zap.Int64("user_id", userID),
		)
		return nil, nil
	}

	entry, err := s.ledger.CreateAndUpdateBalance(ctx, userID, amount, description)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	s.log.Info("balance credited",
		zap.Int64("user_id", userID),
		zap.Float64("amount", amount),
		zap.Float64("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}
