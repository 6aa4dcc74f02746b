package forwarding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
)

// OwnerResolver finds the user owning a marketplace account
type OwnerResolver interface {
	GetOwnerByAvitoUserID(ctx context.Context, avitoUserID int64) (*domain.User, error)
}

// RuleSource lists a user's forwarding rules
type RuleSource interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]*domain.ForwardingRule, error)
}

// Recipient is one Telegram user who receives a copy of an inbound message
type Recipient struct {
	TelegramID int64
	CanReply   bool
}

// Service computes the recipient set for inbound marketplace messages:
// the account owner plus every helper with an accepted invite scoped to
// the account
type Service struct {
	users OwnerResolver
	rules RuleSource
	log   *zap.Logger
}

// NewService creates a new Service
func NewService(users OwnerResolver, rules RuleSource, log *zap.Logger) *Service {
	return &Service{users: users, rules: rules, log: log}
}

// Recipients returns the deduplicated recipient list for a message on the
// given account. Returns an empty list when the owner has not agreed to
// the terms of service: their traffic is dropped entirely.
func (s *Service) Recipients(ctx context.Context, avitoUserID, accountID int64) ([]Recipient, error) {
	owner, err := s.users.GetOwnerByAvitoUserID(ctx, avitoUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account owner: %w", err)
	}
	if owner == nil {
		s.log.Warn("no owner for marketplace account", zap.Int64("avito_user_id", avitoUserID))
		return nil, nil
	}
	if !owner.HasAgreedToTerms {
		s.log.Info("owner has not agreed to terms, dropping message",
			zap.Int64("user_id", owner.ID),
		)
		return nil, nil
	}

	// Owner first, always with reply rights
	recipients := []Recipient{{TelegramID: owner.TelegramID, CanReply: true}}
	seen := map[int64]bool{owner.TelegramID: true}

	rules, err := s.rules.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load forwarding rules: %w", err)
	}

	for _, rule := range rules {
		if !rule.IsAccepted() {
			continue
		}
		if !rule.Permissions.AllowsAccount(accountID) {
			continue
		}
		target := *rule.TargetTelegramID
		if seen[target] {
			continue
		}
		seen[target] = true
		recipients = append(recipients, Recipient{
			TelegramID: target,
			CanReply:   rule.Permissions.CanReply,
		})
	}

	return recipients, nil
}
