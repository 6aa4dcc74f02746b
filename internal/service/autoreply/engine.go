package autoreply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"avitobridge-backend/internal/domain"
	"avitobridge-backend/pkg/metrics"
)

// RuleLister loads the active rules of one account in evaluation order
type RuleLister interface {
	ListActiveByAccount(ctx context.Context, accountID int64) ([]*domain.AutoReplyRule, error)
}

// CooldownStore tracks per-chat, per-rule cooldown windows
type CooldownStore interface {
	IsActive(ctx context.Context, chatID, ruleID string) (bool, error)
	Activate(ctx context.Context, chatID, ruleID string, d time.Duration) error
}

// Engine evaluates auto-reply rules against inbound message text.
// Evaluation is first-match-wins over the stored rule order; a rule whose
// cooldown is active is skipped and the remaining rules still get a chance.
type Engine struct {
	rules     RuleLister
	cooldowns CooldownStore
	log       *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(rules RuleLister, cooldowns CooldownStore, log *zap.Logger) *Engine {
	return &Engine{rules: rules, cooldowns: cooldowns, log: log}
}

// Match returns the reply to send for an inbound message, or nil when no
// rule fires. A firing rule with a cooldown period arms its cooldown.
func (e *Engine) Match(ctx context.Context, accountID int64, chatID, text string) (*domain.AutoReplyMatch, error) {
	rules, err := e.rules.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-reply rules: %w", err)
	}

	for _, rule := range rules {
		if !ruleMatches(rule, text) {
			continue
		}

		cooling, err := e.cooldowns.IsActive(ctx, chatID, rule.ID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to check cooldown: %w", err)
		}
		if cooling {
			metrics.AutoReplyCooldownSkipsTotal.Inc()
			e.log.Debug("rule skipped, cooldown active",
				zap.String("rule", rule.Name),
				zap.String("chat_id", chatID),
			)
			continue
		}

		if rule.CooldownSeconds > 0 {
			cooldown := time.Duration(rule.CooldownSeconds) * time.Second
			if err := e.cooldowns.Activate(ctx, chatID, rule.ID.String(), cooldown); err != nil {
				return nil, fmt.Errorf("failed to arm cooldown: %w", err)
			}
		}

		metrics.AutoRepliesSentTotal.WithLabelValues(rule.TriggerType).Inc()
		return &domain.AutoReplyMatch{
			Text:         rule.ReplyText,
			DelaySeconds: rule.DelaySeconds,
			RuleName:     rule.Name,
		}, nil
	}

	return nil, nil
}

// ruleMatches applies a rule's trigger to the message text. Matching is
// case-insensitive; keyword triggers with no keywords never match. An
// exact trigger compares against its first keyword only.
func ruleMatches(rule *domain.AutoReplyRule, text string) bool {
	if rule.TriggerType == domain.TriggerAlways {
		return true
	}
	if len(rule.TriggerKeywords) == 0 {
		return false
	}

	lowered := strings.ToLower(text)
	switch rule.TriggerType {
	case domain.TriggerExact:
		// Only the first keyword defines an exact trigger
		return lowered == strings.ToLower(rule.TriggerKeywords[0])
	case domain.TriggerContainsAny:
		for _, kw := range rule.TriggerKeywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return true
			}
		}
	case domain.TriggerContainsAll:
		for _, kw := range rule.TriggerKeywords {
			if !strings.Contains(lowered, strings.ToLower(kw)) {
				return false
			}
		}
		return true
	}
	return false
}
