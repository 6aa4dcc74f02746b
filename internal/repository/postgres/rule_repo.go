package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// RuleRepository handles auto-reply rule data in Postgres
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// ListActiveByAccount retrieves the active rules for an account in stored
// order. Matching is first-match-wins over this order.
func (r *RuleRepository) ListActiveByAccount(ctx context.Context, accountID int64) ([]*domain.AutoReplyRule, error) {
	query := `
		SELECT id, account_id, name, trigger_type, trigger_keywords, reply_text, delay_seconds, cooldown_seconds, is_active
		FROM auto_reply_rules
		WHERE account_id = $1 AND is_active = true
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.AutoReplyRule
	for rows.Next() {
		rule := &domain.AutoReplyRule{}
		if err := rows.Scan(
			&rule.ID,
			&rule.AccountID,
			&rule.Name,
			&rule.TriggerType,
			&rule.TriggerKeywords,
			&rule.ReplyText,
			&rule.DelaySeconds,
			&rule.CooldownSeconds,
			&rule.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	return rules, nil
}

// Create inserts a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *domain.AutoReplyRule) error {
	query := `
		INSERT INTO auto_reply_rules (id, account_id, name, trigger_type, trigger_keywords, reply_text, delay_seconds, cooldown_seconds, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if _, err := r.pool.Exec(ctx, query,
		rule.ID,
		rule.AccountID,
		rule.Name,
		rule.TriggerType,
		rule.TriggerKeywords,
		rule.ReplyText,
		rule.DelaySeconds,
		rule.CooldownSeconds,
		rule.IsActive,
	); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// SetActive toggles a rule on or off
func (r *RuleRepository) SetActive(ctx context.Context, accountID int64, ruleID string, active bool) error {
	query := `UPDATE auto_reply_rules SET is_active = $3 WHERE account_id = $1 AND id = $2`

	if _, err := r.pool.Exec(ctx, query, accountID, ruleID, active); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}
