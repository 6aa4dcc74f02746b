package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"avitobridge-backend/internal/domain"
)

// ForwardingRepository handles helper-slot data in Postgres
type ForwardingRepository struct {
	pool *pgxpool.Pool
}

// NewForwardingRepository creates a new ForwardingRepository
func NewForwardingRepository(pool *pgxpool.Pool) *ForwardingRepository {
	return &ForwardingRepository{pool: pool}
}

// ListByOwner retrieves all forwarding rules owned by a user
func (r *ForwardingRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*domain.ForwardingRule, error) {
	query := `
		SELECT id, owner_id, target_telegram_id, custom_rule_name, invite_password_hash, invite_code, permissions
		FROM forwarding_rules
		WHERE owner_id = $1
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forwarding rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.ForwardingRule
	for rows.Next() {
		rule := &domain.ForwardingRule{}
		var permissionsJSON []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.OwnerID,
			&rule.TargetTelegramID,
			&rule.CustomRuleName,
			&rule.InvitePasswordHash,
			&rule.InviteCode,
			&permissionsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan forwarding rule: %w", err)
		}
		if err := json.Unmarshal(permissionsJSON, &rule.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read forwarding rules: %w", err)
	}

	return rules, nil
}

// GetByInviteCode retrieves the rule carrying an invite code; nil when the
// code is unknown
func (r *ForwardingRepository) GetByInviteCode(ctx context.Context, inviteCode string) (*domain.ForwardingRule, error) {
	query := `
		SELECT id, owner_id, target_telegram_id, custom_rule_name, invite_password_hash, invite_code, permissions
		FROM forwarding_rules
		WHERE invite_code = $1
	`

	rule := &domain.ForwardingRule{}
	var permissionsJSON []byte
	err := r.pool.QueryRow(ctx, query, inviteCode).Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.TargetTelegramID,
		&rule.CustomRuleName,
		&rule.InvitePasswordHash,
		&rule.InviteCode,
		&permissionsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get forwarding rule: %w", err)
	}
	if err := json.Unmarshal(permissionsJSON, &rule.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return rule, nil
}

// UpdatePermissions replaces the structured permissions value of a rule
func (r *ForwardingRepository) UpdatePermissions(ctx context.Context, ruleID string, permissions domain.Permissions) error {
	permissionsJSON, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `UPDATE forwarding_rules SET permissions = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, ruleID, permissionsJSON); err != nil {
		return fmt.Errorf("failed to update permissions: %w", err)
	}
	return nil
}

// AcceptInvite binds a helper's Telegram id to a pending invite code.
// Returns false when the code is unknown or already accepted.
func (r *ForwardingRepository) AcceptInvite(ctx context.Context, inviteCode string, targetTelegramID int64) (bool, error) {
	query := `
		UPDATE forwarding_rules
		SET target_telegram_id = $2
		WHERE invite_code = $1 AND target_telegram_id IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, inviteCode, targetTelegramID)
	if err != nil {
		return false, fmt.Errorf("failed to accept invite: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
