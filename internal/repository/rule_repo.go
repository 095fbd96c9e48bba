package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyengine/internal/model"
)

const ruleColumns = `id, trigger_type, delay_minutes, enabled, priority, template, created_at, updated_at`

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) List(ctx context.Context) ([]model.NotificationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM notification_rules ORDER BY trigger_type, id`
	return r.query(ctx, query)
}

func (r *RuleRepository) ListByTrigger(ctx context.Context, trigger model.TriggerType) ([]model.NotificationRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE trigger_type = $1
		ORDER BY delay_minutes, id`
	return r.query(ctx, query, trigger)
}

func (r *RuleRepository) Get(ctx context.Context, id string) (*model.NotificationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM notification_rules WHERE id = $1`
	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule *model.NotificationRule) error {
	tpl, err := json.Marshal(rule.Template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	query := `
		INSERT INTO notification_rules (id, trigger_type, delay_minutes, enabled, priority, template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		rule.ID, rule.TriggerType, rule.DelayMinutes, rule.Enabled, rule.Priority, tpl,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Update rewrites every mutable column and fills rule.CreatedAt from the
// stored row.
func (r *RuleRepository) Update(ctx context.Context, rule *model.NotificationRule) error {
	tpl, err := json.Marshal(rule.Template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	query := `
		UPDATE notification_rules
		SET trigger_type = $2, delay_minutes = $3, enabled = $4, priority = $5, template = $6, updated_at = $7
		WHERE id = $1
		RETURNING created_at
	`
	err = r.db.QueryRow(ctx, query,
		rule.ID, rule.TriggerType, rule.DelayMinutes, rule.Enabled, rule.Priority, tpl, rule.UpdatedAt,
	).Scan(&rule.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) query(ctx context.Context, query string, args ...any) ([]model.NotificationRule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (*model.NotificationRule, error) {
	var (
		rule model.NotificationRule
		tpl  []byte
	)
	if err := row.Scan(
		&rule.ID,
		&rule.TriggerType,
		&rule.DelayMinutes,
		&rule.Enabled,
		&rule.Priority,
		&tpl,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tpl, &rule.Template); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &rule, nil
}
