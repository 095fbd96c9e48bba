package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyengine/internal/model"
)

const notificationColumns = `
	id, user_id, rule_id, trigger_type, context_id, priority, variables,
	scheduled_for, status, attempt_count, last_error, last_error_code,
	fingerprint, created_at, updated_at, processed_at`

// priorityRank mirrors model.Priority.Rank for ORDER BY.
const priorityRank = `CASE priority
	WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 WHEN 'low' THEN 0
	ELSE -1 END`

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.PendingNotification) error {
	vars, err := json.Marshal(n.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	query := `
		INSERT INTO pending_notifications (
			id, user_id, rule_id, trigger_type, context_id, priority, variables,
			scheduled_for, status, attempt_count, fingerprint, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err = r.db.Exec(ctx, query,
		n.ID, n.UserID, n.RuleID, n.TriggerType, n.ContextID, n.Priority, vars,
		n.ScheduledFor, n.Status, n.AttemptCount, n.Fingerprint, n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	n.UpdatedAt = n.CreatedAt
	return nil
}

func (r *NotificationRepository) Get(ctx context.Context, id string) (*model.PendingNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM pending_notifications WHERE id = $1`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PendingNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM pending_notifications
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, ` + priorityRank + ` DESC, id ASC
		LIMIT $2`
	return r.query(ctx, "due", query, now, limit)
}

// Transition is a single conditional UPDATE; the WHERE status = From clause
// is what makes claiming safe across workers.
func (r *NotificationRepository) Transition(ctx context.Context, id string, t model.Transition) (*model.PendingNotification, error) {
	query := `
		UPDATE pending_notifications SET
			status = $3,
			updated_at = $4,
			scheduled_for = COALESCE($5::timestamptz, scheduled_for),
			attempt_count = (CASE WHEN $6::boolean THEN 0 ELSE attempt_count END)
				+ (CASE WHEN $7::boolean THEN 1 ELSE 0 END),
			last_error = CASE
				WHEN $9::text <> '' OR $10::text <> '' THEN $9::text
				WHEN $8::boolean THEN ''
				ELSE last_error END,
			last_error_code = CASE
				WHEN $9::text <> '' OR $10::text <> '' THEN $10::text
				WHEN $8::boolean THEN ''
				ELSE last_error_code END,
			processed_at = CASE WHEN $11::boolean THEN $4 ELSE processed_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.QueryRow(ctx, query,
		id, t.From, t.To, t.At, t.ScheduledFor,
		t.ResetAttempts, t.IncrementAttempts, t.ClearError, t.Error, t.ErrorCode,
		t.MarkProcessed,
	))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition notification: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pending_notifications WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (r *NotificationRepository) ListStale(ctx context.Context, status model.Status, cutoff time.Time, limit int) ([]*model.PendingNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM pending_notifications
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC, id ASC
		LIMIT $3`
	return r.query(ctx, "stale", query, status, cutoff, limit)
}

func (r *NotificationRepository) ListByContext(ctx context.Context, userID, contextID string) ([]*model.PendingNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM pending_notifications
		WHERE user_id = $1 AND context_id = $2
		ORDER BY created_at DESC, id ASC`
	return r.query(ctx, "context", query, userID, contextID)
}

func (r *NotificationRepository) query(ctx context.Context, what, query string, args ...any) ([]*model.PendingNotification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s notifications: %w", what, err)
	}
	defer rows.Close()

	var out []*model.PendingNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*model.PendingNotification, error) {
	var (
		n    model.PendingNotification
		vars []byte
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.RuleID,
		&n.TriggerType,
		&n.ContextID,
		&n.Priority,
		&vars,
		&n.ScheduledFor,
		&n.Status,
		&n.AttemptCount,
		&n.LastError,
		&n.LastErrorCode,
		&n.Fingerprint,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &n.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	return &n, nil
}
