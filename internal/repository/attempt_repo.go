package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"notifyengine/internal/model"
)

type AttemptRepository struct {
	db *pgxpool.Pool
}

func NewAttemptRepository(db *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Append(ctx context.Context, a model.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (notification_id, attempt_number, attempted_at, outcome, error_code, error, permanent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		a.NotificationID, a.AttemptNumber, a.Timestamp, a.Outcome, a.ErrorCode, a.Error, a.Permanent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) ListByNotification(ctx context.Context, notificationID string) ([]model.DeliveryAttempt, error) {
	query := `
		SELECT notification_id, attempt_number, attempted_at, outcome, error_code, error, permanent
		FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY attempted_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryAttempt
	for rows.Next() {
		var a model.DeliveryAttempt
		if err := rows.Scan(
			&a.NotificationID,
			&a.AttemptNumber,
			&a.Timestamp,
			&a.Outcome,
			&a.ErrorCode,
			&a.Error,
			&a.Permanent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
