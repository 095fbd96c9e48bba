package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"notifyengine/internal/model"
)

type HistoryRepository struct {
	db *pgxpool.Pool
}

func NewHistoryRepository(db *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, n *model.UserNotification) error {
	query := `
		INSERT INTO user_notifications (id, user_id, notification_id, title, body, action_url, action_text, priority, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (notification_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		n.ID, n.UserID, n.NotificationID, n.Title, n.Body, n.ActionURL, n.ActionText, n.Priority, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user notification: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.UserNotification, error) {
	query := `
		SELECT id, user_id, notification_id, title, body, action_url, action_text, priority, is_read, created_at
		FROM user_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.UserNotification
	for rows.Next() {
		var n model.UserNotification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.NotificationID,
			&n.Title,
			&n.Body,
			&n.ActionURL,
			&n.ActionText,
			&n.Priority,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
