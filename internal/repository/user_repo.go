package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyengine/internal/model"
)

// UserRepository reads the users table owned by the account service. The
// engine only ever clears device tokens.
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser returns ErrNotFound for unknown ids.
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*model.Recipient, error) {
	query := `
		SELECT id, display_name, COALESCE(device_token, ''), locale, last_active_at
		FROM users
		WHERE id = $1
	`
	var u model.Recipient
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.DisplayName, &u.DeviceToken, &u.Locale, &u.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) InvalidateDeviceToken(ctx context.Context, userID, token string) error {
	query := `
		UPDATE users SET device_token = NULL
		WHERE id = $1 AND device_token = $2
	`
	if _, err := r.db.Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to invalidate device token: %w", err)
	}
	return nil
}

func (r *UserRepository) ListInactiveSince(ctx context.Context, cutoff time.Time, after *UserCursor, limit int) ([]*model.Recipient, error) {
	query := `
		SELECT id, display_name, COALESCE(device_token, ''), locale, last_active_at
		FROM users
		WHERE last_active_at < $1
		  AND ($2::timestamptz IS NULL OR (last_active_at, id) > ($2::timestamptz, $3::text))
		ORDER BY last_active_at ASC, id ASC
		LIMIT $4
	`
	var afterAt *time.Time
	afterID := ""
	if after != nil {
		afterAt = &after.LastActiveAt
		afterID = after.ID
	}
	rows, err := r.db.Query(ctx, query, cutoff, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inactive users: %w", err)
	}
	defer rows.Close()

	var out []*model.Recipient
	for rows.Next() {
		var u model.Recipient
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.DeviceToken, &u.Locale, &u.LastActiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
