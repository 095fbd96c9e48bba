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

const deadLetterSelect = `
	SELECT d.id, d.notification_id, d.user_id, d.rule_id, d.final_error, d.final_error_code,
	       d.attempt_history, d.moved_at, r.actor, r.replayed_at
	FROM dead_letters d
	LEFT JOIN dead_letter_replays r ON r.dead_letter_id = d.id`

// DeadLetterRepository never updates dead_letters rows; replays are recorded
// in dead_letter_replays.
type DeadLetterRepository struct {
	db *pgxpool.Pool
}

func NewDeadLetterRepository(db *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Create(ctx context.Context, e *model.DeadLetterEntry) error {
	history, err := json.Marshal(e.AttemptHistory)
	if err != nil {
		return fmt.Errorf("failed to encode attempt history: %w", err)
	}
	query := `
		INSERT INTO dead_letters (id, notification_id, user_id, rule_id, final_error, final_error_code, attempt_history, moved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(ctx, query,
		e.ID, e.NotificationID, e.UserID, e.RuleID, e.FinalError, e.FinalErrorCode, history, e.MovedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	e, err := scanDeadLetter(r.db.QueryRow(ctx, deadLetterSelect+` WHERE d.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return e, nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit int, includeReplayed bool) ([]*model.DeadLetterEntry, error) {
	query := deadLetterSelect + `
		WHERE $2::boolean OR r.dead_letter_id IS NULL
		ORDER BY d.moved_at DESC, d.id ASC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit, includeReplayed)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []*model.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *DeadLetterRepository) RecordReplay(ctx context.Context, rec model.ReplayRecord) error {
	query := `
		INSERT INTO dead_letter_replays (dead_letter_id, notification_id, actor, replayed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dead_letter_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, rec.DeadLetterID, rec.NotificationID, rec.Actor, rec.ReplayedAt)
	if err != nil {
		return fmt.Errorf("failed to record replay: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *DeadLetterRepository) DeleteReplay(ctx context.Context, deadLetterID string) error {
	query := `DELETE FROM dead_letter_replays WHERE dead_letter_id = $1`
	if _, err := r.db.Exec(ctx, query, deadLetterID); err != nil {
		return fmt.Errorf("failed to delete replay: %w", err)
	}
	return nil
}

func scanDeadLetter(row rowScanner) (*model.DeadLetterEntry, error) {
	var (
		e          model.DeadLetterEntry
		history    []byte
		actor      *string
		replayedAt *time.Time
	)
	if err := row.Scan(
		&e.ID,
		&e.NotificationID,
		&e.UserID,
		&e.RuleID,
		&e.FinalError,
		&e.FinalErrorCode,
		&history,
		&e.MovedAt,
		&actor,
		&replayedAt,
	); err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &e.AttemptHistory); err != nil {
			return nil, fmt.Errorf("decode attempt history: %w", err)
		}
	}
	if replayedAt != nil {
		e.Replay = &model.ReplayRecord{
			DeadLetterID:   e.ID,
			NotificationID: e.NotificationID,
			ReplayedAt:     *replayedAt,
		}
		if actor != nil {
			e.Replay.Actor = *actor
		}
	}
	return &e, nil
}
