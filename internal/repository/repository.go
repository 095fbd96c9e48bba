// Package repository defines the persistence contracts of the engine and
// their Postgres implementations. The in-memory implementation lives in
// repository/memory.
package repository

import (
	"context"
	"errors"
	"time"

	"notifyengine/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a failed compare-and-set: the row exists but is
	// not in the expected state.
	ErrConflict = errors.New("record state conflict")
	// ErrDuplicate reports an insert that collides with an existing key.
	ErrDuplicate = errors.New("duplicate record")
)

// NotificationStore persists PendingNotification rows. All status changes go
// through Transition so that concurrent workers never double-claim a row.
type NotificationStore interface {
	Create(ctx context.Context, n *model.PendingNotification) error
	Get(ctx context.Context, id string) (*model.PendingNotification, error)
	// ListDue returns pending rows with scheduledFor <= now ordered by
	// scheduledFor ascending, then priority descending, then id.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PendingNotification, error)
	// Transition applies t iff the row is in t.From and returns the updated
	// row. ErrConflict when the status differs, ErrNotFound when missing.
	Transition(ctx context.Context, id string, t model.Transition) (*model.PendingNotification, error)
	// ListStale returns rows in status whose last update is before cutoff.
	ListStale(ctx context.Context, status model.Status, cutoff time.Time, limit int) ([]*model.PendingNotification, error)
	// ListByContext returns every row of (userID, contextID), newest first.
	ListByContext(ctx context.Context, userID, contextID string) ([]*model.PendingNotification, error)
}

// RuleStore persists notification rules.
type RuleStore interface {
	List(ctx context.Context) ([]model.NotificationRule, error)
	ListByTrigger(ctx context.Context, trigger model.TriggerType) ([]model.NotificationRule, error)
	Get(ctx context.Context, id string) (*model.NotificationRule, error)
	Create(ctx context.Context, r *model.NotificationRule) error
	Update(ctx context.Context, r *model.NotificationRule) error
}

// AttemptStore is the append-only delivery audit trail.
type AttemptStore interface {
	Append(ctx context.Context, a model.DeliveryAttempt) error
	ListByNotification(ctx context.Context, notificationID string) ([]model.DeliveryAttempt, error)
}

// DeadLetterStore keeps immutable dead-letter entries and their replay audit.
type DeadLetterStore interface {
	Create(ctx context.Context, e *model.DeadLetterEntry) error
	Get(ctx context.Context, id string) (*model.DeadLetterEntry, error)
	// List returns entries newest first; replayed entries only when
	// includeReplayed.
	List(ctx context.Context, limit int, includeReplayed bool) ([]*model.DeadLetterEntry, error)
	// RecordReplay stores the audit row; ErrConflict if the entry was
	// already replayed.
	RecordReplay(ctx context.Context, r model.ReplayRecord) error
	// DeleteReplay withdraws the audit row of a replay that did not happen.
	DeleteReplay(ctx context.Context, deadLetterID string) error
}

// HistoryStore holds the end-user visible notification feed.
type HistoryStore interface {
	Create(ctx context.Context, n *model.UserNotification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.UserNotification, error)
}

// UserDirectory resolves delivery targets.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*model.Recipient, error)
	// InvalidateDeviceToken clears token for userID if it is still the
	// current one.
	InvalidateDeviceToken(ctx context.Context, userID, token string) error
	// ListInactiveSince returns users whose last activity is before cutoff,
	// ordered by (last_active_at, id) and strictly after the cursor when
	// one is given.
	ListInactiveSince(ctx context.Context, cutoff time.Time, after *UserCursor, limit int) ([]*model.Recipient, error)
}

// UserCursor is a keyset position in last-activity order.
type UserCursor struct {
	LastActiveAt time.Time
	ID           string
}
