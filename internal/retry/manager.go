package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyengine/internal/events"
	"notifyengine/internal/model"
	"notifyengine/internal/repository"
	"notifyengine/pkg/logger"
	"notifyengine/pkg/metrics"
)

var (
	ErrNotFailed       = errors.New("notification is not in failed state")
	ErrAlreadyReplayed = errors.New("dead letter already replayed")
	ErrDeadLetterGone  = errors.New("dead letter not found")
)

// Decision is what HandleFailure did with a notification.
type Decision string

const (
	DecisionRetry      Decision = "retry"
	DecisionDeadLetter Decision = "dead_letter"
)

type Manager struct {
	policy      Policy
	store       repository.NotificationStore
	attempts    repository.AttemptStore
	deadLetters repository.DeadLetterStore
	mirror      events.Mirror
	logger      *zap.Logger
	now         func() time.Time
	rand        func() float64
	newID       func() string
}

func NewManager(
	policy Policy,
	store repository.NotificationStore,
	attempts repository.AttemptStore,
	deadLetters repository.DeadLetterStore,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		policy:      policy.withDefaults(),
		store:       store,
		attempts:    attempts,
		deadLetters: deadLetters,
		mirror:      events.NopMirror{},
		logger:      logger,
		now:         time.Now,
		rand:        rand.Float64,
		newID:       uuid.NewString,
	}
}

func (m *Manager) WithMirror(mirror events.Mirror) *Manager {
	m.mirror = mirror
	return m
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithRand replaces the jitter source; r must return values in [0, 1).
func (m *Manager) WithRand(r func() float64) *Manager {
	m.rand = r
	return m
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// HandleFailure moves a failed notification back to pending after a backoff,
// or to dead_letter once its attempts are exhausted. repository.ErrConflict
// means another worker already handled it.
func (m *Manager) HandleFailure(ctx context.Context, n *model.PendingNotification) (Decision, error) {
	if n.Status != model.StatusFailed {
		return "", fmt.Errorf("%w: %s is %s", ErrNotFailed, n.ID, n.Status)
	}
	log := logger.WithTrace(ctx, m.logger).With(
		zap.String("notification_id", n.ID),
		zap.Int("attempt_count", n.AttemptCount),
		zap.String("error_code", n.LastErrorCode),
	)

	now := m.now()
	if !m.policy.Exhausted(n.AttemptCount) {
		next := now.Add(m.policy.Backoff(n.AttemptCount, m.rand()))
		updated, err := m.store.Transition(ctx, n.ID, model.Transition{
			From:         model.StatusFailed,
			To:           model.StatusPending,
			At:           now,
			ScheduledFor: &next,
		})
		if err != nil {
			return "", fmt.Errorf("reschedule %s: %w", n.ID, err)
		}
		metrics.IncrementRetry()
		log.Info("Rescheduled failed notification", zap.Time("next_attempt", next))
		*n = *updated
		return DecisionRetry, nil
	}

	updated, err := m.store.Transition(ctx, n.ID, model.Transition{
		From:          model.StatusFailed,
		To:            model.StatusDeadLetter,
		At:            now,
		MarkProcessed: true,
	})
	if err != nil {
		return "", fmt.Errorf("dead-letter %s: %w", n.ID, err)
	}
	*n = *updated

	history, err := m.attempts.ListByNotification(ctx, n.ID)
	if err != nil {
		log.Warn("Failed to load attempt history for dead letter", zap.Error(err))
	}
	entry := &model.DeadLetterEntry{
		ID:             m.newID(),
		NotificationID: n.ID,
		UserID:         n.UserID,
		RuleID:         n.RuleID,
		FinalError:     n.LastError,
		FinalErrorCode: n.LastErrorCode,
		AttemptHistory: history,
		MovedAt:        now,
	}
	if err := m.deadLetters.Create(ctx, entry); err != nil {
		log.Error("Failed to write dead letter entry", zap.Error(err))
		return DecisionDeadLetter, fmt.Errorf("write dead letter for %s: %w", n.ID, err)
	}

	metrics.IncrementDeadLetter(n.LastErrorCode)
	m.mirror.Emit(ctx, events.FromNotification(events.TypeDeadLettered, n, now))
	log.Warn("Notification moved to dead letter", zap.String("dead_letter_id", entry.ID))
	return DecisionDeadLetter, nil
}

// ReplayDeadLetter returns the entry's notification to pending with a fresh
// attempt budget. The entry stays as it was. The replay audit row is written
// before the notification is re-armed and its uniqueness serialises
// concurrent replays; if re-arming fails the audit row is withdrawn.
func (m *Manager) ReplayDeadLetter(ctx context.Context, entryID, actor string) (*model.PendingNotification, error) {
	entry, err := m.deadLetters.Get(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeadLetterGone
		}
		return nil, fmt.Errorf("load dead letter: %w", err)
	}
	if entry.Replay != nil {
		return nil, ErrAlreadyReplayed
	}

	now := m.now()
	if err := m.deadLetters.RecordReplay(ctx, model.ReplayRecord{
		DeadLetterID:   entry.ID,
		NotificationID: entry.NotificationID,
		Actor:          actor,
		ReplayedAt:     now,
	}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyReplayed
		}
		return nil, fmt.Errorf("record replay: %w", err)
	}

	n, err := m.store.Transition(ctx, entry.NotificationID, model.Transition{
		From:          model.StatusDeadLetter,
		To:            model.StatusPending,
		At:            now,
		ScheduledFor:  &now,
		ResetAttempts: true,
		ClearError:    true,
	})
	if err != nil {
		if derr := m.deadLetters.DeleteReplay(ctx, entry.ID); derr != nil {
			logger.WithTrace(ctx, m.logger).Error("Failed to withdraw replay audit",
				zap.String("dead_letter_id", entry.ID),
				zap.Error(derr),
			)
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyReplayed
		}
		return nil, fmt.Errorf("reset notification %s: %w", entry.NotificationID, err)
	}

	metrics.IncrementReplay()
	m.mirror.Emit(ctx, events.FromNotification(events.TypeReplayed, n, now))
	logger.WithTrace(ctx, m.logger).Info("Replayed dead letter",
		zap.String("dead_letter_id", entry.ID),
		zap.String("notification_id", n.ID),
		zap.String("actor", actor),
	)
	return n, nil
}

func (m *Manager) ListDeadLetters(ctx context.Context, limit int, includeReplayed bool) ([]*model.DeadLetterEntry, error) {
	return m.deadLetters.List(ctx, limit, includeReplayed)
}

func (m *Manager) AttemptHistory(ctx context.Context, notificationID string) ([]model.DeliveryAttempt, error) {
	return m.attempts.ListByNotification(ctx, notificationID)
}
