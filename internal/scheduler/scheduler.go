// Package scheduler expands a trigger into pending notifications, one per
// enabled rule, and cancels them when they are superseded.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyengine/internal/dedup"
	"notifyengine/internal/model"
	"notifyengine/internal/repository"
	"notifyengine/internal/rules"
	"notifyengine/pkg/logger"
	"notifyengine/pkg/metrics"
)

var (
	ErrInvalidTrigger = errors.New("invalid trigger type")
	ErrMissingContext = errors.New("missing user or context id")
)

// Request carries what a trigger knows about the event.
type Request struct {
	UserID    string
	ContextID string
	Variables map[string]string
}

type Scheduler struct {
	catalog    rules.Catalog
	store      repository.NotificationStore
	dedup      dedup.Store
	logger     *zap.Logger
	dedupFloor time.Duration
	now        func() time.Time
	newID      func() string
}

func NewScheduler(
	catalog rules.Catalog,
	store repository.NotificationStore,
	dd dedup.Store,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		catalog:    catalog,
		store:      store,
		dedup:      dd,
		logger:     logger,
		dedupFloor: dedup.DefaultFloor,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithDedupFloor sets the minimum suppression window.
func (s *Scheduler) WithDedupFloor(floor time.Duration) *Scheduler {
	s.dedupFloor = floor
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleNotifications creates one pending notification per enabled rule of
// trigger. Rules whose fingerprint is still recorded are skipped; they are
// absent from the result and not reported as errors.
func (s *Scheduler) ScheduleNotifications(ctx context.Context, trigger model.TriggerType, req Request) ([]*model.PendingNotification, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}
	if req.UserID == "" || req.ContextID == "" {
		return nil, ErrMissingContext
	}

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("trigger", string(trigger)),
		zap.String("user_id", req.UserID),
		zap.String("context_id", req.ContextID),
	)

	rs, err := s.catalog.RulesForTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	now := s.now()
	created := make([]*model.PendingNotification, 0, len(rs))
	for _, rule := range rs {
		fp := dedup.Fingerprint(req.UserID, trigger, rule.ID, req.ContextID)
		if s.dedup.ShouldSuppress(ctx, fp) {
			metrics.IncrementSuppressed(string(trigger))
			log.Debug("Suppressed duplicate notification", zap.String("rule_id", rule.ID))
			continue
		}

		ok, err := s.dedup.Record(ctx, fp, dedup.TTL(rule.Delay(), s.dedupFloor))
		if err != nil {
			return created, fmt.Errorf("record fingerprint for rule %s: %w", rule.ID, err)
		}
		if !ok {
			metrics.IncrementSuppressed(string(trigger))
			log.Debug("Lost fingerprint race, skipping", zap.String("rule_id", rule.ID))
			continue
		}

		n := &model.PendingNotification{
			ID:           s.newID(),
			UserID:       req.UserID,
			RuleID:       rule.ID,
			TriggerType:  trigger,
			ContextID:    req.ContextID,
			Priority:     rule.Priority,
			Variables:    copyVars(req.Variables),
			ScheduledFor: now.Add(rule.Delay()),
			Status:       model.StatusPending,
			Fingerprint:  fp,
			CreatedAt:    now,
		}
		if err := s.store.Create(ctx, n); err != nil {
			if relErr := s.dedup.Release(ctx, fp); relErr != nil {
				log.Warn("Failed to release fingerprint", zap.String("rule_id", rule.ID), zap.Error(relErr))
			}
			return created, fmt.Errorf("create notification for rule %s: %w", rule.ID, err)
		}

		metrics.IncrementScheduled(string(trigger))
		log.Info("Scheduled notification",
			zap.String("notification_id", n.ID),
			zap.String("rule_id", rule.ID),
			zap.Time("scheduled_for", n.ScheduledFor),
		)
		created = append(created, n)
	}
	return created, nil
}

// CancelScheduledNotifications moves every pending notification of
// (userID, contextID) to cancelled, one conditional update per row, and
// releases their fingerprints so a superseding trigger can schedule them
// again. Rows already claimed or finished are left alone.
func (s *Scheduler) CancelScheduledNotifications(ctx context.Context, userID, contextID string) (int, error) {
	if userID == "" || contextID == "" {
		return 0, ErrMissingContext
	}
	rows, err := s.store.ListByContext(ctx, userID, contextID)
	if err != nil {
		return 0, fmt.Errorf("list notifications: %w", err)
	}

	log := logger.WithTrace(ctx, s.logger)
	now := s.now()
	cancelled := 0
	for _, n := range rows {
		if n.Status != model.StatusPending {
			continue
		}
		_, err := s.store.Transition(ctx, n.ID, model.Transition{
			From:          model.StatusPending,
			To:            model.StatusCancelled,
			At:            now,
			MarkProcessed: true,
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return cancelled, fmt.Errorf("cancel notification %s: %w", n.ID, err)
		}
		cancelled++
		if err := s.dedup.Release(ctx, n.Fingerprint); err != nil {
			log.Warn("Failed to release fingerprint", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}

	if cancelled > 0 {
		metrics.AddCancelled(cancelled)
		log.Info("Cancelled scheduled notifications",
			zap.String("user_id", userID),
			zap.String("context_id", contextID),
			zap.Int("count", cancelled),
		)
	}
	return cancelled, nil
}

func copyVars(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
