// Package trigger turns domain events into scheduler calls.
package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyengine/internal/events"
	"notifyengine/internal/model"
	"notifyengine/internal/scheduler"
	"notifyengine/pkg/logger"
)

// Scheduler is the part of *scheduler.Scheduler adapters need.
type Scheduler interface {
	ScheduleNotifications(ctx context.Context, trigger model.TriggerType, req scheduler.Request) ([]*model.PendingNotification, error)
	CancelScheduledNotifications(ctx context.Context, userID, contextID string) (int, error)
}

// Event is a domain event reduced to what scheduling needs.
type Event struct {
	Trigger   model.TriggerType
	UserID    string
	ContextID string
	// SupersedesContextID names an older context whose pending follow-ups
	// this event replaces, e.g. the previous session.
	SupersedesContextID string
	Variables           map[string]string
}

type Adapter struct {
	scheduler Scheduler
	mirror    events.Mirror
	logger    *zap.Logger
	now       func() time.Time
}

func NewAdapter(s Scheduler, logger *zap.Logger) *Adapter {
	return &Adapter{scheduler: s, mirror: events.NopMirror{}, logger: logger, now: time.Now}
}

func (a *Adapter) WithMirror(m events.Mirror) *Adapter {
	a.mirror = m
	return a
}

// Observe cancels stale follow-ups for the event's context (and the context
// it supersedes), then schedules the trigger's rules.
func (a *Adapter) Observe(ctx context.Context, e Event) ([]*model.PendingNotification, error) {
	log := logger.WithTrace(ctx, a.logger).With(
		zap.String("trigger", string(e.Trigger)),
		zap.String("user_id", e.UserID),
		zap.String("context_id", e.ContextID),
	)

	// Reject before cancelling so a malformed event leaves pending rows alone.
	if !e.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", scheduler.ErrInvalidTrigger, e.Trigger)
	}
	if e.UserID == "" || e.ContextID == "" {
		return nil, scheduler.ErrMissingContext
	}

	for _, contextID := range []string{e.SupersedesContextID, e.ContextID} {
		if contextID == "" {
			continue
		}
		if _, err := a.scheduler.CancelScheduledNotifications(ctx, e.UserID, contextID); err != nil {
			return nil, fmt.Errorf("cancel %s: %w", contextID, err)
		}
	}

	created, err := a.scheduler.ScheduleNotifications(ctx, e.Trigger, scheduler.Request{
		UserID:    e.UserID,
		ContextID: e.ContextID,
		Variables: e.Variables,
	})
	if err != nil {
		return created, err
	}

	now := a.now()
	for _, n := range created {
		a.mirror.Emit(ctx, events.FromNotification(events.TypeScheduled, n, now))
	}
	log.Debug("Observed trigger", zap.Int("scheduled", len(created)))
	return created, nil
}
