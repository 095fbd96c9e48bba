package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
	"notifyengine/pkg/logger"
	"notifyengine/pkg/trace"
)

// InactivityScanner emits a user_inactive trigger for users idle longer
// than the threshold. The context id is the scan date, so each user gets at
// most one expansion per day.
type InactivityScanner struct {
	users     repository.UserDirectory
	adapter   *Adapter
	threshold time.Duration
	batch     int
	logger    *zap.Logger
	now       func() time.Time
}

func NewInactivityScanner(users repository.UserDirectory, adapter *Adapter, threshold time.Duration, logger *zap.Logger) *InactivityScanner {
	if threshold <= 0 {
		threshold = 7 * 24 * time.Hour
	}
	return &InactivityScanner{
		users:     users,
		adapter:   adapter,
		threshold: threshold,
		batch:     500,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *InactivityScanner) WithBatchSize(n int) *InactivityScanner {
	if n > 0 {
		s.batch = n
	}
	return s
}

func (s *InactivityScanner) WithClock(now func() time.Time) *InactivityScanner {
	s.now = now
	return s
}

// Scan walks every inactive user in pages of the batch size and returns how
// many notifications were scheduled.
func (s *InactivityScanner) Scan(ctx context.Context) (int, error) {
	ctx = trace.Ensure(ctx)
	now := s.now()
	cutoff := now.Add(-s.threshold)
	contextID := "inactive:" + now.UTC().Format(time.DateOnly)

	var cursor *repository.UserCursor
	scheduled := 0
	for {
		users, err := s.users.ListInactiveSince(ctx, cutoff, cursor, s.batch)
		if err != nil {
			return scheduled, fmt.Errorf("list inactive users: %w", err)
		}
		scheduled += s.schedule(ctx, now, contextID, users)
		if len(users) < s.batch {
			return scheduled, nil
		}
		last := users[len(users)-1]
		cursor = &repository.UserCursor{LastActiveAt: *last.LastActiveAt, ID: last.ID}
	}
}

func (s *InactivityScanner) schedule(ctx context.Context, now time.Time, contextID string, users []*model.Recipient) int {
	scheduled := 0
	for _, u := range users {
		vars := map[string]string{}
		if u.LastActiveAt != nil {
			vars["daysInactive"] = fmt.Sprintf("%d", int(now.Sub(*u.LastActiveAt).Hours()/24))
		}
		created, err := s.adapter.Observe(ctx, Event{
			Trigger:   model.TriggerUserInactive,
			UserID:    u.ID,
			ContextID: contextID,
			Variables: vars,
		})
		if err != nil {
			logger.WithTrace(ctx, s.logger).Warn("Failed to schedule inactivity notification",
				zap.String("user_id", u.ID),
				zap.Error(err),
			)
			continue
		}
		scheduled += len(created)
	}
	return scheduled
}
