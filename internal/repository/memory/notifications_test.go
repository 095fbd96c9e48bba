package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
)

func pending(id string, at time.Time, p model.Priority) *model.PendingNotification {
	return &model.PendingNotification{
		ID:           id,
		UserID:       "u1",
		RuleID:       "r1",
		ContextID:    "ctx",
		Priority:     p,
		ScheduledFor: at,
		Status:       model.StatusPending,
		CreatedAt:    at,
	}
}

func TestNotificationStore_ListDueOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, pending("c", base, model.PriorityLow)))
	require.NoError(t, s.Create(ctx, pending("b", base, model.PriorityUrgent)))
	require.NoError(t, s.Create(ctx, pending("a", base.Add(-time.Minute), model.PriorityLow)))
	require.NoError(t, s.Create(ctx, pending("d", base.Add(time.Minute), model.PriorityUrgent)))

	due, err := s.ListDue(ctx, base, 10)
	require.NoError(t, err)

	var ids []string
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	due, err = s.ListDue(ctx, base, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestNotificationStore_TransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	now := time.Now()
	require.NoError(t, s.Create(ctx, pending("n1", now, model.PriorityMedium)))

	claim := model.Transition{From: model.StatusPending, To: model.StatusInFlight, At: now}
	got, err := s.Transition(ctx, "n1", claim)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInFlight, got.Status)

	_, err = s.Transition(ctx, "n1", claim)
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = s.Transition(ctx, "missing", claim)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNotificationStore_ListByContext(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	now := time.Now()
	require.NoError(t, s.Create(ctx, pending("n1", now, model.PriorityMedium)))
	later := pending("n2", now.Add(time.Minute), model.PriorityMedium)
	require.NoError(t, s.Create(ctx, later))
	other := pending("n3", now, model.PriorityMedium)
	other.ContextID = "other"
	require.NoError(t, s.Create(ctx, other))

	got, err := s.ListByContext(ctx, "u1", "ctx")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID)
	assert.Equal(t, "n1", got[1].ID)
}

func TestNotificationStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	n := pending("n1", time.Now(), model.PriorityMedium)
	n.Variables = map[string]string{"k": "v"}
	require.NoError(t, s.Create(ctx, n))

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	got.Variables["k"] = "changed"

	again, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Variables["k"])
}

func TestDeadLetterStore_ReplayOnce(t *testing.T) {
	ctx := context.Background()
	s := NewDeadLetterStore()
	require.NoError(t, s.Create(ctx, &model.DeadLetterEntry{ID: "d1", NotificationID: "n1", MovedAt: time.Now()}))

	rec := model.ReplayRecord{DeadLetterID: "d1", NotificationID: "n1", Actor: "ops", ReplayedAt: time.Now()}
	require.NoError(t, s.RecordReplay(ctx, rec))
	assert.ErrorIs(t, s.RecordReplay(ctx, rec), repository.ErrConflict)

	open, err := s.List(ctx, 10, false)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.List(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].Replay)
	assert.Equal(t, "ops", all[0].Replay.Actor)
}

func TestUserDirectory_ListInactiveSinceKeyset(t *testing.T) {
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	a, b := base.Add(-48*time.Hour), base.Add(-24*time.Hour)
	d := NewUserDirectory(
		model.Recipient{ID: "x", LastActiveAt: &b},
		model.Recipient{ID: "w", LastActiveAt: &b},
		model.Recipient{ID: "v", LastActiveAt: &a},
		model.Recipient{ID: "fresh", LastActiveAt: &base},
		model.Recipient{ID: "never"},
	)
	ctx := context.Background()

	first, err := d.ListInactiveSince(ctx, base, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "v", first[0].ID)
	assert.Equal(t, "w", first[1].ID)

	rest, err := d.ListInactiveSince(ctx, base, &repository.UserCursor{LastActiveAt: b, ID: "w"}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "x", rest[0].ID)
}
