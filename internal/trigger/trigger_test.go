package trigger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contractmq "notifyengine/contracts/mq"
	"notifyengine/internal/dedup"
	"notifyengine/internal/model"
	"notifyengine/internal/repository/memory"
	"notifyengine/internal/rules"
	"notifyengine/internal/scheduler"
	"notifyengine/pkg/mq"
)

var t0 = time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T) (*Adapter, *memory.NotificationStore) {
	t.Helper()
	catalog, err := rules.NewStaticCatalog(rules.DefaultRules())
	require.NoError(t, err)
	clock := func() time.Time { return t0 }
	store := memory.NewNotificationStore()
	s := scheduler.NewScheduler(catalog, store, dedup.NewMemoryStore(0).WithClock(clock), zap.NewNop()).WithClock(clock)
	return NewAdapter(s, zap.NewNop()), store
}

func countStatus(store *memory.NotificationStore, status model.Status) int {
	n := 0
	for _, p := range store.All() {
		if p.Status == status {
			n++
		}
	}
	return n
}

func TestAdapter_ObserveIsIdempotentUnderRedelivery(t *testing.T) {
	a, store := newAdapter(t)
	ctx := context.Background()
	e := Event{Trigger: model.TriggerSessionComplete, UserID: "u1", ContextID: "s1"}

	first, err := a.Observe(ctx, e)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := a.Observe(ctx, e)
	require.NoError(t, err)
	assert.Len(t, second, 3, "pending follow-ups are replaced, not dropped")
	assert.Equal(t, 3, countStatus(store, model.StatusPending))
	assert.Equal(t, 3, countStatus(store, model.StatusCancelled))
}

func TestAdapter_SupersedesOlderContext(t *testing.T) {
	a, store := newAdapter(t)
	ctx := context.Background()

	_, err := a.Observe(ctx, Event{Trigger: model.TriggerSessionComplete, UserID: "u1", ContextID: "s1"})
	require.NoError(t, err)
	_, err = a.Observe(ctx, Event{Trigger: model.TriggerSessionComplete, UserID: "u1", ContextID: "s2", SupersedesContextID: "s1"})
	require.NoError(t, err)

	for _, p := range store.All() {
		if p.ContextID == "s1" {
			assert.Equal(t, model.StatusCancelled, p.Status)
		} else {
			assert.Equal(t, model.StatusPending, p.Status)
		}
	}
}

func TestHandlers_SessionStatusChanged(t *testing.T) {
	a, store := newAdapter(t)
	h := NewHandlers(a, zap.NewNop())
	ctx := context.Background()

	raw, _ := json.Marshal(contractmq.SessionStatusChangedPayload{SessionID: "s1", UserID: "u1", Status: "scheduled"})
	require.NoError(t, h.SessionStatusChanged(ctx, raw))
	assert.Empty(t, store.All())

	raw, _ = json.Marshal(contractmq.SessionStatusChangedPayload{SessionID: "s1", UserID: "u1", Status: "completed", TherapistName: "Dr. R"})
	require.NoError(t, h.SessionStatusChanged(ctx, raw))
	all := store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "Dr. R", all[0].Variables["therapistName"])
	assert.Equal(t, "s1", all[0].Variables["sessionId"])
}

func TestHandlers_BadPayloadsArePermanent(t *testing.T) {
	a, _ := newAdapter(t)
	h := NewHandlers(a, zap.NewNop())
	ctx := context.Background()

	assert.True(t, mq.IsPermanent(h.SessionStatusChanged(ctx, json.RawMessage(`{`))))
	assert.True(t, mq.IsPermanent(h.AnalysisReady(ctx, json.RawMessage(`{"analysis_id":"a1"}`))), "missing user id")
	assert.True(t, mq.IsPermanent(h.CampaignLaunched(ctx, json.RawMessage(`{"user_ids":["u1"]}`))))
}

func TestHandlers_CampaignFanOut(t *testing.T) {
	a, store := newAdapter(t)
	h := NewHandlers(a, zap.NewNop())

	raw, _ := json.Marshal(contractmq.CampaignLaunchedPayload{
		CampaignID: "c1", Title: "New course", Body: "Try it", UserIDs: []string{"u1", "u2", "", "u3"},
	})
	require.NoError(t, h.CampaignLaunched(context.Background(), raw))

	all := store.All()
	require.Len(t, all, 3)
	for _, p := range all {
		assert.Equal(t, model.TriggerSystemEvent, p.TriggerType)
		assert.Equal(t, "campaign:c1", p.ContextID)
		assert.Equal(t, "New course", p.Variables["campaignTitle"])
	}
}

func TestInactivityScanner_OncePerDay(t *testing.T) {
	a, store := newAdapter(t)
	long := t0.Add(-10 * 24 * time.Hour)
	recent := t0.Add(-time.Hour)
	users := memory.NewUserDirectory(
		model.Recipient{ID: "idle", LastActiveAt: &long},
		model.Recipient{ID: "active", LastActiveAt: &recent},
	)
	s := NewInactivityScanner(users, a, 7*24*time.Hour, zap.NewNop()).WithClock(func() time.Time { return t0 })
	ctx := context.Background()

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, "idle", all[0].UserID)
	assert.Equal(t, "inactive:2026-09-01", all[0].ContextID)
	assert.Equal(t, "10", all[0].Variables["daysInactive"])

	// The first notification went out; a second scan the same day is absorbed.
	_, err = store.Transition(ctx, all[0].ID, model.Transition{From: model.StatusPending, To: model.StatusSent, At: t0})
	require.NoError(t, err)
	n, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInactivityScanner_PagesPastBatchSize(t *testing.T) {
	a, store := newAdapter(t)
	long := t0.Add(-30 * 24 * time.Hour)
	longer := t0.Add(-40 * 24 * time.Hour)
	users := memory.NewUserDirectory(
		model.Recipient{ID: "u1", LastActiveAt: &longer},
		model.Recipient{ID: "u2", LastActiveAt: &long},
		model.Recipient{ID: "u3", LastActiveAt: &long},
		model.Recipient{ID: "u4", LastActiveAt: &long},
		model.Recipient{ID: "u5", LastActiveAt: &long},
	)
	s := NewInactivityScanner(users, a, 7*24*time.Hour, zap.NewNop()).
		WithBatchSize(2).
		WithClock(func() time.Time { return t0 })

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	perUser := map[string]int{}
	for _, p := range store.All() {
		perUser[p.UserID]++
	}
	assert.Equal(t, map[string]int{"u1": 1, "u2": 1, "u3": 1, "u4": 1, "u5": 1}, perUser)
}
