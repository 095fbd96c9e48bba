package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyengine/internal/dedup"
	"notifyengine/internal/model"
	"notifyengine/internal/push"
	"notifyengine/internal/repository/memory"
	"notifyengine/internal/retry"
	"notifyengine/internal/rules"
	"notifyengine/internal/scheduler"
	"notifyengine/internal/templating"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingTransport struct {
	mu    sync.Mutex
	sent  []push.Message
	err   error
	block chan struct{}
}

func (r *recordingTransport) Send(_ context.Context, msg push.Message) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) Sent() []push.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Message(nil), r.sent...)
}

type harness struct {
	clock     *clock
	store     *memory.NotificationStore
	attempts  *memory.AttemptStore
	history   *memory.HistoryStore
	users     *memory.UserDirectory
	dl        *memory.DeadLetterStore
	transport *recordingTransport
	sched     *scheduler.Scheduler
	retry     *retry.Manager
	disp      *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     &clock{t: time.Date(2026, 4, 20, 8, 0, 0, 0, time.UTC)},
		store:     memory.NewNotificationStore(),
		attempts:  memory.NewAttemptStore(),
		history:   memory.NewHistoryStore(),
		dl:        memory.NewDeadLetterStore(),
		transport: &recordingTransport{},
	}
	h.users = memory.NewUserDirectory(model.Recipient{ID: "u1", DisplayName: "Sara", DeviceToken: "tok-1"})

	catalog, err := rules.NewStaticCatalog(rules.DefaultRules())
	require.NoError(t, err)

	h.sched = scheduler.NewScheduler(catalog, h.store, dedup.NewMemoryStore(0).WithClock(h.clock.Now), zap.NewNop()).
		WithClock(h.clock.Now)
	h.retry = retry.NewManager(retry.Policy{MaxAttempts: 3}, h.store, h.attempts, h.dl, zap.NewNop()).
		WithClock(h.clock.Now).
		WithRand(func() float64 { return 0 })
	h.disp = NewDispatcher(h.store, h.attempts, h.history, h.users, catalog,
		templating.NewEngine("Mindful", time.UTC), h.transport, h.retry, zap.NewNop()).
		WithClock(h.clock.Now).
		WithWorkers(4)
	return h
}

func (h *harness) schedule(t *testing.T, trigger model.TriggerType, contextID string) []*model.PendingNotification {
	t.Helper()
	ns, err := h.sched.ScheduleNotifications(context.Background(), trigger, scheduler.Request{
		UserID:    "u1",
		ContextID: contextID,
		Variables: map[string]string{"sessionId": contextID, "therapistName": "Dr. Rahimi"},
	})
	require.NoError(t, err)
	return ns
}

func (h *harness) get(t *testing.T, id string) *model.PendingNotification {
	t.Helper()
	n, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestPollDue_Ordering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	mk := func(id string, at time.Time, p model.Priority) {
		require.NoError(t, h.store.Create(ctx, &model.PendingNotification{
			ID: id, UserID: "u1", Priority: p, ScheduledFor: at, Status: model.StatusPending, CreatedAt: now,
		}))
	}
	mk("low-early", now.Add(-time.Hour), model.PriorityLow)
	mk("low-now", now, model.PriorityLow)
	mk("urgent-now", now, model.PriorityUrgent)
	mk("high-now", now, model.PriorityHigh)
	mk("future", now.Add(time.Second), model.PriorityUrgent)

	due, err := h.disp.PollDue(ctx, now)
	require.NoError(t, err)
	var ids []string
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"low-early", "urgent-now", "high-now", "low-now"}, ids)
}

func TestRunCycle_SessionCompleteScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ns := h.schedule(t, model.TriggerSessionComplete, "s-1")
	require.Len(t, ns, 3)

	n, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	sent := h.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "How was your session?", sent[0].Title)
	assert.Equal(t, "Sara, tell us how your session with Dr. Rahimi went.", sent[0].Body)
	assert.Equal(t, "/sessions/s-1/feedback", sent[0].Data["action_url"])
	assert.Equal(t, "tok-1", sent[0].DeviceToken)

	h.clock.Advance(119 * time.Minute)
	n, err = h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Minute)
	n, err = h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.clock.Advance(22 * time.Hour)
	n, err = h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, p := range ns {
		got := h.get(t, p.ID)
		assert.Equal(t, model.StatusSent, got.Status, p.RuleID)
		assert.NotNil(t, got.ProcessedAt)
	}
	history, err := h.history.ListByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Len(t, h.transport.Sent(), 3)
}

func TestRunCycle_CancelledNotificationsAreNotDelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.schedule(t, model.TriggerSessionComplete, "s-1")

	_, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)

	cancelled, err := h.sched.CancelScheduledNotifications(ctx, "u1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	h.clock.Advance(48 * time.Hour)
	n, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.transport.Sent(), 1)
}

func TestRunCycle_RetryBoundThenDeadLetter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.transport.err = push.NewError(push.CodeUnavailable, nil)
	ns := h.schedule(t, model.TriggerAnalysisReady, "a-1")
	require.Len(t, ns, 1)
	id := ns[0].ID

	for i := 1; i <= 3; i++ {
		n, err := h.disp.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "cycle %d", i)
		h.clock.Advance(time.Hour)
	}

	got := h.get(t, id)
	assert.Equal(t, model.StatusDeadLetter, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, push.CodeUnavailable, got.LastErrorCode)

	n, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dead letters are never polled")

	history, err := h.retry.AttemptHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, a := range history {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, model.OutcomeFailure, a.Outcome)
	}

	entries, err := h.retry.ListDeadLetters(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].AttemptHistory, 3)
}

func TestRunCycle_UnregisteredTokenIsPermanentAndInvalidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.transport.err = push.NewError(push.CodeUnregisteredToken, nil)
	ns := h.schedule(t, model.TriggerAnalysisReady, "a-1")

	_, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)

	got := h.get(t, ns[0].ID)
	assert.Equal(t, model.StatusPending, got.Status, "still retried within the bound")
	assert.Equal(t, 1, got.AttemptCount)
	assert.True(t, got.ScheduledFor.After(h.clock.Now()))

	attempts, err := h.attempts.ListByNotification(ctx, ns[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Permanent)
	assert.Equal(t, push.CodeUnregisteredToken, attempts[0].ErrorCode)

	user, err := h.users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.DeviceToken)
}

func TestRunCycle_NoDeliveryTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.users.Put(model.Recipient{ID: "u1"})
	ns := h.schedule(t, model.TriggerAnalysisReady, "a-1")

	_, err := h.disp.RunCycle(ctx)
	require.NoError(t, err)

	got := h.get(t, ns[0].ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, push.CodeNoDeliveryTarget, got.LastErrorCode)
	assert.Empty(t, h.transport.Sent())

	h.users.Put(model.Recipient{ID: "u1", DeviceToken: "fresh"})
	h.clock.Advance(time.Hour)
	_, err = h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, h.get(t, ns[0].ID).Status)
}

var errStorageDown = errors.New("storage down")

// failingClaimStore fails the failOn-th pending to in_flight transition.
type failingClaimStore struct {
	*memory.NotificationStore
	mu     sync.Mutex
	claims int
	failOn int
}

func (s *failingClaimStore) Transition(ctx context.Context, id string, tr model.Transition) (*model.PendingNotification, error) {
	if tr.To == model.StatusInFlight {
		s.mu.Lock()
		s.claims++
		fail := s.claims == s.failOn
		s.mu.Unlock()
		if fail {
			return nil, errStorageDown
		}
	}
	return s.NotificationStore.Transition(ctx, id, tr)
}

func TestRunCycle_ClaimFailureAbortsBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		h.schedule(t, model.TriggerAnalysisReady, fmt.Sprintf("a-%d", i))
	}

	store := &failingClaimStore{NotificationStore: h.store, failOn: 3}
	catalog, err := rules.NewStaticCatalog(rules.DefaultRules())
	require.NoError(t, err)
	disp := NewDispatcher(store, h.attempts, h.history, h.users, catalog,
		templating.NewEngine("Mindful", time.UTC), h.transport, h.retry, zap.NewNop()).
		WithClock(h.clock.Now)

	claimed, err := disp.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, 2, claimed)
	assert.Len(t, h.transport.Sent(), 2)

	counts := map[model.Status]int{}
	for _, n := range h.store.All() {
		counts[n.Status]++
	}
	assert.Equal(t, map[model.Status]int{model.StatusSent: 2, model.StatusPending: 3}, counts)

	// The next cycle picks up the rest.
	claimed, err = disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, claimed)
	assert.Len(t, h.transport.Sent(), 5)
}

func TestRunCycle_ReentrancyGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.transport.block = make(chan struct{})
	h.schedule(t, model.TriggerAnalysisReady, "a-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.disp.RunCycle(ctx)
	}()

	require.Eventually(t, func() bool { return h.disp.running.Load() }, time.Second, time.Millisecond)
	_, err := h.disp.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(h.transport.block)
	<-done
	assert.Len(t, h.transport.Sent(), 1)
}

func TestSweep_RecoversStuckClaims(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ns := h.schedule(t, model.TriggerAnalysisReady, "a-1")
	id := ns[0].ID

	_, err := h.store.Transition(ctx, id, model.Transition{From: model.StatusPending, To: model.StatusInFlight, At: h.clock.Now()})
	require.NoError(t, err)

	n, err := h.disp.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "claim still fresh")

	h.clock.Advance(6 * time.Minute)
	n, err = h.disp.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.get(t, id)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, push.CodeClaimTimeout, got.LastErrorCode)
	assert.Equal(t, 1, got.AttemptCount)

	h.clock.Advance(time.Hour)
	_, err = h.disp.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, h.get(t, id).Status)
}

func TestMergeVariables(t *testing.T) {
	vars := mergeVariables(map[string]string{"userName": "Custom"}, &model.Recipient{ID: "u1", DisplayName: "Sara", Locale: "fa"})
	assert.Equal(t, "Custom", vars["userName"])
	assert.Equal(t, "u1", vars["userId"])
	assert.Equal(t, "fa", vars["user.locale"])
}
