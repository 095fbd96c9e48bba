package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
)

type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]model.NotificationRule
}

func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]model.NotificationRule)}
}

func (s *RuleStore) List(_ context.Context) ([]model.NotificationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NotificationRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerType != out[j].TriggerType {
			return out[i].TriggerType < out[j].TriggerType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *RuleStore) ListByTrigger(ctx context.Context, trigger model.TriggerType) ([]model.NotificationRule, error) {
	all, _ := s.List(ctx)
	out := all[:0]
	for _, r := range all {
		if r.TriggerType == trigger {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RuleStore) Get(_ context.Context, id string) (*model.NotificationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *RuleStore) Create(_ context.Context, r *model.NotificationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; ok {
		return repository.ErrDuplicate
	}
	s.rules[r.ID] = *r
	return nil
}

func (s *RuleStore) Update(_ context.Context, r *model.NotificationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rules[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	r.CreatedAt = prev.CreatedAt
	s.rules[r.ID] = *r
	return nil
}

type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string][]model.DeliveryAttempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string][]model.DeliveryAttempt)}
}

func (s *AttemptStore) Append(_ context.Context, a model.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.NotificationID] = append(s.attempts[a.NotificationID], a)
	return nil
}

func (s *AttemptStore) ListByNotification(_ context.Context, notificationID string) ([]model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.attempts[notificationID]
	out := make([]model.DeliveryAttempt, len(src))
	copy(out, src)
	return out, nil
}

type DeadLetterStore struct {
	mu      sync.Mutex
	entries map[string]model.DeadLetterEntry
	replays map[string]model.ReplayRecord
}

func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{
		entries: make(map[string]model.DeadLetterEntry),
		replays: make(map[string]model.ReplayRecord),
	}
}

func (s *DeadLetterStore) Create(_ context.Context, e *model.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return repository.ErrDuplicate
	}
	stored := *e
	stored.AttemptHistory = append([]model.DeliveryAttempt(nil), e.AttemptHistory...)
	stored.Replay = nil
	s.entries[e.ID] = stored
	return nil
}

func (s *DeadLetterStore) Get(_ context.Context, id string) (*model.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.viewLocked(e), nil
}

func (s *DeadLetterStore) List(_ context.Context, limit int, includeReplayed bool) ([]*model.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DeadLetterEntry
	for _, e := range s.entries {
		if _, replayed := s.replays[e.ID]; replayed && !includeReplayed {
			continue
		}
		out = append(out, s.viewLocked(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MovedAt.Equal(out[j].MovedAt) {
			return out[i].MovedAt.After(out[j].MovedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *DeadLetterStore) RecordReplay(_ context.Context, r model.ReplayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[r.DeadLetterID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := s.replays[r.DeadLetterID]; ok {
		return repository.ErrConflict
	}
	s.replays[r.DeadLetterID] = r
	return nil
}

func (s *DeadLetterStore) DeleteReplay(_ context.Context, deadLetterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replays, deadLetterID)
	return nil
}

func (s *DeadLetterStore) viewLocked(e model.DeadLetterEntry) *model.DeadLetterEntry {
	e.AttemptHistory = append([]model.DeliveryAttempt(nil), e.AttemptHistory...)
	if r, ok := s.replays[e.ID]; ok {
		e.Replay = &r
	}
	return &e
}

type HistoryStore struct {
	mu    sync.Mutex
	items []*model.UserNotification
	seen  map[string]bool
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{seen: make(map[string]bool)}
}

// Create ignores a second row for the same notification.
func (s *HistoryStore) Create(_ context.Context, n *model.UserNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[n.NotificationID] {
		return nil
	}
	s.seen[n.NotificationID] = true
	c := *n
	s.items = append(s.items, &c)
	return nil
}

func (s *HistoryStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*model.UserNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.UserNotification
	for _, n := range s.items {
		if n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	return truncate(out[offset:], limit), nil
}

type UserDirectory struct {
	mu    sync.Mutex
	users map[string]model.Recipient
}

func NewUserDirectory(users ...model.Recipient) *UserDirectory {
	d := &UserDirectory{users: make(map[string]model.Recipient, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *UserDirectory) Put(u model.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *UserDirectory) GetUser(_ context.Context, userID string) (*model.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (d *UserDirectory) InvalidateDeviceToken(_ context.Context, userID, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if ok && u.DeviceToken == token {
		u.DeviceToken = ""
		d.users[userID] = u
	}
	return nil
}

func (d *UserDirectory) ListInactiveSince(_ context.Context, cutoff time.Time, after *repository.UserCursor, limit int) ([]*model.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*model.Recipient
	for _, u := range d.users {
		if u.LastActiveAt == nil || !u.LastActiveAt.Before(cutoff) {
			continue
		}
		if after != nil && !afterCursor(*u.LastActiveAt, u.ID, after) {
			continue
		}
		c := u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(*out[j].LastActiveAt) {
			return out[i].LastActiveAt.Before(*out[j].LastActiveAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func afterCursor(at time.Time, id string, cur *repository.UserCursor) bool {
	if !at.Equal(cur.LastActiveAt) {
		return at.After(cur.LastActiveAt)
	}
	return id > cur.ID
}

var (
	_ repository.NotificationStore = (*NotificationStore)(nil)
	_ repository.RuleStore         = (*RuleStore)(nil)
	_ repository.AttemptStore      = (*AttemptStore)(nil)
	_ repository.DeadLetterStore   = (*DeadLetterStore)(nil)
	_ repository.HistoryStore      = (*HistoryStore)(nil)
	_ repository.UserDirectory     = (*UserDirectory)(nil)
)
