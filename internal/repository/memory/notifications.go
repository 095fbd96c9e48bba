// Package memory implements the repository interfaces in process memory. It
// backs the "memory" storage driver and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
)

type NotificationStore struct {
	mu   sync.Mutex
	rows map[string]*model.PendingNotification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{rows: make(map[string]*model.PendingNotification)}
}

func (s *NotificationStore) Create(_ context.Context, n *model.PendingNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[n.ID]; ok {
		return repository.ErrDuplicate
	}
	n.UpdatedAt = n.CreatedAt
	s.rows[n.ID] = n.Clone()
	return nil
}

func (s *NotificationStore) Get(_ context.Context, id string) (*model.PendingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *NotificationStore) ListDue(_ context.Context, now time.Time, limit int) ([]*model.PendingNotification, error) {
	out := s.filter(func(n *model.PendingNotification) bool {
		return n.Status == model.StatusPending && !n.ScheduledFor.After(now)
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.ID < b.ID
	})
	return truncate(out, limit), nil
}

func (s *NotificationStore) Transition(_ context.Context, id string, t model.Transition) (*model.PendingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if n.Status != t.From {
		return nil, repository.ErrConflict
	}
	t.Apply(n)
	return n.Clone(), nil
}

func (s *NotificationStore) ListStale(_ context.Context, status model.Status, cutoff time.Time, limit int) ([]*model.PendingNotification, error) {
	out := s.filter(func(n *model.PendingNotification) bool {
		return n.Status == status && n.UpdatedAt.Before(cutoff)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *NotificationStore) ListByContext(_ context.Context, userID, contextID string) ([]*model.PendingNotification, error) {
	out := s.filter(func(n *model.PendingNotification) bool {
		return n.UserID == userID && n.ContextID == contextID
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// All returns a copy of every row in id order.
func (s *NotificationStore) All() []*model.PendingNotification {
	out := s.filter(func(*model.PendingNotification) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *NotificationStore) filter(keep func(*model.PendingNotification) bool) []*model.PendingNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PendingNotification
	for _, n := range s.rows {
		if keep(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
