package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
)

// StoreCatalog reads and writes rules through a repository.RuleStore.
type StoreCatalog struct {
	store repository.RuleStore
	now   func() time.Time
}

func NewStoreCatalog(store repository.RuleStore) *StoreCatalog {
	return &StoreCatalog{store: store, now: time.Now}
}

func (c *StoreCatalog) RulesForTrigger(ctx context.Context, trigger model.TriggerType) ([]model.NotificationRule, error) {
	rs, err := c.store.ListByTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", trigger, err)
	}
	return enabledFor(rs, trigger), nil
}

func (c *StoreCatalog) AllRules(ctx context.Context) ([]model.NotificationRule, error) {
	rs, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rs, nil
}

func (c *StoreCatalog) GetRule(ctx context.Context, id string) (*model.NotificationRule, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return r, nil
}

func (c *StoreCatalog) CreateRule(ctx context.Context, r model.NotificationRule) (*model.NotificationRule, error) {
	r = Normalize(r)
	if err := Validate(r); err != nil {
		return nil, err
	}
	now := c.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := c.store.Create(ctx, &r); err != nil {
		return nil, mapStoreErr(err)
	}
	return &r, nil
}

func (c *StoreCatalog) UpdateRule(ctx context.Context, r model.NotificationRule) (*model.NotificationRule, error) {
	r = Normalize(r)
	if err := Validate(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = c.now()
	if err := c.store.Update(ctx, &r); err != nil {
		return nil, mapStoreErr(err)
	}
	return &r, nil
}

func (c *StoreCatalog) SetEnabled(ctx context.Context, id string, enabled bool) (*model.NotificationRule, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	r.Enabled = enabled
	r.UpdatedAt = c.now()
	if err := c.store.Update(ctx, r); err != nil {
		return nil, mapStoreErr(err)
	}
	return r, nil
}

// Seed inserts rs that are not yet stored; existing rules are left alone.
func (c *StoreCatalog) Seed(ctx context.Context, rs []model.NotificationRule) (int, error) {
	created := 0
	for _, r := range rs {
		_, err := c.CreateRule(ctx, r)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrRuleExists):
		default:
			return created, fmt.Errorf("seed rule %q: %w", r.ID, err)
		}
	}
	return created, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRuleNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return ErrRuleExists
	default:
		return err
	}
}
