// Package rules holds the rule catalog: which notifications a trigger
// expands into, when, and with what content.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"notifyengine/internal/model"
)

var (
	ErrInvalidRule  = errors.New("invalid rule")
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// Catalog is implemented by StaticCatalog and StoreCatalog; configuration
// selects one at startup.
type Catalog interface {
	// RulesForTrigger returns enabled rules ordered by delay then id.
	RulesForTrigger(ctx context.Context, trigger model.TriggerType) ([]model.NotificationRule, error)
	AllRules(ctx context.Context) ([]model.NotificationRule, error)
	GetRule(ctx context.Context, id string) (*model.NotificationRule, error)
	CreateRule(ctx context.Context, r model.NotificationRule) (*model.NotificationRule, error)
	UpdateRule(ctx context.Context, r model.NotificationRule) (*model.NotificationRule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*model.NotificationRule, error)
}

// Normalize fills defaults (medium priority) and trims identifiers.
func Normalize(r model.NotificationRule) model.NotificationRule {
	r.ID = strings.TrimSpace(r.ID)
	if r.Priority == "" {
		r.Priority = model.PriorityMedium
	}
	return r
}

// Validate returns an error wrapping ErrInvalidRule describing the first
// problem found.
func Validate(r model.NotificationRule) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	case !r.TriggerType.Valid():
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, r.TriggerType)
	case r.DelayMinutes < 0:
		return fmt.Errorf("%w: delay_minutes must be >= 0, got %d", ErrInvalidRule, r.DelayMinutes)
	case !r.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRule, r.Priority)
	case strings.TrimSpace(r.Template.Title) == "":
		return fmt.Errorf("%w: title template is empty", ErrInvalidRule)
	case strings.TrimSpace(r.Template.Body) == "":
		return fmt.Errorf("%w: body template is empty", ErrInvalidRule)
	}
	return nil
}

// SortForExpansion orders rules by delay ascending with id as tie-break.
func SortForExpansion(rs []model.NotificationRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].DelayMinutes != rs[j].DelayMinutes {
			return rs[i].DelayMinutes < rs[j].DelayMinutes
		}
		return rs[i].ID < rs[j].ID
	})
}

func enabledFor(rs []model.NotificationRule, trigger model.TriggerType) []model.NotificationRule {
	out := make([]model.NotificationRule, 0, len(rs))
	for _, r := range rs {
		if r.Enabled && r.TriggerType == trigger {
			out = append(out, r)
		}
	}
	SortForExpansion(out)
	return out
}
