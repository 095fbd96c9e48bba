package rules

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"notifyengine/internal/model"
)

// StaticCatalog keeps rules in memory. Mutations are validated but live only
// as long as the process.
type StaticCatalog struct {
	mu    sync.RWMutex
	rules map[string]model.NotificationRule
	now   func() time.Time
}

// NewStaticCatalog validates and indexes rs.
func NewStaticCatalog(rs []model.NotificationRule) (*StaticCatalog, error) {
	c := &StaticCatalog{rules: make(map[string]model.NotificationRule, len(rs)), now: time.Now}
	for _, r := range rs {
		r = Normalize(r)
		if err := Validate(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if _, dup := c.rules[r.ID]; dup {
			return nil, fmt.Errorf("rule %q: %w", r.ID, ErrRuleExists)
		}
		c.rules[r.ID] = r
	}
	return c, nil
}

func (c *StaticCatalog) RulesForTrigger(_ context.Context, trigger model.TriggerType) ([]model.NotificationRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return enabledFor(c.snapshotLocked(), trigger), nil
}

func (c *StaticCatalog) AllRules(_ context.Context) ([]model.NotificationRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.snapshotLocked()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerType != out[j].TriggerType {
			return out[i].TriggerType < out[j].TriggerType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *StaticCatalog) GetRule(_ context.Context, id string) (*model.NotificationRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (c *StaticCatalog) CreateRule(_ context.Context, r model.NotificationRule) (*model.NotificationRule, error) {
	r = Normalize(r)
	if err := Validate(r); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rules[r.ID]; ok {
		return nil, ErrRuleExists
	}
	now := c.now()
	r.CreatedAt, r.UpdatedAt = now, now
	c.rules[r.ID] = r
	return &r, nil
}

func (c *StaticCatalog) UpdateRule(_ context.Context, r model.NotificationRule) (*model.NotificationRule, error) {
	r = Normalize(r)
	if err := Validate(r); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.rules[r.ID]
	if !ok {
		return nil, ErrRuleNotFound
	}
	r.CreatedAt = prev.CreatedAt
	r.UpdatedAt = c.now()
	c.rules[r.ID] = r
	return &r, nil
}

func (c *StaticCatalog) SetEnabled(_ context.Context, id string, enabled bool) (*model.NotificationRule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	r.Enabled = enabled
	r.UpdatedAt = c.now()
	c.rules[id] = r
	return &r, nil
}

func (c *StaticCatalog) snapshotLocked() []model.NotificationRule {
	out := make([]model.NotificationRule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	return out
}

type rulesFile struct {
	Rules []model.NotificationRule `yaml:"rules"`
}

// LoadRulesFile reads rules from a YAML document of the form
//
//	rules:
//	  - id: session-feedback
//	    trigger_type: session_complete
//	    delay_minutes: 0
//	    enabled: true
//	    priority: medium
//	    template: {title: "...", body: "..."}
func LoadRulesFile(path string) ([]model.NotificationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return f.Rules, nil
}

// DefaultRules is the built-in rule set used when no rules file or store is
// configured.
func DefaultRules() []model.NotificationRule {
	return []model.NotificationRule{
		{
			ID:           "session-feedback",
			TriggerType:  model.TriggerSessionComplete,
			DelayMinutes: 0,
			Enabled:      true,
			Priority:     model.PriorityMedium,
			Template: model.Template{
				Title:      "How was your session?",
				Body:       "{{userName}}, tell us how your session with {{therapistName}} went.",
				ActionURL:  "/sessions/{{sessionId}}/feedback",
				ActionText: "Give feedback",
			},
		},
		{
			ID:           "session-reflection",
			TriggerType:  model.TriggerSessionComplete,
			DelayMinutes: 120,
			Enabled:      true,
			Priority:     model.PriorityMedium,
			Template: model.Template{
				Title:      "Time to reflect",
				Body:       "Take a few minutes to note what stood out in today's session.",
				ActionURL:  "/journal/new?session={{sessionId}}",
				ActionText: "Write a note",
			},
		},
		{
			ID:           "session-next-day-checkin",
			TriggerType:  model.TriggerSessionComplete,
			DelayMinutes: 1440,
			Enabled:      true,
			Priority:     model.PriorityLow,
			Template: model.Template{
				Title: "Checking in",
				Body:  "How are you feeling since yesterday's session, {{userName}}?",
			},
		},
		{
			ID:           "inactive-reminder",
			TriggerType:  model.TriggerUserInactive,
			DelayMinutes: 0,
			Enabled:      true,
			Priority:     model.PriorityLow,
			Template: model.Template{
				Title:      "We miss you",
				Body:       "It has been a while since your last visit to {{system.appName}}.",
				ActionURL:  "/home",
				ActionText: "Open app",
			},
		},
		{
			ID:           "analysis-ready",
			TriggerType:  model.TriggerAnalysisReady,
			DelayMinutes: 0,
			Enabled:      true,
			Priority:     model.PriorityHigh,
			Template: model.Template{
				Title:      "Your analysis is ready",
				Body:       "The {{analysisType}} analysis you requested is ready to view.",
				ActionURL:  "/analysis/{{analysisId}}",
				ActionText: "View analysis",
			},
		},
		{
			ID:           "campaign-announcement",
			TriggerType:  model.TriggerSystemEvent,
			DelayMinutes: 0,
			Enabled:      true,
			Priority:     model.PriorityMedium,
			Template: model.Template{
				Title:      "{{campaignTitle}}",
				Body:       "{{campaignBody}}",
				ActionURL:  "{{campaignUrl}}",
				ActionText: "{{campaignCta}}",
			},
		},
	}
}
