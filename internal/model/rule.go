package model

import "time"

// TriggerType names the domain event that expands rules.
type TriggerType string

const (
	TriggerSessionComplete TriggerType = "session_complete"
	TriggerUserInactive    TriggerType = "user_inactive"
	TriggerAnalysisReady   TriggerType = "analysis_ready"
	TriggerSystemEvent     TriggerType = "system_event"
	TriggerCustom          TriggerType = "custom"
)

// TriggerTypes lists every known trigger type.
var TriggerTypes = []TriggerType{
	TriggerSessionComplete,
	TriggerUserInactive,
	TriggerAnalysisReady,
	TriggerSystemEvent,
	TriggerCustom,
}

func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; higher is more urgent. Unknown priorities rank
// below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// Template holds the unrendered message fields of a rule.
type Template struct {
	Title      string `json:"title_template" yaml:"title"`
	Body       string `json:"body_template" yaml:"body"`
	ActionURL  string `json:"action_url_template,omitempty" yaml:"action_url"`
	ActionText string `json:"action_text_template,omitempty" yaml:"action_text"`
}

type NotificationRule struct {
	ID           string      `json:"id" yaml:"id"`
	TriggerType  TriggerType `json:"trigger_type" yaml:"trigger_type"`
	DelayMinutes int         `json:"delay_minutes" yaml:"delay_minutes"`
	Enabled      bool        `json:"enabled" yaml:"enabled"`
	Priority     Priority    `json:"priority" yaml:"priority"`
	Template     Template    `json:"template" yaml:"template"`
	CreatedAt    time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time   `json:"updated_at" yaml:"-"`
}

// Delay returns DelayMinutes as a duration.
func (r NotificationRule) Delay() time.Duration {
	return time.Duration(r.DelayMinutes) * time.Minute
}
