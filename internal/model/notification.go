package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "in_flight"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCancelled || s == StatusDeadLetter
}

// PendingNotification is one scheduled instance of a rule for a user.
type PendingNotification struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	RuleID        string            `json:"rule_id"`
	TriggerType   TriggerType       `json:"trigger_type"`
	ContextID     string            `json:"context_id"`
	Priority      Priority          `json:"priority"`
	Variables     map[string]string `json:"variables,omitempty"`
	ScheduledFor  time.Time         `json:"scheduled_for"`
	Status        Status            `json:"status"`
	AttemptCount  int               `json:"attempt_count"`
	LastError     string            `json:"last_error,omitempty"`
	LastErrorCode string            `json:"last_error_code,omitempty"`
	Fingerprint   string            `json:"fingerprint"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
}

// Clone returns a deep copy.
func (n *PendingNotification) Clone() *PendingNotification {
	if n == nil {
		return nil
	}
	c := *n
	if n.Variables != nil {
		c.Variables = make(map[string]string, len(n.Variables))
		for k, v := range n.Variables {
			c.Variables[k] = v
		}
	}
	if n.ProcessedAt != nil {
		t := *n.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Transition is a conditional single-row update: it applies only when the
// row is currently in From.
type Transition struct {
	From Status
	To   Status
	At   time.Time

	ScheduledFor      *time.Time
	IncrementAttempts bool
	ResetAttempts     bool
	// ErrorCode and Error replace lastError when non-empty; ClearError
	// blanks both.
	ErrorCode  string
	Error      string
	ClearError bool
	// MarkProcessed sets processedAt to At.
	MarkProcessed bool
}

// Apply mutates n as the transition describes. Stores use it to keep the
// in-memory and SQL implementations in agreement.
func (t Transition) Apply(n *PendingNotification) {
	n.Status = t.To
	n.UpdatedAt = t.At
	if t.ScheduledFor != nil {
		n.ScheduledFor = *t.ScheduledFor
	}
	if t.ResetAttempts {
		n.AttemptCount = 0
	}
	if t.IncrementAttempts {
		n.AttemptCount++
	}
	if t.ClearError {
		n.LastError = ""
		n.LastErrorCode = ""
	}
	if t.Error != "" || t.ErrorCode != "" {
		n.LastError = t.Error
		n.LastErrorCode = t.ErrorCode
	}
	if t.MarkProcessed {
		at := t.At
		n.ProcessedAt = &at
	}
}

// UserNotification is the end-user visible history row written after a
// successful delivery.
type UserNotification struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	NotificationID string    `json:"notification_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ActionURL      string    `json:"action_url,omitempty"`
	ActionText     string    `json:"action_text,omitempty"`
	Priority       Priority  `json:"priority"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recipient is what the user directory knows about a delivery target.
type Recipient struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name,omitempty"`
	DeviceToken  string     `json:"-"`
	Locale       string     `json:"locale,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}
