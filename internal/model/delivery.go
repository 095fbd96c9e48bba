package model

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DeliveryAttempt is an append-only audit record of one send.
type DeliveryAttempt struct {
	NotificationID string    `json:"notification_id"`
	AttemptNumber  int       `json:"attempt_number"`
	Timestamp      time.Time `json:"timestamp"`
	Outcome        Outcome   `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	// Permanent marks failures that will not heal by retrying, such as an
	// unregistered device token.
	Permanent bool `json:"permanent,omitempty"`
}

// DeadLetterEntry is written once when a notification exhausts its retries
// and never modified afterwards.
type DeadLetterEntry struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	RuleID         string            `json:"rule_id"`
	FinalError     string            `json:"final_error"`
	FinalErrorCode string            `json:"final_error_code"`
	AttemptHistory []DeliveryAttempt `json:"attempt_history"`
	MovedAt        time.Time         `json:"moved_at"`
	// Replay is set on reads when the entry has been replayed.
	Replay *ReplayRecord `json:"replay,omitempty"`
}

// ReplayRecord audits a manual dead-letter replay.
type ReplayRecord struct {
	DeadLetterID   string    `json:"dead_letter_id"`
	NotificationID string    `json:"notification_id"`
	Actor          string    `json:"actor"`
	ReplayedAt     time.Time `json:"replayed_at"`
}

// RenderedContent is a template rendered against a variable bag.
type RenderedContent struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	ActionURL  string            `json:"action_url,omitempty"`
	ActionText string            `json:"action_text,omitempty"`
	Warnings   []TemplateWarning `json:"-"`
}

// TemplateWarning describes a placeholder that could not be resolved.
type TemplateWarning struct {
	Field       string
	Placeholder string
	Reason      string
}
