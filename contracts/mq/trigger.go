package mq

import "time"

// Routing keys of the domain events the worker consumes.
const (
	RoutingSessionStatusChanged = "session.status_changed"
	RoutingAnalysisReady        = "analysis.ready"
	RoutingCampaignLaunched     = "campaign.launched"
)

// SessionStatusChangedPayload is published by the session service on every
// status change. Only "completed" triggers notifications.
type SessionStatusChangedPayload struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	TherapistName string    `json:"therapist_name,omitempty"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type AnalysisReadyPayload struct {
	AnalysisID   string    `json:"analysis_id"`
	UserID       string    `json:"user_id"`
	AnalysisType string    `json:"analysis_type"`
	ReadyAt      time.Time `json:"ready_at"`
}

// CampaignLaunchedPayload fans out to every listed user.
type CampaignLaunchedPayload struct {
	CampaignID string   `json:"campaign_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	URL        string   `json:"url,omitempty"`
	CTA        string   `json:"cta,omitempty"`
	UserIDs    []string `json:"user_ids"`
}
