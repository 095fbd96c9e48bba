// Package events mirrors notification lifecycle changes to the message
// broker for downstream consumers. Mirroring is best effort: it never blocks
// or fails the caller.
package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"notifyengine/internal/model"
	"notifyengine/pkg/metrics"
	"notifyengine/pkg/trace"
)

type Type string

const (
	TypeScheduled    Type = "notification.scheduled"
	TypeSent         Type = "notification.sent"
	TypeFailed       Type = "notification.failed"
	TypeDeadLettered Type = "notification.dead_lettered"
	TypeCancelled    Type = "notification.cancelled"
	TypeReplayed     Type = "notification.replayed"
)

// Event is the broker payload. The routing key is the Type.
type Event struct {
	Type           Type         `json:"type"`
	NotificationID string       `json:"notification_id"`
	UserID         string       `json:"user_id"`
	RuleID         string       `json:"rule_id,omitempty"`
	TriggerType    string       `json:"trigger_type,omitempty"`
	Status         model.Status `json:"status"`
	AttemptCount   int          `json:"attempt_count"`
	ErrorCode      string       `json:"error_code,omitempty"`
	Error          string       `json:"error,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
	TraceID        string       `json:"trace_id,omitempty"`
}

// FromNotification builds an event describing n's current state.
func FromNotification(typ Type, n *model.PendingNotification, at time.Time) Event {
	return Event{
		Type:           typ,
		NotificationID: n.ID,
		UserID:         n.UserID,
		RuleID:         n.RuleID,
		TriggerType:    string(n.TriggerType),
		Status:         n.Status,
		AttemptCount:   n.AttemptCount,
		ErrorCode:      n.LastErrorCode,
		Error:          n.LastError,
		OccurredAt:     at,
	}
}

// Mirror accepts lifecycle events.
type Mirror interface {
	Emit(ctx context.Context, e Event)
}

// NopMirror discards events.
type NopMirror struct{}

func (NopMirror) Emit(context.Context, Event) {}

// Publisher is the broker side of AsyncMirror; *mq.Publisher implements it.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

const DefaultBuffer = 1024

// AsyncMirror queues events on a bounded channel and publishes them from a
// single goroutine started with Run. A full buffer drops the event.
type AsyncMirror struct {
	pub     Publisher
	queue   chan Event
	logger  *zap.Logger
	timeout time.Duration
}

func NewAsyncMirror(pub Publisher, buffer int, logger *zap.Logger) *AsyncMirror {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &AsyncMirror{
		pub:     pub,
		queue:   make(chan Event, buffer),
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (m *AsyncMirror) Emit(ctx context.Context, e Event) {
	if e.TraceID == "" {
		e.TraceID = trace.FromContext(ctx)
	}
	select {
	case m.queue <- e:
	default:
		metrics.IncrementMirrorDropped("buffer_full")
		m.logger.Warn("Event mirror buffer full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("notification_id", e.NotificationID),
		)
	}
}

// Run publishes queued events until ctx is done, then flushes whatever is
// still buffered.
func (m *AsyncMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.flush()
			return
		case e := <-m.queue:
			m.publish(context.Background(), e)
		}
	}
}

func (m *AsyncMirror) flush() {
	for {
		select {
		case e := <-m.queue:
			m.publish(context.Background(), e)
		default:
			return
		}
	}
}

func (m *AsyncMirror) publish(parent context.Context, e Event) {
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()
	if e.TraceID != "" {
		ctx = trace.WithContext(ctx, e.TraceID)
	}

	if err := m.pub.PublishWithContext(ctx, string(e.Type), e); err != nil {
		metrics.IncrementMirrorDropped("publish_error")
		m.logger.Warn("Failed to mirror event",
			zap.String("type", string(e.Type)),
			zap.String("notification_id", e.NotificationID),
			zap.Error(err),
		)
	}

	if e.Type != TypeDeadLettered {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := m.pub.PublishToDLQ(ctx, string(e.Type), body, e.Error); err != nil {
		metrics.IncrementMirrorDropped("dlq_error")
		m.logger.Warn("Failed to publish dead letter to DLQ",
			zap.String("notification_id", e.NotificationID),
			zap.Error(err),
		)
	}
}
