package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	contractmq "notifyengine/contracts/mq"
	"notifyengine/internal/model"
	"notifyengine/internal/scheduler"
	"notifyengine/pkg/mq"
)

const sessionCompleted = "completed"

// Handlers decodes broker payloads into adapter events. Each method is an
// mq.MessageHandler.
type Handlers struct {
	adapter *Adapter
	logger  *zap.Logger
}

func NewHandlers(adapter *Adapter, logger *zap.Logger) *Handlers {
	return &Handlers{adapter: adapter, logger: logger}
}

func (h *Handlers) SessionStatusChanged(ctx context.Context, raw json.RawMessage) error {
	var p contractmq.SessionStatusChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return mq.Permanent(fmt.Errorf("decode session status: %w", err))
	}
	if !strings.EqualFold(p.Status, sessionCompleted) {
		return nil
	}
	return h.observe(ctx, Event{
		Trigger:   model.TriggerSessionComplete,
		UserID:    p.UserID,
		ContextID: p.SessionID,
		Variables: compact(map[string]string{
			"sessionId":     p.SessionID,
			"therapistName": p.TherapistName,
		}),
	})
}

func (h *Handlers) AnalysisReady(ctx context.Context, raw json.RawMessage) error {
	var p contractmq.AnalysisReadyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return mq.Permanent(fmt.Errorf("decode analysis ready: %w", err))
	}
	return h.observe(ctx, Event{
		Trigger:   model.TriggerAnalysisReady,
		UserID:    p.UserID,
		ContextID: p.AnalysisID,
		Variables: compact(map[string]string{
			"analysisId":   p.AnalysisID,
			"analysisType": p.AnalysisType,
		}),
	})
}

// CampaignLaunched schedules a system_event for every listed user. The
// campaign id is the context. Observe cancels the context's pending rows
// first, so a redelivered message replaces them with fresh timers.
func (h *Handlers) CampaignLaunched(ctx context.Context, raw json.RawMessage) error {
	var p contractmq.CampaignLaunchedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return mq.Permanent(fmt.Errorf("decode campaign: %w", err))
	}
	if p.CampaignID == "" {
		return mq.Permanent(errors.New("campaign id is required"))
	}

	vars := compact(map[string]string{
		"campaignId":    p.CampaignID,
		"campaignTitle": p.Title,
		"campaignBody":  p.Body,
		"campaignUrl":   p.URL,
		"campaignCta":   p.CTA,
	})
	var errs []error
	for _, userID := range p.UserIDs {
		if _, err := h.adapter.Observe(ctx, Event{
			Trigger:   model.TriggerSystemEvent,
			UserID:    userID,
			ContextID: "campaign:" + p.CampaignID,
			Variables: vars,
		}); err != nil && !isValidation(err) {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Handlers) observe(ctx context.Context, e Event) error {
	_, err := h.adapter.Observe(ctx, e)
	if isValidation(err) {
		return mq.Permanent(err)
	}
	return err
}

func isValidation(err error) bool {
	return errors.Is(err, scheduler.ErrMissingContext) || errors.Is(err, scheduler.ErrInvalidTrigger)
}

func compact(vars map[string]string) map[string]string {
	for k, v := range vars {
		if v == "" {
			delete(vars, k)
		}
	}
	return vars
}
