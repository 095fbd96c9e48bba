package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyengine/internal/model"
	"notifyengine/internal/repository"
	"notifyengine/internal/trigger"
	"notifyengine/pkg/logger"
)

// DeadLetterService is the part of *retry.Manager the admin surface uses.
type DeadLetterService interface {
	ListDeadLetters(ctx context.Context, limit int, includeReplayed bool) ([]*model.DeadLetterEntry, error)
	ReplayDeadLetter(ctx context.Context, entryID, actor string) (*model.PendingNotification, error)
	AttemptHistory(ctx context.Context, notificationID string) ([]model.DeliveryAttempt, error)
}

type Observer interface {
	Observe(ctx context.Context, e trigger.Event) ([]*model.PendingNotification, error)
}

type Canceller interface {
	CancelScheduledNotifications(ctx context.Context, userID, contextID string) (int, error)
}

type AdminHandler struct {
	deadLetters   DeadLetterService
	notifications repository.NotificationStore
	observer      Observer
	canceller     Canceller
	logger        *zap.Logger
}

func NewAdminHandler(
	deadLetters DeadLetterService,
	notifications repository.NotificationStore,
	observer Observer,
	canceller Canceller,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		deadLetters:   deadLetters,
		notifications: notifications,
		observer:      observer,
		canceller:     canceller,
		logger:        logger,
	}
}

// ListDeadLetters handles GET /admin/dead-letters?limit=50&include_replayed=true
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit, _ := pageParams(c)
	includeReplayed, _ := strconv.ParseBool(c.DefaultQuery("include_replayed", "false"))

	entries, err := h.deadLetters.ListDeadLetters(c.Request.Context(), limit, includeReplayed)
	if err != nil {
		writeError(c, h.logger, "failed to list dead letters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": entries})
}

// ReplayDeadLetter handles POST /admin/dead-letters/:id/replay
func (h *AdminHandler) ReplayDeadLetter(c *gin.Context) {
	entryID := c.Param("id")
	actor := callerID(c)

	n, err := h.deadLetters.ReplayDeadLetter(c.Request.Context(), entryID, actor)
	if err != nil {
		writeError(c, h.logger, "failed to replay dead letter", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "replayed",
		"notification": n,
	})
}

// GetNotification handles GET /admin/notifications/:id
func (h *AdminHandler) GetNotification(c *gin.Context) {
	n, err := h.notifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to load notification", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// ListAttempts handles GET /admin/notifications/:id/attempts
func (h *AdminHandler) ListAttempts(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.notifications.Get(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "failed to load notification", err)
		return
	}

	attempts, err := h.deadLetters.AttemptHistory(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to load attempts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

type fireTriggerRequest struct {
	TriggerType model.TriggerType `json:"trigger_type" binding:"required"`
	// UserIDs fans the trigger out; UserID is a shorthand for one user.
	UserID              string            `json:"user_id"`
	UserIDs             []string          `json:"user_ids"`
	ContextID           string            `json:"context_id" binding:"required"`
	SupersedesContextID string            `json:"supersedes_context_id"`
	Variables           map[string]string `json:"variables"`
}

// FireTrigger handles POST /admin/triggers. Users are processed in order;
// the first failure stops the fan-out and is reported with what was
// already scheduled.
func (h *AdminHandler) FireTrigger(c *gin.Context) {
	var req fireTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userIDs := req.UserIDs
	if req.UserID != "" {
		userIDs = append([]string{req.UserID}, userIDs...)
	}
	if len(userIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or user_ids is required"})
		return
	}

	scheduled := make([]*model.PendingNotification, 0, len(userIDs))
	for _, userID := range userIDs {
		created, err := h.observer.Observe(c.Request.Context(), trigger.Event{
			Trigger:             req.TriggerType,
			UserID:              userID,
			ContextID:           req.ContextID,
			SupersedesContextID: req.SupersedesContextID,
			Variables:           req.Variables,
		})
		scheduled = append(scheduled, created...)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				logger.WithTrace(c.Request.Context(), h.logger).Error("Manual trigger failed",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
			c.JSON(status, gin.H{
				"error":     err.Error(),
				"user_id":   userID,
				"scheduled": scheduled,
			})
			return
		}
	}

	h.logger.Info("Manual trigger fired",
		zap.String("trigger", string(req.TriggerType)),
		zap.String("context_id", req.ContextID),
		zap.Int("users", len(userIDs)),
		zap.Int("scheduled", len(scheduled)),
		zap.String("actor", callerID(c)),
	)
	c.JSON(http.StatusOK, gin.H{"scheduled": scheduled})
}

type cancelRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ContextID string `json:"context_id" binding:"required"`
}

// CancelNotifications handles POST /admin/notifications/cancel
func (h *AdminHandler) CancelNotifications(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	n, err := h.canceller.CancelScheduledNotifications(c.Request.Context(), req.UserID, req.ContextID)
	if err != nil {
		writeError(c, h.logger, "failed to cancel notifications", err)
		return
	}

	h.logger.Info("Notifications cancelled",
		zap.String("user_id", req.UserID),
		zap.String("context_id", req.ContextID),
		zap.Int("cancelled", n),
		zap.String("actor", callerID(c)),
	)
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}
