package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyengine/internal/repository"
)

type NotificationHandler struct {
	history repository.HistoryStore
	logger  *zap.Logger
}

func NewNotificationHandler(history repository.HistoryStore, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{history: history, logger: logger}
}

// ListMine handles GET /notifications. Only delivered notifications of the
// caller are visible.
func (h *NotificationHandler) ListMine(c *gin.Context) {
	userID := callerID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	limit, offset := pageParams(c)
	items, err := h.history.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, h.logger, "failed to fetch notifications", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"limit":         limit,
		"offset":        offset,
	})
}
