// Package api holds the gin handlers of the admin and user HTTP surface.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyengine/internal/repository"
	"notifyengine/internal/retry"
	"notifyengine/internal/rules"
	"notifyengine/internal/scheduler"
	"notifyengine/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, scheduler.ErrInvalidTrigger),
		errors.Is(err, scheduler.ErrMissingContext):
		return http.StatusBadRequest
	case errors.Is(err, rules.ErrRuleNotFound),
		errors.Is(err, retry.ErrDeadLetterGone),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleExists),
		errors.Is(err, retry.ErrAlreadyReplayed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to status codes. Internal errors are logged
// and answered with msg only.
func writeError(c *gin.Context, log *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// pageParams reads limit and offset, clamping limit to (0, maxPageSize].
func pageParams(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// callerID is the JWT subject set by the auth middleware.
func callerID(c *gin.Context) string {
	return c.GetString("user_id")
}
