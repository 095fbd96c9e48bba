package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyengine/internal/model"
	"notifyengine/internal/rules"
)

type RuleHandler struct {
	catalog rules.Catalog
	logger  *zap.Logger
}

func NewRuleHandler(catalog rules.Catalog, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{catalog: catalog, logger: logger}
}

// ListRules handles GET /admin/rules
func (h *RuleHandler) ListRules(c *gin.Context) {
	rs, err := h.catalog.AllRules(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to list rules", err)
		return
	}
	rules.SortForExpansion(rs)
	c.JSON(http.StatusOK, gin.H{"rules": rs})
}

// GetRule handles GET /admin/rules/:id
func (h *RuleHandler) GetRule(c *gin.Context) {
	r, err := h.catalog.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to load rule", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CreateRule handles POST /admin/rules
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req model.NotificationRule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	r, err := h.catalog.CreateRule(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "failed to create rule", err)
		return
	}

	h.logger.Info("Rule created", zap.String("rule_id", r.ID), zap.String("actor", callerID(c)))
	c.JSON(http.StatusCreated, r)
}

// UpdateRule handles PUT /admin/rules/:id. The path id wins over the body.
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var req model.NotificationRule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.ID = c.Param("id")

	r, err := h.catalog.UpdateRule(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "failed to update rule", err)
		return
	}

	h.logger.Info("Rule updated", zap.String("rule_id", r.ID), zap.String("actor", callerID(c)))
	c.JSON(http.StatusOK, r)
}

// EnableRule handles POST /admin/rules/:id/enable
func (h *RuleHandler) EnableRule(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableRule handles POST /admin/rules/:id/disable
func (h *RuleHandler) DisableRule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *RuleHandler) setEnabled(c *gin.Context, enabled bool) {
	r, err := h.catalog.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
	if err != nil {
		writeError(c, h.logger, "failed to update rule", err)
		return
	}

	h.logger.Info("Rule toggled",
		zap.String("rule_id", r.ID),
		zap.Bool("enabled", enabled),
		zap.String("actor", callerID(c)),
	)
	c.JSON(http.StatusOK, r)
}
