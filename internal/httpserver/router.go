package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyengine/internal/api"
	"notifyengine/pkg/rbac"
)

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

// NewHealthRouter serves only /healthz, /readyz and /metrics. The worker
// uses it.
func NewHealthRouter(checks ...ReadinessCheck) *Router {
	r := newEngine()
	registerHealth(r, checks)
	return &Router{Engine: r}
}

func NewRouter(
	ruleHandler *api.RuleHandler,
	adminHandler *api.AdminHandler,
	notificationHandler *api.NotificationHandler,
	jwtSecret string,
	checks ...ReadinessCheck,
) *Router {
	r := newEngine()
	registerHealth(r, checks)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/notifications", RequirePermission(rbac.PermissionReadOwnHistory), notificationHandler.ListMine)
	}

	admin := auth.Group("/admin")
	{
		admin.GET("/rules", RequirePermission(rbac.PermissionReadRules), ruleHandler.ListRules)
		admin.GET("/rules/:id", RequirePermission(rbac.PermissionReadRules), ruleHandler.GetRule)
		admin.POST("/rules", RequirePermission(rbac.PermissionWriteRules), ruleHandler.CreateRule)
		admin.PUT("/rules/:id", RequirePermission(rbac.PermissionWriteRules), ruleHandler.UpdateRule)
		admin.POST("/rules/:id/enable", RequirePermission(rbac.PermissionWriteRules), ruleHandler.EnableRule)
		admin.POST("/rules/:id/disable", RequirePermission(rbac.PermissionWriteRules), ruleHandler.DisableRule)

		admin.GET("/dead-letters", RequirePermission(rbac.PermissionReadDeadLetters), adminHandler.ListDeadLetters)
		admin.POST("/dead-letters/:id/replay", RequirePermission(rbac.PermissionReplayDeadLetter), adminHandler.ReplayDeadLetter)

		admin.GET("/notifications/:id", RequirePermission(rbac.PermissionReadDeliveries), adminHandler.GetNotification)
		admin.GET("/notifications/:id/attempts", RequirePermission(rbac.PermissionReadDeliveries), adminHandler.ListAttempts)
		admin.POST("/notifications/cancel", RequirePermission(rbac.PermissionCancel), adminHandler.CancelNotifications)

		admin.POST("/triggers", RequirePermission(rbac.PermissionTrigger), adminHandler.FireTrigger)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware())
	return r
}

func registerHealth(r *gin.Engine, checks []ReadinessCheck) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
