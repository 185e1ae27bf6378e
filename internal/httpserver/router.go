package httpserver

import (
	"context"
	"net/http"
	"time"

	"timelineboard/internal/handler"
	"timelineboard/pkg/otel"
	"timelineboard/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck 依赖探活，例如数据库 Ping
type ReadinessCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	timelineHandler *handler.TimelineHandler,
	jwtSecret string,
	checks map[string]ReadinessCheck,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	projects := r.Group("/api/dashboard/projects/:projectId")
	projects.Use(AuthMiddleware(jwtSecret, logger))
	{
		projects.GET("/timeline", RequirePermission(rbac.PermissionReadTimeline), timelineHandler.GetTimeline)
		projects.GET("/timeline.svg", RequirePermission(rbac.PermissionReadTimeline), timelineHandler.GetTimelineSVG)
		projects.PUT("/modules/:index/status", RequirePermission(rbac.PermissionUpdateTimeline), timelineHandler.UpdateStatus)
		projects.PATCH("/details/:detailId/status", RequirePermission(rbac.PermissionUpdateTimeline), timelineHandler.PatchDetailStatus)
		projects.DELETE("/details", RequirePermission(rbac.PermissionDeleteTimeline), timelineHandler.DeleteDetails)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
