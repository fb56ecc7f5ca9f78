package endpoints

import (
	"context"
	"net/http"
	"time"

	"flowengine"
	"flowengine/internal/api/handler/middleware"
	"flowengine/internal/metrics"
	"flowengine/internal/sandbox"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type systemHandler struct {
	db      *gorm.DB
	sandbox *sandbox.Sandbox
}

// SystemHandler serves health, metrics and the sandbox capabilities.
func SystemHandler(router gin.IRouter, cfg flowengine.AppConfig, db *gorm.DB, sb *sandbox.Sandbox, gatherer prometheus.Gatherer) {
	h := &systemHandler{db: db, sandbox: sb}

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))

	routes := router.Group("/api/v1/sandbox")
	routes.Use(middleware.AuthMiddleware(cfg))
	routes.GET("/capabilities", h.capabilities)
}

func (slf *systemHandler) health(c *gin.Context) {
	if slf.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		conn, err := slf.db.DB()
		if err == nil {
			err = conn.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (slf *systemHandler) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, slf.sandbox.Capabilities())
}
