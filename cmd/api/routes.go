package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicebridge/internal/httpapi"
	"voicebridge/internal/rbac"
	"voicebridge/pkg/utils"
)

type registerDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	db       *sql.DB
	metrics  *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.metrics, promhttp.HandlerOpts{})))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	v1.Use(rbac.RequireTenant())
	{
		h := deps.handlers

		// live channel; every authenticated role may attach
		v1.GET("/ws", h.Live)

		// presence roster is staff-facing
		v1.GET("/presence",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin),
			h.Roster)

		// CALL routes; portal customers can place and manage their own calls
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RolePortalCustomer, rbac.RoleSuperAdmin))
		{
			calls.POST("/start", h.StartCall)
			calls.POST("/:attempt_id/accept", h.AcceptCall)
			calls.POST("/:attempt_id/reject", h.RejectCall)
			calls.POST("/:attempt_id/end", h.EndCall)
			calls.POST("/token", h.Token)
			calls.GET("/history", h.History)
		}
	}
}
