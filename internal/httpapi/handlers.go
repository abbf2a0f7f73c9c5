package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/metrics"
	"voicebridge/internal/presence"
	"voicebridge/internal/realtime"
	"voicebridge/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Coordinator *calls.Coordinator
	Registry    *presence.Registry
	Hub         *realtime.Hub
	Metrics     *metrics.Metrics

	Upgrader websocket.Upgrader
}

// --- Calls ---

type startCallRequest struct {
	CalleeID string `json:"callee_id"`
}

func (h Handlers) StartCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CalleeID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callee_id required"})
		return
	}

	res, err := h.Coordinator.StartCall(c.Request.Context(), tenantID, userID, req.CalleeID)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	res, err := h.Coordinator.AcceptCall(c.Request.Context(), tenantID, userID, c.Param("attempt_id"))
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rejectCallRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) RejectCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	// body is optional; reject works with no payload at all
	var req rejectCallRequest
	_ = c.ShouldBindJSON(&req)

	attempt, err := h.Coordinator.RejectCall(c.Request.Context(), tenantID, userID, c.Param("attempt_id"), req.Reason)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	attempt, err := h.Coordinator.EndCall(c.Request.Context(), tenantID, userID, c.Param("attempt_id"))
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

type tokenRequest struct {
	AttemptID string `json:"attempt_id"`
}

func (h Handlers) Token(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AttemptID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "attempt_id required"})
		return
	}

	res, err := h.Coordinator.Token(c.Request.Context(), tenantID, userID, req.AttemptID)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) History(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())

	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Coordinator.History(c.Request.Context(), tenantID, userID, limit)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": list})
}

// --- Presence ---

func (h Handlers) Roster(c *gin.Context) {
	tenantID, _ := auth.TenantID(c.Request.Context())

	roster, err := h.Registry.Roster(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "roster lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roster": roster})
}

// --- Live channel ---

// Live upgrades to a websocket, registers the party as ONLINE and pumps
// events until the connection drops. Presence is filed under the tenant the
// registry resolves, which for portal customers differs from the token's.
func (h Handlers) Live(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	tenantID, _ := auth.TenantID(c.Request.Context())
	log := logger.FromGin(c)

	filingTenant, err := h.Registry.Connect(c.Request.Context(), userID, tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence registration failed"})
		return
	}

	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		_ = h.Registry.Disconnect(c.Request.Context(), filingTenant, userID)
		return
	}

	sess := h.Hub.Attach(userID, filingTenant, ws)
	h.Metrics.LiveSessions.Inc()
	defer func() {
		h.Metrics.LiveSessions.Dec()
		if err := h.Registry.Disconnect(c.Request.Context(), filingTenant, userID); err != nil {
			log.Warn("presence disconnect", "err", err, "party_id", userID)
		}
	}()

	client := realtime.NewClient(ws, h.Hub, sess, log)
	client.OnHeartbeat = func(hctx context.Context) {
		if err := h.Registry.Heartbeat(hctx, filingTenant, userID); err != nil {
			log.Warn("presence heartbeat", "err", err, "party_id", userID)
		}
	}
	client.Run(c.Request.Context())
}

// abortCallError maps coordinator errors onto HTTP statuses.
func abortCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
	case errors.Is(err, calls.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a party to this attempt"})
	case errors.Is(err, calls.ErrAlreadyTerminal):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrTransportUnavailable):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "media transport unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
