package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/recovery"
	"gorm.io/gorm"
)

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	m := opts.Manager

	router.GET("/healthz", handleHealth(opts.DB))

	api := router.Group("/api")
	api.POST("/staff/:id/heartbeat", handleHeartbeat(opts.DB, m))
	api.POST("/staff/:id/disconnect", handleStaffDisconnect(opts.DB, m))
	api.POST("/sessions/:id/activity", handleGuestActivity(m))
	api.POST("/sessions/:id/end", handleEndSession(m))
	api.POST("/sessions/:id/reassign", handleReassign(m))
	api.GET("/recoveries", handleRecoveries(m))
	api.GET("/settings", handleSettings(m))
	api.POST("/settings/reload", handleReloadSettings(m, opts))
	if opts.Events != nil {
		api.GET("/events", handleSSE(opts.Events))
	}

	router.GET("/ws/staff/:id", handleStaffSocket(opts.DB, m, opts.Hub))
	router.GET("/ws/guest/:id", handleGuestSocket(opts.DB, m, opts.Hub))

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleHeartbeat(db *gorm.DB, m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := resumeHeartbeat(c.Request.Context(), db, m, c.Param("id"), false); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// resumeHeartbeat records a staff heartbeat. A staff member returning from a
// disconnect, or from going offline when wentOffline is set, is put back
// online first so their sessions can be handed back.
func resumeHeartbeat(ctx context.Context, db *gorm.DB, m *recovery.Manager, staffID string, wentOffline bool) error {
	if wentOffline || m.Store().IsDisconnected(staffID) {
		if err := chat.SetStaffStatus(ctx, db, staffID, chat.StaffOnline); err != nil {
			return err
		}
	}
	m.RecordHeartbeat(ctx, staffID)
	return nil
}

type disconnectRequest struct {
	Reason string `json:"reason"`
}

func handleStaffDisconnect(db *gorm.DB, m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req disconnectRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Reason == "" {
			req.Reason = string(recovery.ReasonManual)
		}
		reason, ok := recovery.ParseDisconnectReason(req.Reason)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown disconnect reason: " + req.Reason})
			return
		}

		staffID := c.Param("id")
		ctx := c.Request.Context()
		if err := chat.SetStaffStatus(ctx, db, staffID, chat.StaffOffline); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		sessions, err := m.DisconnectStaff(ctx, staffID, reason)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sessions == nil {
			sessions = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"staff_id": staffID, "sessions_in_recovery": sessions})
	}
}

func handleGuestActivity(m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.RecordGuestActivity(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type endRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func handleEndSession(m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req endRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reason, ok := recovery.ParseEndReason(req.Reason)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown end reason: " + req.Reason})
			return
		}
		if err := m.EndSession(c.Request.Context(), c.Param("id"), reason); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "reason": reason})
	}
}

type reassignRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

func handleReassign(m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reassignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ok, err := m.Reassign(c.Request.Context(), c.Param("id"), req.StaffID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "staff member is not available"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "staff_id": req.StaffID})
	}
}

func handleRecoveries(m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"recoveries":         m.Recoveries(),
			"disconnected_staff": m.DisconnectedStaff(),
		})
	}
}

func handleSettings(m *recovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, settingsJSON(m.Settings()))
	}
}

func handleReloadSettings(m *recovery.Manager, opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := opts.Reload(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, settingsJSON(m.Settings()))
	}
}

// settingsJSON renders settings with durations in the units they are
// configured in.
func settingsJSON(s recovery.Settings) gin.H {
	return gin.H{
		"auto_requeue_enabled":              s.AutoRequeueEnabled,
		"requeue_position":                  s.RequeuePosition,
		"priority_boost_amount":             s.PriorityBoostAmount,
		"staff_disconnect_timeout":          int(s.StaffDisconnectTimeout / time.Second),
		"grace_period_seconds":              int(s.GracePeriod / time.Second),
		"auto_reassign_after_seconds":       int(s.AutoReassignAfter / time.Second),
		"notify_guest_on_staff_disconnect":  s.NotifyGuestOnStaffDisconnect,
		"staff_disconnect_message":          s.StaffDisconnectMessage,
		"reassignment_message":              s.ReassignmentMessage,
		"escalate_on_repeated_disconnect":   s.EscalateOnRepeatedDisconnect,
		"max_disconnects_before_escalation": s.MaxDisconnectsBeforeEscalation,
		"escalation_priority":               s.EscalationPriority,
		"create_ticket_on_escalation":       s.CreateTicketOnEscalation,
		"guest_inactivity_timeout_minutes":  int(s.GuestInactivityTimeout / time.Minute),
	}
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, chat.ErrSessionClosed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
