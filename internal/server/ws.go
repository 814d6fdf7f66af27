package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/orvale/helpdesk/internal/recovery"
	"gorm.io/gorm"
)

// Inbound websocket frame types.
const (
	frameHeartbeat    = "heartbeat"
	frameGoingOffline = "going_offline"
	frameActivity     = "activity"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The portal widget is embedded on customer sites.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStaffSocket connects a staff client. Frames are heartbeats and an
// explicit going_offline notice; a socket that simply drops is left to the
// heartbeat scan.
func handleStaffSocket(db *gorm.DB, m *recovery.Manager, hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		staffID := c.Param("id")
		ctx := c.Request.Context()
		if err := chat.SetStaffStatus(ctx, db, staffID, chat.StaffOnline); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("server: staff %s upgrade: %v", staffID, err)
			return
		}
		client := hub.Register(conn, notify.StaffAudienceRoom, notify.StaffRoom(staffID))
		m.RecordHeartbeat(ctx, staffID)

		wentOffline := false
		client.Run(ctx, func(f notify.Frame) {
			switch f.Type {
			case frameHeartbeat:
				if err := resumeHeartbeat(ctx, db, m, staffID, wentOffline); err != nil {
					log.Printf("server: staff %s heartbeat: %v", staffID, err)
					return
				}
				wentOffline = false
			case frameGoingOffline:
				wentOffline = true
				reason := recovery.ReasonManual
				var body disconnectRequest
				if len(f.Data) > 0 && json.Unmarshal(f.Data, &body) == nil {
					if r, ok := recovery.ParseDisconnectReason(body.Reason); ok {
						reason = r
					}
				}
				if err := chat.SetStaffStatus(ctx, db, staffID, chat.StaffOffline); err != nil {
					log.Printf("server: staff %s offline: %v", staffID, err)
				}
				if _, err := m.DisconnectStaff(ctx, staffID, reason); err != nil {
					log.Printf("server: staff %s disconnect: %v", staffID, err)
				}
			default:
				log.Printf("server: staff %s sent unknown frame %q", staffID, f.Type)
			}
		})
	}
}

// handleGuestSocket connects a guest's chat widget to its session room.
func handleGuestSocket(db *gorm.DB, m *recovery.Manager, hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		ctx := c.Request.Context()
		if _, err := chat.Get(ctx, db, sessionID); err != nil {
			if errors.Is(err, chat.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("server: guest %s upgrade: %v", sessionID, err)
			return
		}
		client := hub.Register(conn, notify.SessionRoom(sessionID))
		if err := m.RecordGuestActivity(ctx, sessionID); err != nil {
			log.Printf("server: guest %s activity: %v", sessionID, err)
		}

		client.Run(ctx, func(f notify.Frame) {
			if f.Type != frameActivity {
				return
			}
			if err := m.RecordGuestActivity(ctx, sessionID); err != nil {
				log.Printf("server: guest %s activity: %v", sessionID, err)
			}
		})
	}
}
