package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hostlink-platform/internal/rbac"
	"hostlink-platform/pkg/logger"
)

// VerifyFunc authenticates the token a client presented on connect.
type VerifyFunc func(token string) (userID, role string, err error)

// Presence is notified while a host holds at least one live connection.
type Presence interface {
	SetOnline(ctx context.Context, hostID string) error
	Heartbeat(ctx context.Context, hostID string) error
	SetOffline(ctx context.Context, hostID string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Mobile clients connect from app webviews with no stable origin.
		return true
	},
}

// HandleWS upgrades GET /ws?token=... to a websocket and streams call events
// for the authenticated user. Browsers cannot set an Authorization header on
// the upgrade request, so the access token rides in the query string.
func (h *Hub) HandleWS(verify VerifyFunc, presence Presence) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token query parameter required"})
			return
		}
		userID, role, err := verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			h.log.Warn("relay: upgrade failed", "error", err)
			return
		}

		cl := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
		h.register(cl)

		log := logger.FromGin(c).With("user_id", userID, "role", role)
		log.Info("relay: client connected")

		trackPresence := presence != nil && role == rbac.RoleHost
		if trackPresence {
			if err := presence.SetOnline(c.Request.Context(), userID); err != nil {
				log.Warn("relay: presence set online", "error", err)
			}
		}

		go h.writePump(cl)
		h.readPump(cl, log, trackPresence, presence)
	}
}

// readPump drains the connection until it closes. Inbound frames are used
// only as liveness signals; the relay is push-only.
func (h *Hub) readPump(c *client, log *slog.Logger, trackPresence bool, presence Presence) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		if trackPresence && h.ConnectionCount(c.userID) == 0 {
			if err := presence.SetOffline(context.Background(), c.userID); err != nil {
				log.Warn("relay: presence set offline", "error", err)
			}
		}
		log.Info("relay: client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if trackPresence {
			if err := presence.Heartbeat(context.Background(), c.userID); err != nil {
				log.Warn("relay: presence heartbeat", "error", err)
			}
		}
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
