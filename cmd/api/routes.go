package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"hostlink-platform/internal/auth"
	"hostlink-platform/internal/httpapi"
	"hostlink-platform/internal/relay"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, hub *relay.Hub, presence relay.Presence) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Websocket upgrade carries the access token as a query parameter.
	r.GET("/ws", hub.HandleWS(func(token string) (string, string, error) {
		claims, err := h.Auth.Verify(token, auth.TokenTypeAccess, time.Now())
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}, presence))

	httpapi.Register(r, h, auth.RequireAccessToken(h.Auth))
}
