package httpapi

import (
	"github.com/gin-gonic/gin"

	"hostlink-platform/internal/rbac"
)

// Register wires the public auth endpoints and the authenticated /api group.
// Keep this free of business logic; handlers delegate to internal modules.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	api := r.Group("/api")
	api.Use(authMW)
	{
		api.POST("/call-requests", rbac.RequireAnyRole(rbac.RoleCustomer), h.CreateCallRequest)
		api.GET("/call-requests/:id/status", h.CallRequestStatus)
		api.PUT("/call-requests/:id/accept", rbac.RequireAnyRole(rbac.RoleHost), h.AcceptCallRequest)
		api.PUT("/call-requests/:id/reject", rbac.RequireAnyRole(rbac.RoleHost), h.RejectCallRequest)

		api.GET("/hosts/:host_id/call-requests", rbac.RequireAnyRole(rbac.RoleHost), rbac.RequireSelfOrAdmin("host_id"), h.ListHostCallRequests)
		api.GET("/hosts/:host_id/earnings", rbac.RequireAnyRole(rbac.RoleHost), rbac.RequireSelfOrAdmin("host_id"), h.EarningsSummary)
		api.GET("/hosts/:host_id/transactions", rbac.RequireAnyRole(rbac.RoleHost), rbac.RequireSelfOrAdmin("host_id"), h.HostTransactions)
		api.GET("/hosts/:host_id/rates", h.GetHostRates)
		api.PUT("/hosts/:host_id/rates", rbac.RequireAnyRole(rbac.RoleHost), rbac.RequireSelfOrAdmin("host_id"), h.SetHostRate)
		api.GET("/hosts/:host_id/presence", h.HostPresence)

		api.POST("/call-sessions", h.StartCallSession)
		api.PUT("/call-sessions/:id/end", h.EndCallSession)

		api.GET("/users/:user_id/call-history", rbac.RequireSelfOrAdmin("user_id"), h.CallHistory)

		api.POST("/rtc/token", h.IssueRTCToken)
	}
}
