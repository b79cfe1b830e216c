package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/feral-file/passport-ledger/internal/api/middleware"
	"github.com/feral-file/passport-ledger/internal/ratelimit"
)

// RouteLimits holds the limiters guarding the open login routes and the routes that change the ledger.
// A nil limiter disables limiting for its routes.
type RouteLimits struct {
	Login    *ratelimit.Limiter
	Mutation *ratelimit.Limiter
}

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig, limits RouteLimits) {
	login := middleware.RateLimit(limits.Login, middleware.ClientIPKey)
	mutation := middleware.RateLimit(limits.Mutation, middleware.CallerKey)

	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Wallet login (open)
		v1.POST("/auth/challenge", login, handler.Challenge)
		v1.POST("/auth/token", login, handler.Token)

		// Webhook endpoints (requires API key authentication only)
		v1.POST("/webhooks/clients", middleware.APIKeyAuth(authCfg), handler.CreateWebhookClient)

		authed := v1.Group("", middleware.Auth(authCfg))

		authed.POST("/documents", mutation, handler.UploadDocument)

		// Records
		authed.POST("/records", mutation, handler.StoreRecord)
		authed.GET("/records/:id", handler.GetRecord)
		authed.PUT("/records/:id", mutation, handler.UpdateRecord)
		authed.POST("/records/:id/deactivate", mutation, handler.DeactivateRecord)
		authed.GET("/records/:id/ownership", handler.VerifyOwnership)
		authed.GET("/owners/:address/records", handler.ListOwnerRecords)

		// Record grants
		authed.GET("/records/:id/permissions", handler.GetPermissions)
		authed.PUT("/records/:id/access/:grantee", mutation, handler.GrantRecordAccess)
		authed.DELETE("/records/:id/access/:grantee", mutation, handler.RevokeRecordAccess)

		// Account delegations
		authed.PUT("/delegations/:delegatee", mutation, handler.GrantDelegation)
		authed.DELETE("/delegations/:delegatee", mutation, handler.RevokeDelegation)
		authed.GET("/delegations/:grantor/:delegatee", handler.GetDelegation)

		// Verification workflow
		authed.POST("/records/:id/verifications", mutation, handler.RequestVerification)
		authed.GET("/records/:id/verifications", handler.ListRecordVerifications)
		authed.GET("/verifications/:id", handler.GetVerificationRequest)
		authed.POST("/verifications/:id/approve", mutation, handler.ApproveVerification)
		authed.POST("/verifications/:id/reject", mutation, handler.RejectVerification)

		// Event journal
		authed.GET("/journal", handler.ListJournal)
		authed.GET("/journal/verify", handler.VerifyJournal)
	}
}
