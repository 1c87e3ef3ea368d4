// internal/app/router.go
package app

import (
	authHandler "studyhub-service/internal/handlers/auth"
	billingHandler "studyhub-service/internal/handlers/billing"
	"studyhub-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	AuthHandler         *authHandler.AuthHandler
	SubscriptionHandler *billingHandler.SubscriptionHandler
	AdminHandler        *billingHandler.AdminHandler
	WebhookHandler      *billingHandler.WebhookHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/register", h.AuthHandler.Register)
		authPublic.POST("/login", h.AuthHandler.Login)
	}

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.POST("/logout/all", h.AuthHandler.LogoutAll)
		authProtected.GET("/me", h.AuthHandler.GetMe)
	}

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(h.AuthMiddleware.Auth())
	{
		subscriptions.POST("/manual", h.SubscriptionHandler.CreateManualSubscription)
		subscriptions.POST("/paypal", h.SubscriptionHandler.CreatePayPalSubscription)
		subscriptions.POST("/paypal/activate", h.SubscriptionHandler.ActivatePayPalSubscription)
		subscriptions.POST("/cancel", h.SubscriptionHandler.CancelSubscription)
		subscriptions.GET("/current", h.SubscriptionHandler.GetCurrentSubscription)
		subscriptions.GET("/payments", h.SubscriptionHandler.ListPayments)
	}

	// ==================== Provider Webhooks ====================
	// No auth: the provider calls this endpoint directly.
	api.POST("/webhooks/paypal", h.WebhookHandler.HandlePayPalWebhook)

	// ==================== Admin Routes ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/subscriptions/pending", h.AdminHandler.ListPendingSubscriptions)
		admin.POST("/subscriptions/:id/verify", h.AdminHandler.VerifySubscription)
		admin.PUT("/users/:id/premium", h.AdminHandler.SetPremium)
	}
}
