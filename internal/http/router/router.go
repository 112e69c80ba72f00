package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/marketplace-backend/internal/config"
	"github.com/ignatzorin/marketplace-backend/internal/http/handlers"
	"github.com/ignatzorin/marketplace-backend/internal/http/middleware"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// Handlers собирает все хэндлеры приложения.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Project      *handlers.ProjectHandler
	Proposal     *handlers.ProposalHandler
	Payment      *handlers.PaymentHandler
	Engagement   *handlers.EngagementHandler
	Notification *handlers.NotificationHandler
	Review       *handlers.ReviewHandler
	Health       *handlers.HealthHandler
	WS           *handlers.WSHandler
}

// SetupRouter настраивает маршруты и middleware.
func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.StaticFS("/files", http.Dir(cfg.StoragePath))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
	}

	// Публичные маршруты
	api.GET("/ws", h.WS.Handle)
	api.GET("/projects", h.Project.List)
	api.GET("/projects/:id", middleware.UUIDValidator("id"), h.Project.Get)
	api.GET("/projects/:id/attachments", middleware.UUIDValidator("id"), h.Project.ListAttachments)
	api.GET("/users/:id/reviews", middleware.UUIDValidator("id"), h.Review.ListUserReviews)
	api.GET("/users/:id/rating", middleware.UUIDValidator("id"), h.Review.GetUserRating)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		// Проекты ведёт клиент.
		client := protected.Group("/")
		client.Use(middleware.RequireRole("client"))
		{
			client.POST("/projects", h.Project.Create)
			client.PUT("/projects/:id", middleware.UUIDValidator("id"), h.Project.Update)
			client.POST("/projects/:id/cancel", middleware.UUIDValidator("id"), h.Project.Cancel)
			client.POST("/projects/:id/complete", middleware.UUIDValidator("id"), h.Project.Complete)
			client.DELETE("/projects/:id", middleware.UUIDValidator("id"), h.Project.Delete)
			client.POST("/projects/:id/attachments", middleware.UUIDValidator("id"), h.Project.UploadAttachment)

			client.POST("/proposals/:id/accept", middleware.UUIDValidator("id"), h.Proposal.Accept)
			client.POST("/proposals/:id/reject", middleware.UUIDValidator("id"), h.Proposal.Reject)

			client.POST("/payments", h.Payment.Create)
			client.POST("/payments/:id/process", middleware.UUIDValidator("id"), h.Payment.Process)
			client.POST("/payments/:id/release", middleware.UUIDValidator("id"), h.Payment.Release)
			client.POST("/payments/:id/cancel", middleware.UUIDValidator("id"), h.Payment.Cancel)
			client.POST("/payments/:id/refund", middleware.UUIDValidator("id"), h.Payment.Refund)
		}

		// Предложения подаёт фрилансер, он же ведёт этапы работы.
		freelancer := protected.Group("/")
		freelancer.Use(middleware.RequireRole("freelancer"))
		{
			freelancer.POST("/proposals", h.Proposal.Submit)
			freelancer.POST("/proposals/:id/withdraw", middleware.UUIDValidator("id"), h.Proposal.Withdraw)
			freelancer.PUT("/payments/:id/milestone", middleware.UUIDValidator("id"), h.Payment.UpdateMilestone)
		}

		// Общее для обеих сторон сделки.
		protected.GET("/proposals", h.Proposal.ListOwn)
		protected.GET("/proposals/:id", middleware.UUIDValidator("id"), h.Proposal.Get)
		protected.GET("/projects/:id/proposals", middleware.UUIDValidator("id"), h.Proposal.ListByProject)
		protected.GET("/projects/:id/engagement", middleware.UUIDValidator("id"), h.Engagement.GetState)

		protected.GET("/payments", h.Payment.ListOwn)
		protected.GET("/payments/:id", middleware.UUIDValidator("id"), h.Payment.Get)
		protected.POST("/payments/:id/dispute", middleware.UUIDValidator("id"), h.Payment.Dispute)
		protected.POST("/payments/:id/resolve", middleware.UUIDValidator("id"), h.Payment.Resolve)

		protected.GET("/notifications", h.Notification.List)
		protected.GET("/notifications/unread", h.Notification.CountUnread)
		protected.POST("/notifications/read", h.Notification.MarkAllRead)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkRead)

		protected.POST("/reviews", h.Review.Create)
	}

	return r
}
