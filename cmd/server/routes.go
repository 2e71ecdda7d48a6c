package main

import (
	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/handlers"
	"github.com/rentacoder/backend/internal/middleware"
	"github.com/rentacoder/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS())
	r.MaxMultipartMemory = int64(svc.cfg.Upload.MaxSizeMB) << 20

	// Rate limiter for unauthenticated account routes
	authLimiter := middleware.NewRateLimiter(2, 10)

	healthHandler := handlers.NewHealthHandler(svc.db, svc.taskQueue)
	metricsHandler := handlers.NewMetricsHandler(svc.db, svc.taskQueue)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", metricsHandler.Metrics)

	authHandler := handlers.NewAuthHandler(svc.accounts)
	userHandler := handlers.NewUserHandler(svc.db, svc.accounts)
	projectHandler := handlers.NewProjectHandler(svc.projects, &svc.cfg.Upload)
	scoreHandler := handlers.NewScoreHandler(svc.scores)
	technologyHandler := handlers.NewTechnologyHandler(svc.technologies)
	systemConfigHandler := handlers.NewSystemConfigHandler(svc.configs)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.GET("/verify/:token", authHandler.Verify)
			auth.POST("/login", authHandler.Login)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.GET("/reset-password/:token", authHandler.CheckResetPassword)
			auth.POST("/reset-password/:token", authHandler.ResetPassword)
		}

		api.GET("/technologies", technologyHandler.List)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)

			// Profile
			protected.GET("/profile", userHandler.GetProfile)
			protected.PUT("/profile", userHandler.UpdateProfile)
			protected.PUT("/profile/password", userHandler.ChangePassword)
			protected.GET("/users/:id", userHandler.GetPublic)

			// Projects
			protected.GET("/projects", projectHandler.List)
			protected.POST("/projects", projectHandler.Create)
			protected.GET("/projects/:id", projectHandler.GetByID)
			protected.PUT("/projects/:id", projectHandler.Update)
			protected.POST("/projects/:id/apply", projectHandler.Apply)
			protected.POST("/projects/:id/offers/:offer_id/accept", projectHandler.AcceptOffer)
			protected.POST("/projects/:id/close", projectHandler.Close)
			protected.POST("/projects/:id/questions", projectHandler.AskQuestion)
			protected.POST("/projects/:id/questions/:question_id/answer", projectHandler.AnswerQuestion)
			protected.POST("/projects/:id/attachment", projectHandler.UploadAttachment)

			// Caller's own projects and applications
			protected.GET("/me/projects", projectHandler.ListMine)
			protected.GET("/me/projects/history", projectHandler.History)
			protected.GET("/me/applications", projectHandler.ListApplications)

			// Scores
			protected.GET("/scores", scoreHandler.Overview)
			protected.GET("/scores/pending/count", scoreHandler.PendingCount)
			protected.POST("/scores/:id/coder", scoreHandler.RateCoder)
			protected.POST("/scores/:id/owner", scoreHandler.RateOwner)
		}

		// Admin only routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.GET("/users", userHandler.List)
			admin.PUT("/users/:id", userHandler.Update)
			admin.DELETE("/users/:id", userHandler.Delete)

			admin.GET("/settings", systemConfigHandler.List)
			admin.PUT("/settings", systemConfigHandler.Update)
		}
	}

	// Uploaded attachments
	r.Static("/uploads", svc.cfg.Upload.Dir)
}
