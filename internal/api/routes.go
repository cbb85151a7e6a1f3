package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/cv"
	"cvforge/internal/extract"
	"cvforge/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	cvService *cv.Service,
	extractService *extract.Service,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	allowedOrigins []string,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger)
	profileHandler := NewProfileHandler(db, extractService)
	skillHandler := NewSkillHandler(db)
	projectHandler := NewProjectHandler(db)
	templateHandler := NewTemplateHandler(db)
	cvHandler := NewCVHandler(db, cvService, storageClient)
	offeringHandler := NewJobOfferingHandler(db)
	applicationHandler := NewApplicationHandler(db)
	wsHandler := NewWsHandler(redisClient, authService, logger, allowedOrigins)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		me := v1.Group("/users/me")
		me.Use(authMiddleware)
		{
			me.GET("", profileHandler.GetMe)
			me.GET("/profile", profileHandler.GetProfile)
			me.PUT("/profile", profileHandler.UpsertProfile)
			me.POST("/extract", profileHandler.Extract)

			me.GET("/skills", skillHandler.ListSkills)
			me.GET("/skills/grouped", skillHandler.ListSkillsGrouped)
			me.POST("/skills", skillHandler.CreateSkill)
			me.PATCH("/skills/:id", skillHandler.UpdateSkill)
			me.DELETE("/skills/:id", skillHandler.DeleteSkill)
		}

		projectGroup := v1.Group("/projects")
		projectGroup.Use(authMiddleware)
		{
			projectGroup.GET("", projectHandler.ListProjects)
			projectGroup.POST("", projectHandler.CreateProject)
			projectGroup.GET("/:id", projectHandler.GetProject)
			projectGroup.PATCH("/:id", projectHandler.UpdateProject)
			projectGroup.DELETE("/:id", projectHandler.DeleteProject)

			projectGroup.GET("/:id/cvs", cvHandler.ListCVs)
			projectGroup.POST("/:id/cvs", cvHandler.CreateCV)
		}

		cvGroup := v1.Group("/cvs")
		cvGroup.Use(authMiddleware)
		{
			cvGroup.GET("/:id", cvHandler.GetCV)
			cvGroup.PATCH("/:id", cvHandler.UpdateCV)
			cvGroup.DELETE("/:id", cvHandler.DeleteCV)
			cvGroup.POST("/:id/regenerate", cvHandler.RegenerateCV)
			cvGroup.GET("/:id/download-link", cvHandler.GetDownloadLink)
		}

		templateGroup := v1.Group("/templates")
		templateGroup.Use(authMiddleware)
		{
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
		}

		offeringGroup := v1.Group("/job-offerings")
		offeringGroup.Use(authMiddleware)
		{
			offeringGroup.GET("", offeringHandler.ListJobOfferings)
			offeringGroup.GET("/:id", offeringHandler.GetJobOffering)
			offeringGroup.PUT("/:id", offeringHandler.UpsertJobOffering)
		}

		applicationGroup := v1.Group("/applications")
		applicationGroup.Use(authMiddleware)
		{
			applicationGroup.GET("", applicationHandler.ListApplications)
			applicationGroup.POST("", applicationHandler.CreateApplication)
			applicationGroup.GET("/:id", applicationHandler.GetApplication)
			applicationGroup.PATCH("/:id", applicationHandler.UpdateApplication)
			applicationGroup.DELETE("/:id", applicationHandler.DeleteApplication)
		}
	}
}
