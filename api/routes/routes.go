package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/searchable-pdf/api/handlers"
	"github.com/feichai0017/searchable-pdf/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, origins []string) {
	r.Use(middleware.CORS(origins))

	r.GET("/health", handlers.HealthCheck)

	v1 := r.Group("/api/v1")
	jobs := v1.Group("/jobs")
	{
		jobs.POST("", h.Job.Submit)
		jobs.POST("/upload", h.Job.Upload)
		jobs.GET("/:id", h.Job.GetStatus)
		jobs.GET("/:id/document", h.Job.Download)
		jobs.DELETE("/:id", h.Job.Cancel)
	}
}
