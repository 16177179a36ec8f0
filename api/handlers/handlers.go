package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

type Handlers struct {
	Job *JobHandler
}

func NewHandlers(jobs JobService, maxUpload int64, log logger.Logger) *Handlers {
	return &Handlers{
		Job: NewJobHandler(jobs, maxUpload, log),
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
