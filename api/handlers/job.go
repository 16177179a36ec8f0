package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/service/job"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
)

type JobService interface {
	Submit(ctx context.Context, req job.SubmitRequest) (*models.Job, error)
	Upload(ctx context.Context, header *multipart.FileHeader, levels *models.Levels, noLevels bool) (*models.Job, error)
	Status(ctx context.Context, id string) (*models.Job, error)
	Cancel(ctx context.Context, id string) error
	Download(ctx context.Context, id string) (io.ReadCloser, string, error)
}

type JobHandler struct {
	service   JobService
	maxUpload int64
	logger    logger.Logger
}

// SubmitRequest names a document already in the input directory. Levels is
// "BLACK,WHITE" in percent.
type SubmitRequest struct {
	Document string `json:"document" binding:"required"`
	Levels   string `json:"levels"`
	NoLevels bool   `json:"noLevels"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewJobHandler(service JobService, maxUpload int64, log logger.Logger) *JobHandler {
	return &JobHandler{
		service:   service,
		maxUpload: maxUpload,
		logger:    log.Named("api"),
	}
}

// Submit queues a document from the input directory.
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	levels, err := parseLevels(req.Levels)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid levels", err)
		return
	}

	j, err := h.service.Submit(c.Request.Context(), job.SubmitRequest{
		Document: req.Document,
		Levels:   levels,
		NoLevels: req.NoLevels,
	})
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to submit job", err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

// Upload stores a PDF sent as multipart field "file" and queues it.
func (h *JobHandler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	header, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	levels, err := parseLevels(c.PostForm("levels"))
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid levels", err)
		return
	}
	noLevels, _ := strconv.ParseBool(c.DefaultPostForm("noLevels", "false"))

	j, err := h.service.Upload(c.Request.Context(), header, levels, noLevels)
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to upload document", err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (h *JobHandler) GetStatus(c *gin.Context) {
	j, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// Download streams the searchable PDF of a completed job.
func (h *JobHandler) Download(c *gin.Context) {
	rc, name, err := h.service.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, statusFor(err), "Failed to download document", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", rc, nil)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		h.handleError(c, statusFor(err), "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled",
		"jobId":   id,
	})
}

func parseLevels(s string) (*models.Levels, error) {
	if s == "" {
		return nil, nil
	}
	return models.ParseLevels(s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrDocumentNotFound), errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrDuplicateTask), errors.Is(err, job.ErrNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func (h *JobHandler) handleError(c *gin.Context, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
