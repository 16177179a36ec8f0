// Package job turns documents into queued pipeline runs and runs them on the
// worker side.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pipeline"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
	"github.com/feichai0017/searchable-pdf/pkg/storage"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDocumentNotFound = errors.New("document not found in input directory")
	ErrNotReady         = errors.New("job has not completed")
)

// Pipeline runs one document to completion.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*models.RunSummary, error)
}

type Config struct {
	InputDir string
	// DefaultLevels applies when a request neither sets levels nor opts out.
	DefaultLevels *models.Levels
	Priority      int
}

// Payload is the queued description of one run.
type Payload struct {
	SourcePath string         `json:"sourcePath"`
	Levels     *models.Levels `json:"levels,omitempty"`
}

type SubmitRequest struct {
	// Document is a file name inside the input directory.
	Document string
	Levels   *models.Levels
	NoLevels bool
}

type Service struct {
	queue     queue.Queue
	pipeline  Pipeline
	inbox     storage.Storage
	results   storage.Storage
	validator *validator.DocumentValidator
	config    Config
	logger    logger.Logger
}

// NewService wires a service. pipeline may be nil on the submitting side.
// inbox and results may be nil when uploads or downloads are not served;
// results is keyed by final document file name.
func NewService(q queue.Queue, p Pipeline, inbox, results storage.Storage, v *validator.DocumentValidator, cfg Config, log logger.Logger) *Service {
	return &Service{
		queue:     q,
		pipeline:  p,
		inbox:     inbox,
		results:   results,
		validator: v,
		config:    cfg,
		logger:    log.Named("job"),
	}
}

// Submit queues a document already present in the input directory. The job
// ID is the document's base name, so a document can be queued only once at a
// time.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	name := strings.TrimSpace(req.Document)
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: document must be a plain file name, got %q", ErrInvalidRequest, req.Document)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, fmt.Errorf("%w: %s is not a PDF", ErrInvalidRequest, name)
	}

	path := filepath.Join(s.config.InputDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if s.validator != nil {
		result, err := s.validator.ValidatePath(path)
		if err != nil {
			return nil, err
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	doc, err := models.NewDocument(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	levels := req.Levels
	if levels == nil && !req.NoLevels {
		levels = s.config.DefaultLevels
	}
	if levels != nil {
		if err := levels.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	payload, err := json.Marshal(Payload{SourcePath: path, Levels: levels})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &models.Job{
		ID:        doc.BaseName,
		Status:    models.StatusPending,
		Document:  name,
		Levels:    levels,
		CreatedAt: time.Now(),
	}
	task := &queue.Task{
		ID:        job.ID,
		Type:      queue.TaskTypePipelineRun,
		Priority:  s.config.Priority,
		Payload:   payload,
		Metadata:  map[string]string{"document": name},
		CreatedAt: job.CreatedAt,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	s.saveStatus(ctx, job)

	s.logger.Info("Job submitted",
		logger.String("jobId", job.ID),
		logger.String("document", name),
	)
	return job, nil
}

// Upload stores an uploaded PDF in the input directory and submits it.
func (s *Service) Upload(ctx context.Context, header *multipart.FileHeader, levels *models.Levels, noLevels bool) (*models.Job, error) {
	if s.inbox == nil {
		return nil, fmt.Errorf("%w: uploads are disabled", ErrInvalidRequest)
	}
	if s.validator != nil {
		result, err := s.validator.ValidateFile(header)
		if err != nil {
			return nil, err
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	name := filepath.Base(header.Filename)
	if _, err := s.inbox.Store(ctx, f, name); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	s.logger.Info("Upload stored",
		logger.String("document", name),
		logger.Int64("size", header.Size),
	)
	return s.Submit(ctx, SubmitRequest{Document: name, Levels: levels, NoLevels: noLevels})
}

// Status returns the latest known state of a job.
func (s *Service) Status(ctx context.Context, id string) (*models.Job, error) {
	st, err := s.queue.GetTaskStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	job := &models.Job{ID: id}
	if len(st.Result) > 0 {
		if err := json.Unmarshal(st.Result, job); err != nil {
			s.logger.Warn("Failed to decode job result",
				logger.String("jobId", id),
				logger.Error(err),
			)
		}
	}
	job.ID = id
	job.Status = models.JobStatus(st.Status)
	if st.Error != "" {
		job.Error = st.Error
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = st.StartedAt
	}
	if !st.FinishedAt.IsZero() {
		job.UpdatedAt = st.FinishedAt
	}
	return job, nil
}

// Download opens the searchable PDF of a completed job and returns it with
// its file name.
func (s *Service) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	if s.results == nil {
		return nil, "", fmt.Errorf("%w: downloads are disabled", ErrInvalidRequest)
	}
	job, err := s.Status(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.StatusCompleted || job.Summary == nil || job.Summary.FinalPath == "" {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrNotReady, id, job.Status)
	}

	name := filepath.Base(job.Summary.FinalPath)
	rc, err := s.results.Get(ctx, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
		}
		return nil, "", err
	}
	return rc, name, nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.queue.CancelTask(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Job cancelled", logger.String("jobId", id))
	return nil
}

// Handle runs a queued task through the pipeline. The returned job is set
// even when the run fails.
func (s *Service) Handle(ctx context.Context, task *queue.Task) (*models.Job, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("job service has no pipeline")
	}
	var p Payload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to decode payload: %v", ErrInvalidRequest, err)
	}
	if p.SourcePath == "" {
		return nil, fmt.Errorf("%w: payload has no source path", ErrInvalidRequest)
	}

	job := &models.Job{
		ID:        task.ID,
		Status:    models.StatusRunning,
		Document:  filepath.Base(p.SourcePath),
		Levels:    p.Levels,
		CreatedAt: task.CreatedAt,
		UpdatedAt: time.Now(),
	}
	s.saveStatus(ctx, job)

	summary, err := s.pipeline.Run(ctx, pipeline.Request{SourcePath: p.SourcePath, Levels: p.Levels})
	job.Summary = summary
	job.UpdatedAt = time.Now()
	if err != nil {
		job.Status = models.StatusFailed
		job.Error = err.Error()
		s.saveStatus(context.WithoutCancel(ctx), job)
		return job, err
	}

	job.Status = models.StatusCompleted
	s.saveStatus(ctx, job)
	return job, nil
}

func (s *Service) saveStatus(ctx context.Context, job *models.Job) {
	result, err := json.Marshal(job)
	if err != nil {
		s.logger.Error("Failed to marshal job", logger.String("jobId", job.ID), logger.Error(err))
		return
	}
	st := &queue.TaskStatus{
		TaskID:    job.ID,
		Status:    string(job.Status),
		Error:     job.Error,
		Result:    result,
		StartedAt: job.CreatedAt,
	}
	switch job.Status {
	case models.StatusRunning:
		st.Progress = 0.5
	case models.StatusCompleted:
		st.Progress = 1.0
		st.FinishedAt = job.UpdatedAt
	case models.StatusFailed:
		st.FinishedAt = job.UpdatedAt
	}
	if err := s.queue.SaveStatus(ctx, st); err != nil {
		s.logger.Error("Failed to save job status",
			logger.String("jobId", job.ID),
			logger.Error(err),
		)
	}
}
