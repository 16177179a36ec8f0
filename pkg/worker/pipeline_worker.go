package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/service/job"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
)

// JobHandler runs one queued task.
type JobHandler interface {
	Handle(ctx context.Context, task *queue.Task) (*models.Job, error)
}

type PipelineWorker struct {
	BaseWorker
	jobs JobHandler
}

func NewPipelineWorker(cfg *Config, jobs JobHandler, log logger.Logger) *PipelineWorker {
	w := &PipelineWorker{
		BaseWorker: newBaseWorker(cfg, log.Named("worker")),
		jobs:       jobs,
	}
	w.mux.HandleFunc(queue.TaskTypePipelineRun, w.handlePipelineRun)
	return w
}

func (w *PipelineWorker) handlePipelineRun(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}
	if task.ID == "" || len(task.Payload) == 0 {
		return fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}

	w.logger.Info("Processing pipeline task",
		logger.String("taskId", task.ID),
		logger.Any("metadata", task.Metadata),
	)

	result, err := w.jobs.Handle(ctx, &task)
	if result != nil {
		w.writeResult(t, result)
	}
	if err != nil {
		w.logger.Error("Pipeline task failed",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.logger.Info("Pipeline task completed", logger.String("taskId", task.ID))
	return nil
}

func (w *PipelineWorker) writeResult(t *asynq.Task, result *models.Job) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("Failed to marshal task result", logger.Error(err))
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.logger.Error("Failed to write task result", logger.Error(err))
	}
}

// permanent reports failures that a retry cannot fix without operator action.
func permanent(err error) bool {
	var (
		ce *models.ConfigurationError
		zp *models.ZeroPageError
		pe *models.ParseError
	)
	return errors.Is(err, job.ErrInvalidRequest) ||
		errors.As(err, &ce) ||
		errors.As(err, &zp) ||
		errors.As(err, &pe)
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}
