// Package queue submits pipeline jobs to asynq and keeps their status in
// Redis so it outlives asynq's own task retention.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

const TaskTypePipelineRun = "pipeline:run"

// Queue names, highest priority first.
var Queues = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

var queueOrder = []string{"critical", "default", "low"}

var (
	// ErrDuplicateTask means a task with the same ID is pending or running.
	ErrDuplicateTask = errors.New("task is already queued or running")
	ErrTaskNotFound  = errors.New("task not found")
)

type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveStatus(ctx context.Context, status *TaskStatus) error
}

// Task is one unit of queued work. Payload is owned by the task type.
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// TaskStatus is the externally visible state of a task. Result carries the
// handler's output once the task has finished.
type TaskStatus struct {
	TaskID     string          `json:"taskId"`
	Status     string          `json:"status"`
	Progress   float64         `json:"progress"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Finished reports whether the status is terminal.
func (s *TaskStatus) Finished() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxRetry      int
	Timeout       time.Duration
	// Retention keeps finished tasks inspectable in asynq.
	Retention time.Duration
	StatusTTL time.Duration
}

func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	statuses  StatusStore
	config    *Config
	logger    logger.Logger
}

func NewAsynqQueue(cfg *Config, statuses StatusStore, log logger.Logger) *AsynqQueue {
	redisOpt := cfg.RedisOpt()
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		statuses:  statuses,
		config:    cfg,
		logger:    log.Named("queue"),
	}
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// Enqueue submits the task under its own ID. A finished task with the same ID
// still held by asynq is removed first so the document can be resubmitted.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	queueName := priorityQueue(task.Priority)
	opts := []asynq.Option{
		asynq.MaxRetry(q.config.MaxRetry),
		asynq.Timeout(q.config.Timeout),
		asynq.TaskID(task.ID),
		asynq.Queue(queueName),
	}
	if q.config.Retention > 0 {
		opts = append(opts, asynq.Retention(q.config.Retention))
	}

	t := asynq.NewTask(task.Type, payload, opts...)
	_, err = q.client.EnqueueContext(ctx, t)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		if !q.removeFinished(task.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		_, err = q.client.EnqueueContext(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Info("Task enqueued",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
		logger.String("queue", queueName),
	)
	return nil
}

func (q *AsynqQueue) removeFinished(taskID string) bool {
	for _, name := range queueOrder {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err != nil {
			continue
		}
		if info.State != asynq.TaskStateCompleted && info.State != asynq.TaskStateArchived {
			return false
		}
		if err := q.inspector.DeleteTask(name, taskID); err != nil {
			q.logger.Warn("Failed to remove finished task", logger.String("taskId", taskID), logger.Error(err))
			return false
		}
		return true
	}
	return false
}

// GetTaskStatus prefers the saved status and falls back to asynq's view.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	status, err := q.statuses.Get(ctx, taskID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	for _, name := range queueOrder {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// CancelTask deletes a waiting task or signals a running one.
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	for _, name := range queueOrder {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err != nil {
			continue
		}
		if info.State == asynq.TaskStateActive {
			err = q.inspector.CancelProcessing(taskID)
		} else {
			err = q.inspector.DeleteTask(name, taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		return q.SaveStatus(ctx, &TaskStatus{
			TaskID:     taskID,
			Status:     StatusCancelled,
			StartedAt:  info.NextProcessAt,
			FinishedAt: time.Now(),
		})
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

func (q *AsynqQueue) SaveStatus(ctx context.Context, status *TaskStatus) error {
	return q.statuses.Save(ctx, status)
}

func priorityQueue(priority int) string {
	switch priority {
	case 1:
		return "critical"
	case 2:
		return "default"
	default:
		return "low"
	}
}

func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStateActive:
		status.Status = StatusRunning
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = StatusCompleted
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
		status.Result = info.Result
	case asynq.TaskStateArchived:
		status.Status = StatusFailed
		status.Error = info.LastErr
		status.FinishedAt = info.LastFailedAt
	case asynq.TaskStateRetry:
		status.Status = StatusPending
		status.Error = info.LastErr
	default:
		status.Status = StatusPending
	}
	return status
}
