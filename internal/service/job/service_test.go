package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pipeline"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
	"github.com/feichai0017/searchable-pdf/pkg/storage/local"
)

const samplePDF = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"

type memQueue struct {
	mu       sync.Mutex
	tasks    map[string]*queue.Task
	statuses map[string]*queue.TaskStatus
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: map[string]*queue.Task{}, statuses: map[string]*queue.TaskStatus{}}
}

func (q *memQueue) Enqueue(ctx context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.statuses[task.ID]; ok && !st.Finished() {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateTask, task.ID)
	}
	q.tasks[task.ID] = task
	return nil
}

func (q *memQueue) GetTaskStatus(ctx context.Context, id string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
	}
	cp := *st
	return &cp, nil
}

func (q *memQueue) CancelTask(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[id]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
	}
	st.Status = queue.StatusCancelled
	return nil
}

func (q *memQueue) SaveStatus(ctx context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *status
	q.statuses[status.TaskID] = &cp
	return nil
}

type fakePipeline struct {
	requests []pipeline.Request
	err      error
}

func (p *fakePipeline) Run(ctx context.Context, req pipeline.Request) (*models.RunSummary, error) {
	p.requests = append(p.requests, req)
	doc, _ := models.NewDocument(req.SourcePath)
	return &models.RunSummary{Document: doc, TotalPages: 2, FinalPath: "/final/" + doc.BaseName + "_final.pdf"}, p.err
}

func newService(t *testing.T, defaults *models.Levels) (*Service, *memQueue, *fakePipeline, string) {
	t.Helper()
	dir := t.TempDir()
	inbox, err := local.NewLocalStorage(dir, logger.NewTestLogger())
	require.NoError(t, err)
	results, err := local.NewLocalStorage(filepath.Join(dir, "final"), logger.NewTestLogger())
	require.NoError(t, err)
	q := newMemQueue()
	p := &fakePipeline{}
	svc := NewService(q, p, inbox, results, validator.NewDocumentValidator(logger.NewTestLogger(), nil),
		Config{InputDir: dir, DefaultLevels: defaults}, logger.NewTestLogger())
	return svc, q, p, dir
}

func TestSubmitQueuesDocumentUnderBaseName(t *testing.T) {
	defaults, _ := models.NewLevels(10, 90)
	svc, q, _, dir := newService(t, defaults)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte(samplePDF), 0o644))

	job, err := svc.Submit(context.Background(), SubmitRequest{Document: "report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "report", job.ID)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, defaults, job.Levels, "default levels apply when none are given")

	task := q.tasks["report"]
	require.NotNil(t, task)
	assert.Equal(t, queue.TaskTypePipelineRun, task.Type)
	assert.JSONEq(t, fmt.Sprintf(`{"sourcePath":%q,"levels":{"blackPoint":10,"whitePoint":90}}`, filepath.Join(dir, "report.pdf")), string(task.Payload))

	st, err := q.GetTaskStatus(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, st.Status)
}

func TestSubmitLevelsChoice(t *testing.T) {
	defaults, _ := models.NewLevels(10, 90)
	own, _ := models.NewLevels(5, 95)
	svc, _, _, dir := newService(t, defaults)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte(samplePDF), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte(samplePDF), 0o644))

	job, err := svc.Submit(context.Background(), SubmitRequest{Document: "a.pdf", Levels: own})
	require.NoError(t, err)
	assert.Equal(t, own, job.Levels)

	job, err = svc.Submit(context.Background(), SubmitRequest{Document: "b.pdf", NoLevels: true})
	require.NoError(t, err)
	assert.Nil(t, job.Levels)

	_, err = svc.Submit(context.Background(), SubmitRequest{Document: "a.pdf", NoLevels: true})
	assert.ErrorIs(t, err, queue.ErrDuplicateTask)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	svc, _, _, dir := newService(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.pdf"), []byte("plain text"), 0o644))

	for _, name := range []string{"", "../etc/passwd.pdf", "sub/x.pdf", "notes.txt", "fake.pdf"} {
		_, err := svc.Submit(context.Background(), SubmitRequest{Document: name})
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}

	_, err := svc.Submit(context.Background(), SubmitRequest{Document: "missing.pdf"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.pdf"), []byte(samplePDF), 0o644))
	_, err = svc.Submit(context.Background(), SubmitRequest{Document: "ok.pdf", Levels: &models.Levels{BlackPoint: 90, WhitePoint: 10}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHandleRunsPipelineAndRecordsResult(t *testing.T) {
	svc, q, p, dir := newService(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte(samplePDF), 0o644))
	levels, _ := models.NewLevels(10, 90)
	_, err := svc.Submit(context.Background(), SubmitRequest{Document: "scan.pdf", Levels: levels})
	require.NoError(t, err)

	job, err := svc.Handle(context.Background(), q.tasks["scan"])
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	require.Len(t, p.requests, 1)
	assert.Equal(t, filepath.Join(dir, "scan.pdf"), p.requests[0].SourcePath)
	assert.Equal(t, levels, p.requests[0].Levels)

	got, err := svc.Status(context.Background(), "scan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "scan.pdf", got.Document)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 2, got.Summary.TotalPages)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestHandleRecordsFailure(t *testing.T) {
	svc, q, p, dir := newService(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte(samplePDF), 0o644))
	_, err := svc.Submit(context.Background(), SubmitRequest{Document: "scan.pdf"})
	require.NoError(t, err)

	p.err = &models.ConfigurationError{Language: "fra", ExitCode: 1}
	_, err = svc.Handle(context.Background(), q.tasks["scan"])
	var ce *models.ConfigurationError
	require.True(t, errors.As(err, &ce))

	got, err := svc.Status(context.Background(), "scan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "fra")
}

func TestHandleRejectsBadPayload(t *testing.T) {
	svc, _, p, _ := newService(t, nil)
	_, err := svc.Handle(context.Background(), &queue.Task{ID: "x", Payload: []byte("{")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Handle(context.Background(), &queue.Task{ID: "x", Payload: []byte("{}")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, p.requests)
}

func TestStatusUnknownJob(t *testing.T) {
	svc, _, _, _ := newService(t, nil)
	_, err := svc.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func uploadHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestUploadStoresAndSubmits(t *testing.T) {
	svc, q, _, dir := newService(t, nil)

	job, err := svc.Upload(context.Background(), uploadHeader(t, "ledger.pdf", []byte(samplePDF)), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "ledger", job.ID)
	assert.Contains(t, q.tasks, "ledger")

	raw, err := os.ReadFile(filepath.Join(dir, "ledger.pdf"))
	require.NoError(t, err)
	assert.Equal(t, samplePDF, string(raw))

	_, err = svc.Upload(context.Background(), uploadHeader(t, "bad.pdf", []byte("nope")), nil, true)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, statErr := os.Stat(filepath.Join(dir, "bad.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCancel(t *testing.T) {
	svc, q, _, dir := newService(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte(samplePDF), 0o644))
	_, err := svc.Submit(context.Background(), SubmitRequest{Document: "scan.pdf"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "scan"))
	assert.Equal(t, queue.StatusCancelled, q.statuses["scan"].Status)
	assert.ErrorIs(t, svc.Cancel(context.Background(), "other"), queue.ErrTaskNotFound)
}

func TestDownloadCompletedJob(t *testing.T) {
	svc, q, _, dir := newService(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte(samplePDF), 0o644))
	_, err := svc.Submit(context.Background(), SubmitRequest{Document: "scan.pdf"})
	require.NoError(t, err)

	_, _, err = svc.Download(context.Background(), "scan")
	assert.ErrorIs(t, err, ErrNotReady, "pending job has no document yet")

	_, err = svc.Handle(context.Background(), q.tasks["scan"])
	require.NoError(t, err)

	_, _, err = svc.Download(context.Background(), "scan")
	assert.ErrorIs(t, err, ErrDocumentNotFound, "final document not on disk")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "final", "scan_final.pdf"), []byte("%PDF final"), 0o644))
	rc, name, err := svc.Download(context.Background(), "scan")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "scan_final.pdf", name)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF final", string(body))

	_, _, err = svc.Download(context.Background(), "other")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}
