package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/searchable-pdf/api/handlers"
	"github.com/feichai0017/searchable-pdf/api/routes"
	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/service/job"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
)

type stubService struct {
	submitted []job.SubmitRequest
	uploaded  []string
	err       error
	jobs      map[string]*models.Job
}

func (s *stubService) Submit(ctx context.Context, req job.SubmitRequest) (*models.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = append(s.submitted, req)
	return &models.Job{ID: strings.TrimSuffix(req.Document, ".pdf"), Status: models.StatusPending, Document: req.Document, Levels: req.Levels}, nil
}

func (s *stubService) Upload(ctx context.Context, header *multipart.FileHeader, levels *models.Levels, noLevels bool) (*models.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.uploaded = append(s.uploaded, header.Filename)
	return &models.Job{ID: strings.TrimSuffix(header.Filename, ".pdf"), Status: models.StatusPending, Levels: levels}, nil
}

func (s *stubService) Status(ctx context.Context, id string) (*models.Job, error) {
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
}

func (s *stubService) Cancel(ctx context.Context, id string) error {
	if _, ok := s.jobs[id]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
}

func (s *stubService) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
	}
	if j.Status != models.StatusCompleted {
		return nil, "", fmt.Errorf("%w: %s", job.ErrNotReady, id)
	}
	return io.NopCloser(strings.NewReader("%PDF final")), id + "_final.pdf", nil
}

func newRouter(svc handlers.JobService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	routes.SetupRoutes(r, handlers.NewHandlers(svc, 1<<20, logger.NewTestLogger()), nil)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(newRouter(&stubService{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSubmitJob(t *testing.T) {
	svc := &stubService{}
	body := `{"document":"scan.pdf","levels":"10,90"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := do(newRouter(svc), req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var got models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "scan", got.ID)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, &models.Levels{BlackPoint: 10, WhitePoint: 90}, svc.submitted[0].Levels)
}

func TestSubmitJobBadRequests(t *testing.T) {
	r := newRouter(&stubService{})
	for _, body := range []string{`{}`, `{"document":"a.pdf","levels":"90,10"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, do(r, req).Code, body)
	}
}

func TestSubmitJobErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: nope", job.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: a.pdf", job.ErrDocumentNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: a", queue.ErrDuplicateTask), http.StatusConflict},
		{fmt.Errorf("redis down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"document":"a.pdf"}`))
		req.Header.Set("Content-Type", "application/json")
		w := do(newRouter(&stubService{err: tt.err}), req)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())

		var resp handlers.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.err.Error(), resp.Error)
	}
}

func TestUploadJob(t *testing.T) {
	svc := &stubService{}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "ledger.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("levels", "5%,95%"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(newRouter(svc), req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"ledger.pdf"}, svc.uploaded)

	var got models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, &models.Levels{BlackPoint: 5, WhitePoint: 95}, got.Levels)
}

func TestUploadWithoutFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, do(newRouter(&stubService{}), req).Code)
}

func TestStatusAndCancel(t *testing.T) {
	svc := &stubService{jobs: map[string]*models.Job{
		"scan": {ID: "scan", Status: models.StatusCompleted, Summary: &models.RunSummary{TotalPages: 3}},
	}}
	r := newRouter(svc)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/scan", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Summary.TotalPages)

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/other", nil)).Code)
	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/scan", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/other", nil)).Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "http://client.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := do(newRouter(&stubService{}), req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDownloadStreamsFinalDocument(t *testing.T) {
	svc := &stubService{jobs: map[string]*models.Job{
		"scan": {ID: "scan", Status: models.StatusCompleted},
		"slow": {ID: "slow", Status: models.StatusRunning},
	}}
	r := newRouter(svc)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/scan/document", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="scan_final.pdf"`)
	assert.Equal(t, "%PDF final", w.Body.String())

	assert.Equal(t, http.StatusConflict, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/slow/document", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/other/document", nil)).Code)
}
