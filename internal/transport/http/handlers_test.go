package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/gallery-dl-api-go/internal/config"
	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/queue"
	"github.com/emanuelef/gallery-dl-api-go/internal/transport/http/middleware"
)

type fakeJobs struct {
	jobs      map[string]*domain.Job
	submitErr error
	retryMode string
	retryErr  error
}

func (f *fakeJobs) Submit(input, bundleName string) (*domain.Job, error) {
	album, err := domain.ParseAlbumReference(input)
	if err != nil {
		return nil, err
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	job := domain.NewJob(uuid.New().String(), input, album, domain.SanitizeBundleName(bundleName, album))
	f.jobs[job.ID()] = job
	return job, nil
}

func (f *fakeJobs) get(id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Poll(id string) (domain.JobSnapshot, error) {
	job, err := f.get(id)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

func (f *fakeJobs) Retrieve(id string) ([]byte, string, error) {
	job, err := f.get(id)
	if err != nil {
		return nil, "", err
	}
	return job.Bundle()
}

func (f *fakeJobs) Retry(id string) (string, error) {
	if _, err := f.get(id); err != nil {
		return "", err
	}
	return f.retryMode, f.retryErr
}

func (f *fakeJobs) Len() int { return len(f.jobs) }

type fakeQueue struct{}

func (fakeQueue) QueueSize() int   { return 2 }
func (fakeQueue) WorkerCount() int { return 4 }

func newTestRouter(t *testing.T, jobs *fakeJobs) http.Handler {
	t.Helper()
	cfg := &config.Config{
		AllowedOrigins:     []string{"*"},
		RateLimitRPM:       600,
		RateLimitBurst:     100,
		StatusRateLimitRPM: 600,
	}
	limiters := NewRateLimiters(cfg)
	t.Cleanup(limiters.Stop)
	h := NewHandlers(jobs, fakeQueue{}, jobs, middleware.NewSiteValidator([]string{"yupoo.com"}))
	return NewRouter(cfg, h, limiters)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStartAndStatus(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}}
	router := newTestRouter(t, jobs)

	rec := do(t, router, http.MethodPost, "/api/start", `{"url":"https://shop.x.yupoo.com/albums/42?uid=1","zip_name":"Spring"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[domain.JobResponse](t, rec)
	require.NotEmpty(t, resp.JobID)

	rec = do(t, router, http.MethodGet, "/api/status/"+resp.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[domain.StatusResponse](t, rec)
	assert.Equal(t, domain.JobStatusStarting, status.Status)
	assert.False(t, status.Ready)
	assert.Equal(t, "Starting...", status.Message)
}

func TestStartRejectsInvalidLinks(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}}
	router := newTestRouter(t, jobs)

	for _, body := range []string{
		`{"url":"https://shop.x.yupoo.com/categories/3"}`,
		`{"url":"https://example.com/albums/1"}`,
		`{"url":""}`,
	} {
		rec := do(t, router, http.MethodPost, "/api/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "INVALID_URL", decode[domain.ErrorResponse](t, rec).Code)
	}

	rec := do(t, router, http.MethodPost, "/api/start", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", decode[domain.ErrorResponse](t, rec).Code)
	assert.Empty(t, jobs.jobs)
}

func TestStartQueueFull(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}, submitErr: queue.ErrQueueFull}
	router := newTestRouter(t, jobs)

	rec := do(t, router, http.MethodPost, "/api/start", `{"url":"https://shop.x.yupoo.com/albums/42"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "QUEUE_FULL", decode[domain.ErrorResponse](t, rec).Code)
}

func TestStatusErrors(t *testing.T) {
	router := newTestRouter(t, &fakeJobs{jobs: map[string]*domain.Job{}})

	rec := do(t, router, http.MethodGet, "/api/status/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JOB_ID", decode[domain.ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodGet, "/api/status/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[domain.ErrorResponse](t, rec).Code)
}

func newDoneJob(t *testing.T, jobs *fakeJobs, bundle []byte) *domain.Job {
	t.Helper()
	album, err := domain.ParseAlbumReference("https://shop.x.yupoo.com/albums/42")
	require.NoError(t, err)
	job := domain.NewJob(uuid.New().String(), album.Input, album, album.DefaultBundleName())
	require.NoError(t, job.MarkFetching("Fetching..."))
	require.NoError(t, job.MarkDownloading(2, "Found 2 unique photos. Starting download..."))
	job.RecordSuccess("Downloading image 1 of 2...")
	job.RecordFailure("https://photo.yupoo.com/u/2/big.jpg", "Downloading image 2 of 2...")
	require.NoError(t, job.MarkDone(bundle, "Done! Downloaded 1 images, 1 failed."))
	jobs.jobs[job.ID()] = job
	return job
}

func TestDownload(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}}
	router := newTestRouter(t, jobs)
	job := newDoneJob(t, jobs, []byte("PK\x03\x04bundle"))

	rec := do(t, router, http.MethodGet, "/api/download/"+job.ID(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=album_42.zip", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK\x03\x04bundle", rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/status/"+job.ID(), "")
	status := decode[domain.StatusResponse](t, rec)
	assert.True(t, status.Ready)
	assert.Equal(t, 1, status.Downloaded)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, []string{"https://photo.yupoo.com/u/2/big.jpg"}, status.FailedURLs)
	assert.NotNil(t, status.CompletedAt)
}

func TestDownloadNotReady(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}}
	router := newTestRouter(t, jobs)

	rec := do(t, router, http.MethodPost, "/api/start", `{"url":"https://shop.x.yupoo.com/albums/42"}`)
	id := decode[domain.JobResponse](t, rec).JobID

	rec = do(t, router, http.MethodGet, "/api/download/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ZIP_NOT_READY", decode[domain.ErrorResponse](t, rec).Code)
}

func TestRetry(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}, retryMode: "failed_only"}
	router := newTestRouter(t, jobs)
	job := newDoneJob(t, jobs, []byte("PK"))

	rec := do(t, router, http.MethodPost, "/api/retry/"+job.ID(), "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.JobResponse{JobID: job.ID(), Mode: "failed_only"}, decode[domain.JobResponse](t, rec))

	jobs.retryErr = domain.ErrJobInProgress
	rec = do(t, router, http.MethodPost, "/api/retry/"+job.ID(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_IN_PROGRESS", decode[domain.ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPost, "/api/retry/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndFallbacks(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*domain.Job{}}
	router := newTestRouter(t, jobs)
	newDoneJob(t, jobs, []byte("PK"))

	rec := do(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.HealthResponse{Status: "ok", QueueSize: 2, Workers: 4, Jobs: 1}, decode[domain.HealthResponse](t, rec))

	rec = do(t, router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[domain.ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodDelete, "/api/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewServerTimeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	assert.Equal(t, 2*time.Minute, srv.WriteTimeout)
}
