// Package domain contains the core business entities and types.
package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the current state of an album job.
type JobStatus string

const (
	JobStatusStarting    JobStatus = "starting"
	JobStatusFetching    JobStatus = "fetching"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusDone        JobStatus = "done"
	JobStatusError       JobStatus = "error"
)

// ErrInvalidTransition is returned when a status change would move a job backwards.
var ErrInvalidTransition = errors.New("invalid job status transition")

var statusOrder = map[JobStatus]int{
	JobStatusStarting:    0,
	JobStatusFetching:    1,
	JobStatusDownloading: 2,
	JobStatusDone:        3,
	JobStatusError:       3,
}

// IsTerminal reports whether the status is done or error.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Counters tracks per-photo progress of the download stage.
type Counters struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
}

// Job is the mutable progress record of one album request.
// Only the worker that owns a job writes to it; readers take snapshots.
type Job struct {
	mu sync.RWMutex

	id         string
	input      string
	album      AlbumReference
	status     JobStatus
	message    string
	counters   Counters
	failedURLs []string
	failedSet  map[string]struct{}

	candidateCount int
	selectedURLs   []string

	bundle      []byte
	bundleName  string
	downloadURL string

	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
}

// NewJob creates a job in the starting state.
func NewJob(id, input string, album AlbumReference, bundleName string) *Job {
	now := time.Now().UTC()
	return &Job{
		id:         id,
		input:      input,
		album:      album,
		status:     JobStatusStarting,
		message:    "Starting...",
		bundleName: bundleName,
		failedSet:  make(map[string]struct{}),
		createdAt:  now,
		updatedAt:  now,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Album returns the album reference the job was created for.
func (j *Job) Album() AlbumReference { return j.album }

// Input returns the original reference string.
func (j *Job) Input() string { return j.input }

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) advance(to JobStatus) error {
	from := j.status
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to != JobStatusError && statusOrder[to] <= statusOrder[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	j.status = to
	j.updatedAt = time.Now().UTC()
	if to.IsTerminal() {
		j.completedAt = &j.updatedAt
	}
	return nil
}

// MarkFetching moves the job into discovery.
func (j *Job) MarkFetching(message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advance(JobStatusFetching); err != nil {
		return err
	}
	j.message = message
	return nil
}

// SetMessage replaces the human-readable progress message.
func (j *Job) SetMessage(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.message = message
	j.updatedAt = time.Now().UTC()
}

// SetDiscovered stores the discovery outcome.
func (j *Job) SetDiscovered(candidateCount int, selected []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.candidateCount = candidateCount
	j.selectedURLs = append([]string(nil), selected...)
}

// MarkDownloading moves the job into the download stage with the given total.
func (j *Job) MarkDownloading(total int, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advance(JobStatusDownloading); err != nil {
		return err
	}
	j.counters = Counters{Total: total}
	j.message = message
	return nil
}

// RecordSuccess counts one archived photo and updates the message atomically with it.
func (j *Job) RecordSuccess(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.counters.Downloaded+j.counters.Failed < j.counters.Total {
		j.counters.Downloaded++
	}
	j.message = message
	j.updatedAt = time.Now().UTC()
}

// RecordFailure counts one photo that exhausted its retries.
func (j *Job) RecordFailure(url, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, seen := j.failedSet[url]; seen {
		return
	}
	if j.counters.Downloaded+j.counters.Failed < j.counters.Total {
		j.counters.Failed++
	}
	j.failedSet[url] = struct{}{}
	j.failedURLs = append(j.failedURLs, url)
	j.message = message
	j.updatedAt = time.Now().UTC()
}

// MarkDone stores the bundle and finishes the job.
func (j *Job) MarkDone(bundle []byte, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advance(JobStatusDone); err != nil {
		return err
	}
	j.bundle = bundle
	j.message = message
	return nil
}

// MarkError finishes the job with a failure message.
func (j *Job) MarkError(message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.advance(JobStatusError); err != nil {
		return err
	}
	j.message = message
	return nil
}

// SetDownloadURL records where a published copy of the bundle can be fetched.
func (j *Job) SetDownloadURL(u string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.downloadURL = u
}

// CanRetryFailed reports whether a retry-only-failed pass is possible.
func (j *Job) CanRetryFailed() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.IsTerminal() && len(j.failedURLs) > 0 && j.bundle != nil
}

// ReopenForRetry moves a terminal job back to downloading for a
// retry-only-failed pass. It returns the previous bundle and failure list.
func (j *Job) ReopenForRetry(message string) (bundle []byte, failed []string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.IsTerminal() {
		return nil, nil, ErrJobInProgress
	}
	if len(j.failedURLs) == 0 || j.bundle == nil {
		return nil, nil, fmt.Errorf("%w: no failure list to retry", ErrInvalidTransition)
	}
	bundle, failed = j.bundle, j.failedURLs
	j.status = JobStatusDownloading
	j.counters = Counters{
		Total:      j.counters.Downloaded + len(failed),
		Downloaded: j.counters.Downloaded,
	}
	j.failedURLs = nil
	j.failedSet = make(map[string]struct{})
	j.message = message
	j.completedAt = nil
	j.updatedAt = time.Now().UTC()
	return bundle, failed, nil
}

// Restart resets a terminal job so the whole pipeline can run again.
func (j *Job) Restart(message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.IsTerminal() {
		return ErrJobInProgress
	}
	j.status = JobStatusStarting
	j.counters = Counters{}
	j.failedURLs = nil
	j.failedSet = make(map[string]struct{})
	j.candidateCount = 0
	j.selectedURLs = nil
	j.bundle = nil
	j.downloadURL = ""
	j.message = message
	j.completedAt = nil
	j.updatedAt = time.Now().UTC()
	return nil
}

// Bundle returns the archive bytes and suggested file name.
func (j *Job) Bundle() ([]byte, string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.bundle == nil {
		return nil, "", ErrBundleNotReady
	}
	return j.bundle, j.bundleName, nil
}

// JobSnapshot is a consistent point-in-time copy of a Job.
type JobSnapshot struct {
	ID             string
	Input          string
	Album          AlbumReference
	Status         JobStatus
	Message        string
	Counters       Counters
	FailedURLs     []string
	CandidateCount int
	SelectedURLs   []string
	BundleName     string
	BundleSize     int
	HasBundle      bool
	DownloadURL    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Snapshot copies every field under one read lock.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := JobSnapshot{
		ID:             j.id,
		Input:          j.input,
		Album:          j.album,
		Status:         j.status,
		Message:        j.message,
		Counters:       j.counters,
		FailedURLs:     append([]string(nil), j.failedURLs...),
		CandidateCount: j.candidateCount,
		SelectedURLs:   append([]string(nil), j.selectedURLs...),
		BundleName:     j.bundleName,
		BundleSize:     len(j.bundle),
		HasBundle:      j.bundle != nil,
		DownloadURL:    j.downloadURL,
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
	}
	if j.completedAt != nil {
		t := *j.completedAt
		s.CompletedAt = &t
	}
	return s
}

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	URL     string `json:"url"`
	ZipName string `json:"zip_name,omitempty"`
}

// JobResponse is returned after a job is created or re-queued.
type JobResponse struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode,omitempty"`
}

// StatusResponse represents the response for a job status check.
type StatusResponse struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message"`
	Downloaded  int        `json:"downloaded"`
	Total       int        `json:"total"`
	Failed      int        `json:"failed"`
	Ready       bool       `json:"ready"`
	FailedURLs  []string   `json:"failed_urls"`
	RawURLs     []string   `json:"raw_urls"`
	DownloadURL string     `json:"download_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HealthResponse represents the response for a health check.
type HealthResponse struct {
	Status    string `json:"status"`
	QueueSize int    `json:"queue_size"`
	Workers   int    `json:"workers"`
	Jobs      int    `json:"jobs"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ToStatusResponse converts a snapshot to the polling payload.
func (s JobSnapshot) ToStatusResponse() *StatusResponse {
	return &StatusResponse{
		ID:          s.ID,
		Status:      s.Status,
		Message:     s.Message,
		Downloaded:  s.Counters.Downloaded,
		Total:       s.Counters.Total,
		Failed:      s.Counters.Failed,
		Ready:       s.Status == JobStatusDone,
		FailedURLs:  s.FailedURLs,
		RawURLs:     s.SelectedURLs,
		DownloadURL: s.DownloadURL,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}
