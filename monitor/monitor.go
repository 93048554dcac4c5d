// Package monitor holds the observable aggregate state of the pipeline:
// watcher on/off, detected files, upload attempts, and tracked jobs.
//
// It is the single point through which the watcher, uploader, and pollers
// publish observable changes, and the sole channel through which any
// presentation layer learns of progress. No business logic lives here
// beyond composition.
package monitor

import (
	"sync"
	"time"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/watch"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 16

// UploadState mirrors one upload attempt, keyed by file path.
// At most one upload is ever in flight per path.
type UploadState struct {
	FilePath  string `json:"file_path"`
	JobID     string `json:"job_id,omitempty"`
	Uploading bool   `json:"uploading"`
	LastError string `json:"last_error,omitempty"`
}

// JobState mirrors the server-side job as last observed by its poller.
// Progress and CurrentStep are only trusted while Status is processing.
type JobState struct {
	JobID        string     `json:"job_id"`
	FileName     string     `json:"file_name"`
	FilePath     string     `json:"file_path"`
	Status       api.Status `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"current_step,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	Retrying     bool       `json:"retrying"`
	Final        bool       `json:"final"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Snapshot is an immutable copy of the aggregate state. Readers never see
// a torn intermediate state: every snapshot is taken under the monitor's
// lock and deep-copied before release.
type Snapshot struct {
	IsMonitoring  bool                   `json:"is_monitoring"`
	Root          string                 `json:"root,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	DetectedFiles []watch.DetectedFile   `json:"detected_files"`
	Uploads       map[string]UploadState `json:"uploads"`
	Jobs          map[string]JobState    `json:"jobs"`
}

// Monitor is the synchronized aggregate. All mutations pass through its
// mutex; subscribers receive a fresh snapshot after every change.
type Monitor struct {
	mu            sync.RWMutex
	isMonitoring  bool
	root          string
	sessionID     string
	detectedFiles []watch.DetectedFile
	uploads       map[string]UploadState
	jobs          map[string]JobState
	subscribers   []chan Snapshot
}

// New creates an empty monitor
func New() *Monitor {
	return &Monitor{
		uploads:     make(map[string]UploadState),
		jobs:        make(map[string]JobState),
		subscribers: make([]chan Snapshot, 0),
	}
}

// StartSession marks monitoring as active and clears per-session state
func (m *Monitor) StartSession(root, sessionID string) {
	m.mu.Lock()
	m.isMonitoring = true
	m.root = root
	m.sessionID = sessionID
	m.detectedFiles = nil
	m.uploads = make(map[string]UploadState)
	m.jobs = make(map[string]JobState)
	m.notifyLocked()
	m.mu.Unlock()
}

// StopSession marks monitoring as stopped. Detected files and jobs are
// cleared; a fresh session starts empty.
func (m *Monitor) StopSession() {
	m.mu.Lock()
	m.isMonitoring = false
	m.root = ""
	m.sessionID = ""
	m.detectedFiles = nil
	m.uploads = make(map[string]UploadState)
	m.jobs = make(map[string]JobState)
	m.notifyLocked()
	m.mu.Unlock()
}

// AddDetectedFile appends a detected file to the session's append-only list
func (m *Monitor) AddDetectedFile(f watch.DetectedFile) {
	m.mu.Lock()
	m.detectedFiles = append(m.detectedFiles, f)
	m.notifyLocked()
	m.mu.Unlock()
}

// SetUploadStarted records an upload attempt beginning for a path
func (m *Monitor) SetUploadStarted(filePath string) {
	m.mu.Lock()
	m.uploads[filePath] = UploadState{FilePath: filePath, Uploading: true}
	m.notifyLocked()
	m.mu.Unlock()
}

// SetUploadSucceeded records a completed upload and its assigned job id
func (m *Monitor) SetUploadSucceeded(filePath, jobID string) {
	m.mu.Lock()
	m.uploads[filePath] = UploadState{FilePath: filePath, JobID: jobID, Uploading: false}
	m.notifyLocked()
	m.mu.Unlock()
}

// SetUploadFailed records a failed upload. The entry is kept so repeat
// detections of the same path stay ignored until a manual re-trigger.
func (m *Monitor) SetUploadFailed(filePath string, err error) {
	m.mu.Lock()
	m.uploads[filePath] = UploadState{FilePath: filePath, Uploading: false, LastError: err.Error()}
	m.notifyLocked()
	m.mu.Unlock()
}

// UpdateJob publishes the latest observed state for a tracked job
func (m *Monitor) UpdateJob(job JobState) {
	m.mu.Lock()
	job.UpdatedAt = time.Now()
	m.jobs[job.JobID] = job
	m.notifyLocked()
	m.mu.Unlock()
}

// RemoveJob drops a job from the aggregate (dismiss)
func (m *Monitor) RemoveJob(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.notifyLocked()
	m.mu.Unlock()
}

// GetJob returns the last published state for a job
func (m *Monitor) GetJob(jobID string) (JobState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// GetUpload returns the upload state for a path
func (m *Monitor) GetUpload(filePath string) (UploadState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[filePath]
	return u, ok
}

// Snapshot returns a deep copy of the current aggregate state
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// snapshotLocked builds a deep copy.
// REQUIRES: m.mu held by caller (read or write).
func (m *Monitor) snapshotLocked() Snapshot {
	files := make([]watch.DetectedFile, len(m.detectedFiles))
	copy(files, m.detectedFiles)

	uploads := make(map[string]UploadState, len(m.uploads))
	for k, v := range m.uploads {
		uploads[k] = v
	}

	jobs := make(map[string]JobState, len(m.jobs))
	for k, v := range m.jobs {
		jobs[k] = v
	}

	return Snapshot{
		IsMonitoring:  m.isMonitoring,
		Root:          m.root,
		SessionID:     m.sessionID,
		DetectedFiles: files,
		Uploads:       uploads,
		Jobs:          jobs,
	}
}

// Subscribe returns a channel that receives a snapshot after every change.
// The caller is responsible for calling Unsubscribe when done. The channel
// is buffered to avoid blocking publishers; slow subscribers miss updates
// rather than stall the pipeline.
func (m *Monitor) Subscribe() chan Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, SubscriberChannelBufferSize)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed by
// this method - callers close it themselves after unsubscribing if needed.
func (m *Monitor) Unsubscribe(ch chan Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// notifyLocked sends the current snapshot to all subscribers.
// REQUIRES: m.mu held by caller. Non-blocking send: a full channel skips.
func (m *Monitor) notifyLocked() {
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
