// Package upload turns detected recordings into remote processing jobs.
package upload

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/monitor"
	"github.com/soundpost/soundpost/watch"
)

// Uploader is the slice of the API client the coordinator needs
type Uploader interface {
	Upload(ctx context.Context, filePath string) (*api.UploadResponse, error)
}

// Handoff pairs an uploaded file with the job the server created for it.
// Exactly one handoff is produced per successful upload.
type Handoff struct {
	File  watch.DetectedFile
	JobID string
}

// entry tracks one upload attempt per file path. Its existence is what
// makes repeat detections of the same path no-ops.
type entry struct {
	file      watch.DetectedFile
	uploading bool
	jobID     string
	lastErr   error
}

// Coordinator consumes DetectedFile events and uploads each file in its
// own goroutine. At most one upload is ever in flight per file path, and
// failed uploads are never retried automatically; re-uploading a large
// recording on a transient blip is not assumed safe, so retry is an
// explicit user action (RetryUpload).
type Coordinator struct {
	client Uploader
	mon    *monitor.Monitor
	out    chan Handoff
	log    *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry // keyed by file path
	wg      sync.WaitGroup
}

// NewCoordinator creates an upload coordinator
func NewCoordinator(client Uploader, mon *monitor.Monitor, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		client:  client,
		mon:     mon,
		out:     make(chan Handoff, 16),
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Handoffs returns the channel carrying successful (file, jobID) pairings
func (c *Coordinator) Handoffs() <-chan Handoff {
	return c.out
}

// Run consumes detected-file events until ctx is cancelled, then waits for
// in-flight uploads to finish
func (c *Coordinator) Run(ctx context.Context, events <-chan watch.DetectedFile) {
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case f := <-events:
			c.Enqueue(ctx, f)
		}
	}
}

// Enqueue starts an upload for a detected file. A second detection of a
// path that already has an entry (uploading, failed, or done) is ignored.
func (c *Coordinator) Enqueue(ctx context.Context, f watch.DetectedFile) {
	c.mu.Lock()
	if _, exists := c.entries[f.FilePath]; exists {
		c.mu.Unlock()
		c.log.Debugw("Ignoring repeat detection, upload already exists",
			"file", f.FileName)
		return
	}
	e := &entry{file: f, uploading: true}
	c.entries[f.FilePath] = e
	c.mu.Unlock()

	c.mon.SetUploadStarted(f.FilePath)

	c.wg.Add(1)
	go c.upload(ctx, e)
}

// RetryUpload re-attempts a previously failed upload for filePath.
// Errors if no failed entry exists or an upload is already in flight.
func (c *Coordinator) RetryUpload(ctx context.Context, filePath string) error {
	c.mu.Lock()
	e, exists := c.entries[filePath]
	if !exists {
		c.mu.Unlock()
		return errors.Newf("no upload recorded for %s", filePath)
	}
	if e.uploading {
		c.mu.Unlock()
		return errors.Newf("upload already in flight for %s", filePath)
	}
	if e.jobID != "" {
		c.mu.Unlock()
		return errors.Newf("upload already succeeded for %s (job %s)", filePath, e.jobID)
	}
	e.uploading = true
	e.lastErr = nil
	c.mu.Unlock()

	c.mon.SetUploadStarted(filePath)

	c.wg.Add(1)
	go c.upload(ctx, e)
	return nil
}

// upload performs one multipart upload attempt and publishes the outcome
func (c *Coordinator) upload(ctx context.Context, e *entry) {
	defer c.wg.Done()

	resp, err := c.client.Upload(ctx, e.file.FilePath)
	if err != nil {
		c.mu.Lock()
		e.uploading = false
		e.lastErr = err
		c.mu.Unlock()

		c.mon.SetUploadFailed(e.file.FilePath, err)
		c.log.Errorw("Upload failed",
			"file", e.file.FileName,
			"error", err)
		return
	}

	c.mu.Lock()
	e.uploading = false
	e.jobID = resp.JobID
	c.mu.Unlock()

	c.mon.SetUploadSucceeded(e.file.FilePath, resp.JobID)
	c.log.Infow("Upload complete, tracking job",
		"file", e.file.FileName,
		"job_id", resp.JobID)

	select {
	case c.out <- Handoff{File: e.file, JobID: resp.JobID}:
	case <-ctx.Done():
	}
}

// Reset drops all per-path entries. Called between watch sessions.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}
