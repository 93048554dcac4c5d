// Package track follows server-side processing jobs to completion.
//
// Each tracked job gets its own poller goroutine that queries the job API
// on a fixed interval. A job reporting failed status is re-polled up to a
// bounded number of times with linearly growing delays; once the budget is
// spent the failure is final until the user asks for a manual retry.
package track

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/monitor"
	"github.com/soundpost/soundpost/watch"
)

// StatusQuerier is the slice of the API client the tracker needs
type StatusQuerier interface {
	JobStatus(ctx context.Context, jobID string) (*api.JobStatusResponse, error)
}

// Tracker owns one poller per tracked job
type Tracker struct {
	client StatusQuerier
	mon    *monitor.Monitor
	store  *Store // nil disables persistence
	cfg    *config.TrackConfig
	log    *zap.SugaredLogger

	mu      sync.Mutex
	pollers map[string]*poller
	wg      sync.WaitGroup
}

// poller is the per-job state owned by one polling goroutine
type poller struct {
	jobID       string
	file        watch.DetectedFile
	cancel      context.CancelFunc
	manualRetry chan struct{}
	retryCount  int
}

// NewTracker creates a job tracker. store may be nil to disable history
// persistence (the in-memory monitor still receives every update).
func NewTracker(client StatusQuerier, mon *monitor.Monitor, store *Store, cfg *config.TrackConfig, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		client:  client,
		mon:     mon,
		store:   store,
		cfg:     cfg,
		log:     log,
		pollers: make(map[string]*poller),
	}
}

// Track starts polling a freshly uploaded job. Tracking the same job id
// twice is a no-op.
func (t *Tracker) Track(ctx context.Context, file watch.DetectedFile, jobID string) {
	t.mu.Lock()
	if _, exists := t.pollers[jobID]; exists {
		t.mu.Unlock()
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	p := &poller{
		jobID:       jobID,
		file:        file,
		cancel:      cancel,
		manualRetry: make(chan struct{}, 1),
	}
	t.pollers[jobID] = p
	t.mu.Unlock()

	t.persistNew(p)
	t.publish(p, api.StatusQueued, 0, "", "", false, false)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		t.poll(jobCtx, p)

		// The poller exited for good; drop it so Retry/Dismiss report
		// the job as no longer tracked
		t.mu.Lock()
		if current, ok := t.pollers[jobID]; ok && current == p {
			delete(t.pollers, jobID)
		}
		t.mu.Unlock()
	}()
}

// Retry asks a job's poller to re-poll immediately with a reset retry
// budget. It is the only way out of a final failure.
func (t *Tracker) Retry(jobID string) error {
	t.mu.Lock()
	p, exists := t.pollers[jobID]
	t.mu.Unlock()
	if !exists {
		return errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}

	select {
	case p.manualRetry <- struct{}{}:
	default:
		// A retry is already pending; one is enough
	}
	return nil
}

// Dismiss stops tracking a job and removes it everywhere: the poller is
// cancelled, the monitor entry dropped, and the history record deleted.
func (t *Tracker) Dismiss(jobID string) error {
	t.mu.Lock()
	p, exists := t.pollers[jobID]
	if exists {
		delete(t.pollers, jobID)
	}
	t.mu.Unlock()

	if exists {
		p.cancel()
	}

	t.mon.RemoveJob(jobID)

	removedHistory := false
	if t.store != nil {
		switch err := t.store.DeleteRecord(jobID); {
		case err == nil:
			removedHistory = true
		case !errors.Is(err, errors.ErrJobNotFound):
			return errors.Wrap(err, "failed to remove job history")
		}
	}

	if !exists && !removedHistory {
		return errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}
	return nil
}

// Close cancels every poller and waits for them to exit
func (t *Tracker) Close() {
	t.mu.Lock()
	for id, p := range t.pollers {
		p.cancel()
		delete(t.pollers, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// poll is the per-job loop. It queries immediately on entry, then on every
// poll interval, and returns once the job reaches a terminal state that is
// not awaiting a retry.
func (t *Tracker) poll(ctx context.Context, p *poller) {
	for {
		status, err := t.client.JobStatus(ctx, p.jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errors.ErrJobNotFound) {
				// The server no longer knows this job. Polling again
				// cannot help, so surface it as a final failure.
				t.log.Warnw("Tracked job vanished from server", "job_id", p.jobID)
				t.publish(p, api.StatusFailed, 0, "", "job no longer exists on server", false, true)
				if !t.awaitManualRetry(ctx, p) {
					return
				}
				continue
			}

			// Transport errors are inconclusive: the job may be fine.
			// Keep the last published state and try again next tick.
			t.log.Warnw("Status poll failed, will retry next interval",
				"job_id", p.jobID,
				"error", err)
			if !t.sleep(ctx, p, t.cfg.PollInterval()) {
				return
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}

		switch {
		case status.Status == api.StatusCompleted:
			p.retryCount = 0
			t.publish(p, api.StatusCompleted, 100, "", "", false, true)
			t.log.Infow("Job completed",
				"job_id", p.jobID,
				"file", p.file.FileName)
			return

		case status.Status == api.StatusFailed:
			errMsg := ""
			if status.ErrorMessage != nil {
				errMsg = *status.ErrorMessage
			}

			if p.retryCount < t.cfg.MaxRetries {
				p.retryCount++
				delay := time.Duration(p.retryCount) * t.cfg.BackoffBase()
				t.publish(p, api.StatusFailed, 0, "", errMsg, true, false)
				t.log.Warnw("Job failed, retrying",
					"job_id", p.jobID,
					"attempt", p.retryCount,
					"max_retries", t.cfg.MaxRetries,
					"delay", delay)
				if !t.sleep(ctx, p, delay) {
					return
				}
				continue
			}

			t.publish(p, api.StatusFailed, 0, "", errMsg, false, true)
			t.log.Errorw("Job failed permanently",
				"job_id", p.jobID,
				"file", p.file.FileName,
				"error", errMsg)
			if !t.awaitManualRetry(ctx, p) {
				return
			}
			continue

		default:
			// queued or processing: publish the observed progress and
			// keep polling
			step := ""
			if status.CurrentStep != nil {
				step = *status.CurrentStep
			}
			t.publish(p, status.Status, status.Progress, step, "", false, false)
			if !t.sleep(ctx, p, t.cfg.PollInterval()) {
				return
			}
		}
	}
}

// sleep waits for d, a manual retry, or cancellation. Returns false when
// the poller should exit. A manual retry during the wait resets the retry
// budget and triggers an immediate re-poll.
func (t *Tracker) sleep(ctx context.Context, p *poller, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-p.manualRetry:
		p.retryCount = 0
		return true
	case <-timer.C:
		return true
	}
}

// awaitManualRetry blocks in the final-failure state until the user asks
// for a retry or the poller is cancelled. Returns false to exit.
func (t *Tracker) awaitManualRetry(ctx context.Context, p *poller) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.manualRetry:
		p.retryCount = 0
		t.log.Infow("Manual retry requested", "job_id", p.jobID)
		return true
	}
}

// publish pushes the latest observed state to the monitor and, when
// persistence is enabled, to the history store. A poller that has been
// dismissed while a query was in flight may still try to report that
// result; dropping it here keeps RemoveJob final.
func (t *Tracker) publish(p *poller, status api.Status, progress int, step, errMsg string, retrying, final bool) {
	t.mu.Lock()
	current, tracked := t.pollers[p.jobID]
	t.mu.Unlock()
	if !tracked || current != p {
		return
	}

	t.mon.UpdateJob(monitor.JobState{
		JobID:        p.jobID,
		FileName:     p.file.FileName,
		FilePath:     p.file.FilePath,
		Status:       status,
		Progress:     progress,
		CurrentStep:  step,
		ErrorMessage: errMsg,
		RetryCount:   p.retryCount,
		Retrying:     retrying,
		Final:        final,
	})

	if t.store == nil {
		return
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if final {
		completedAt = &now
	}
	err := t.store.UpdateRecord(&Record{
		JobID:        p.jobID,
		Status:       status,
		Progress:     progress,
		CurrentStep:  step,
		ErrorMessage: errMsg,
		RetryCount:   p.retryCount,
		CompletedAt:  completedAt,
		UpdatedAt:    now,
	})
	if err != nil {
		t.log.Warnw("Failed to persist job state",
			"job_id", p.jobID,
			"error", err)
	}
}

// persistNew writes the initial history record for a newly tracked job
func (t *Tracker) persistNew(p *poller) {
	if t.store == nil {
		return
	}

	now := time.Now().UTC()
	err := t.store.CreateRecord(&Record{
		JobID:      p.jobID,
		SessionID:  p.file.SessionID,
		FileName:   p.file.FileName,
		FilePath:   p.file.FilePath,
		FileSize:   p.file.FileSize,
		Status:     api.StatusQueued,
		DetectedAt: p.file.DetectedAt,
		UploadedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.log.Warnw("Failed to persist new job",
			"job_id", p.jobID,
			"error", err)
	}
}
