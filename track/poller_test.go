package track

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
	qtesting "github.com/soundpost/soundpost/internal/testing"
	"github.com/soundpost/soundpost/internal/util"
	"github.com/soundpost/soundpost/monitor"
	"github.com/soundpost/soundpost/watch"
)

// scriptedQuerier returns a scripted sequence of responses; once the
// script runs out it keeps returning the last entry
type scriptedQuerier struct {
	mu     sync.Mutex
	script []queryResult
	calls  int
}

type queryResult struct {
	status *api.JobStatusResponse
	err    error
}

func statusOf(s api.Status, progress int, step, errMsg string) *api.JobStatusResponse {
	resp := &api.JobStatusResponse{JobID: "j1", Status: s, Progress: progress}
	if step != "" {
		resp.CurrentStep = util.Ptr(step)
	}
	if errMsg != "" {
		resp.ErrorMessage = util.Ptr(errMsg)
	}
	return resp
}

func (q *scriptedQuerier) JobStatus(_ context.Context, _ string) (*api.JobStatusResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.calls
	if i >= len(q.script) {
		i = len(q.script) - 1
	}
	q.calls++
	r := q.script[i]
	return r.status, r.err
}

func (q *scriptedQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func fastConfig() *config.TrackConfig {
	return &config.TrackConfig{
		PollIntervalMs: 5,
		MaxRetries:     3,
		BackoffBaseMs:  5,
	}
}

func trackedFile() watch.DetectedFile {
	return watch.DetectedFile{
		FileName:   "voice.m4a",
		FilePath:   "/recordings/voice.m4a",
		FileSize:   2048,
		DetectedAt: time.Now().UTC(),
		SessionID:  "session-1",
	}
}

// awaitJob polls the monitor until cond holds or the deadline passes
func awaitJob(t *testing.T, mon *monitor.Monitor, jobID string, cond func(monitor.JobState) bool) monitor.JobState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := mon.GetJob(jobID); ok && cond(job) {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := mon.GetJob(jobID)
	t.Fatalf("job never reached expected state, last: %+v", job)
	return monitor.JobState{}
}

func TestPollerFollowsJobToCompletion(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusQueued, 0, "", "")},
		{status: statusOf(api.StatusProcessing, 40, "diarization", "")},
		{status: statusOf(api.StatusProcessing, 80, "summary", "")},
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })
	assert.Equal(t, api.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.ErrorMessage)
}

func TestPollerPublishesIntermediateProgress(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusProcessing, 40, "diarization", "")},
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	awaitJob(t, mon, "j1", func(j monitor.JobState) bool {
		return j.Status == api.StatusProcessing && j.Progress == 40 && j.CurrentStep == "diarization"
	})
}

func TestTransportErrorsAreInconclusive(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	// Despite two transport failures the poller reaches the terminal state
	// without consuming any retry budget
	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })
	assert.Equal(t, api.StatusCompleted, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestFailedJobIsRetriedWithinBudget(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusFailed, 0, "", "transcription crashed")},
		{status: statusOf(api.StatusFailed, 0, "", "transcription crashed")},
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })
	assert.Equal(t, api.StatusCompleted, job.Status)
	assert.GreaterOrEqual(t, q.callCount(), 3)
}

func TestRetryBudgetExhaustionIsFinal(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusFailed, 0, "", "transcription crashed")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })
	assert.Equal(t, api.StatusFailed, job.Status)
	assert.Equal(t, "transcription crashed", job.ErrorMessage)
	assert.False(t, job.Retrying)

	// 1 initial poll + 3 retries, then the poller parks
	calls := q.callCount()
	assert.Equal(t, 4, calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, q.callCount())
}

// timestampingQuerier records when each status query arrives
type timestampingQuerier struct {
	mu    sync.Mutex
	times []time.Time
	resp  *api.JobStatusResponse
}

func (q *timestampingQuerier) JobStatus(_ context.Context, _ string) (*api.JobStatusResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.times = append(q.times, time.Now())
	return q.resp, nil
}

func (q *timestampingQuerier) timestamps() []time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Time(nil), q.times...)
}

func TestRetryDelaysGrowWithAttemptNumber(t *testing.T) {
	base := 30 * time.Millisecond
	q := &timestampingQuerier{resp: statusOf(api.StatusFailed, 0, "", "transcription crashed")}
	mon := monitor.New()
	cfg := &config.TrackConfig{
		PollIntervalMs: 5,
		MaxRetries:     3,
		BackoffBaseMs:  int(base / time.Millisecond),
	}
	tr := NewTracker(q, mon, nil, cfg, zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })

	// Initial poll plus three automatic retries, spaced 1x, 2x, 3x the
	// backoff base. Timers never fire early, so each gap is a hard floor.
	times := q.timestamps()
	require.Len(t, times, 4)
	for n := 1; n < len(times); n++ {
		gap := times[n].Sub(times[n-1])
		assert.GreaterOrEqual(t, gap, time.Duration(n)*base,
			"retry %d fired before its scheduled delay", n)
	}
}

func TestManualRetryRevivesFinalFailure(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusFailed, 0, "", "crashed")},
		{status: statusOf(api.StatusFailed, 0, "", "crashed")},
		{status: statusOf(api.StatusFailed, 0, "", "crashed")},
		{status: statusOf(api.StatusFailed, 0, "", "crashed")},
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	awaitJob(t, mon, "j1", func(j monitor.JobState) bool {
		return j.Final && j.Status == api.StatusFailed
	})

	require.NoError(t, tr.Retry("j1"))

	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool {
		return j.Final && j.Status == api.StatusCompleted
	})
	assert.Equal(t, 0, job.RetryCount)
}

func TestRetryUnknownJob(t *testing.T) {
	tr := NewTracker(&scriptedQuerier{script: []queryResult{{err: errors.New("unused")}}},
		monitor.New(), nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	err := tr.Retry("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestDismissStopsPollingAndRemovesState(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusProcessing, 10, "transcription", "")},
	}}
	mon := monitor.New()
	store := NewStore(qtesting.CreateTestDB(t))
	tr := NewTracker(q, mon, store, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")
	awaitJob(t, mon, "j1", func(j monitor.JobState) bool {
		return j.Status == api.StatusProcessing
	})

	require.NoError(t, tr.Dismiss("j1"))

	_, ok := mon.GetJob("j1")
	assert.False(t, ok)
	_, err := store.GetRecord("j1")
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))

	calls := q.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, q.callCount(), calls+1)
}

func TestPublishAfterDismissDoesNotResurrectJob(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusProcessing, 10, "transcription", "")},
	}}
	mon := monitor.New()
	store := NewStore(qtesting.CreateTestDB(t))
	tr := NewTracker(q, mon, store, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")
	awaitJob(t, mon, "j1", func(j monitor.JobState) bool {
		return j.Status == api.StatusProcessing
	})

	tr.mu.Lock()
	p := tr.pollers["j1"]
	tr.mu.Unlock()
	require.NotNil(t, p)

	require.NoError(t, tr.Dismiss("j1"))

	// A status query that was already in flight when Dismiss ran reports
	// its result afterwards; it must not re-create monitor or history state
	tr.publish(p, api.StatusProcessing, 20, "summary", "", false, false)

	_, ok := mon.GetJob("j1")
	assert.False(t, ok)
	_, err := store.GetRecord("j1")
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestDismissUnknownJob(t *testing.T) {
	tr := NewTracker(&scriptedQuerier{script: []queryResult{{err: errors.New("unused")}}},
		monitor.New(), nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	err := tr.Dismiss("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestVanishedJobBecomesFinalFailure(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{err: errors.Wrapf(errors.ErrJobNotFound, "j1")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")

	job := awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })
	assert.Equal(t, api.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no longer exists")
}

func TestTrackingPersistsHistory(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusCompleted, 100, "", "")},
	}}
	mon := monitor.New()
	store := NewStore(qtesting.CreateTestDB(t))
	tr := NewTracker(q, mon, store, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	tr.Track(context.Background(), trackedFile(), "j1")
	awaitJob(t, mon, "j1", func(j monitor.JobState) bool { return j.Final })

	r, err := store.GetRecord("j1")
	require.NoError(t, err)
	assert.Equal(t, "voice.m4a", r.FileName)
	assert.Equal(t, api.StatusCompleted, r.Status)
	require.NotNil(t, r.CompletedAt)
}

func TestTrackingSameJobTwiceIsANoOp(t *testing.T) {
	q := &scriptedQuerier{script: []queryResult{
		{status: statusOf(api.StatusProcessing, 10, "", "")},
	}}
	mon := monitor.New()
	tr := NewTracker(q, mon, nil, fastConfig(), zap.NewNop().Sugar())
	defer tr.Close()

	ctx := context.Background()
	tr.Track(ctx, trackedFile(), "j1")
	tr.Track(ctx, trackedFile(), "j1")

	tr.mu.Lock()
	count := len(tr.pollers)
	tr.mu.Unlock()
	assert.Equal(t, 1, count)
}
