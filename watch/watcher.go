package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
)

// Watcher subscribes to filesystem create events under a root directory and
// emits exactly one DetectedFile per stable recording per watch session.
//
// Every candidate path gets its own stability-wait goroutine so a file that
// is still being written never blocks detection of the next one.
type Watcher struct {
	cfg      *config.WatchConfig
	detector *Detector
	events   chan DetectedFile
	log      *zap.SugaredLogger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	watching  bool
	sessionID string
	pending   map[string]struct{} // paths mid-stability-wait (coalesces duplicate creates)
	emitted   map[string]struct{} // paths already emitted this session
}

// NewWatcher creates a directory watcher. Start must be called before any
// events are produced.
func NewWatcher(cfg *config.WatchConfig, log *zap.SugaredLogger) *Watcher {
	buffer := cfg.PendingChannelBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Watcher{
		cfg:      cfg,
		detector: NewDetector(cfg),
		events:   make(chan DetectedFile, buffer),
		log:      log,
	}
}

// Events returns the channel on which DetectedFile events are delivered.
// The channel is never closed; consumers stop via their own context.
func (w *Watcher) Events() <-chan DetectedFile {
	return w.events
}

// SessionID returns the identifier of the current watch session, or empty
// when not watching.
func (w *Watcher) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Start subscribes to create events under root. Returns
// errors.ErrDirectoryNotFound (monitoring state unchanged) when root does
// not exist or is not a directory.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return errors.ErrAlreadyWatching
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return errors.Wrapf(errors.ErrDirectoryNotFound, "%s", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return errors.Wrapf(err, "failed to watch %s", root)
	}

	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.sessionID = uuid.NewString()
	w.pending = make(map[string]struct{})
	w.emitted = make(map[string]struct{})
	w.watching = true

	w.wg.Add(1)
	go w.watchLoop(fsw)

	w.log.Infow("Watching directory",
		"root", root,
		"session_id", w.sessionID)
	return nil
}

// Stop cancels all in-flight stability waits and releases the filesystem
// subscription. Idempotent and safe to call when not watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return
	}
	w.watching = false
	w.sessionID = ""
	cancel := w.cancel
	fsw := w.fsw
	w.mu.Unlock()

	cancel()
	fsw.Close()
	w.wg.Wait()

	w.log.Infow("Stopped watching")
}

// watchLoop consumes fsnotify events until the subscription closes
func (w *Watcher) watchLoop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				w.handleCreate(event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Watcher error", "error", err)
		}
	}
}

// handleCreate filters a created path and, if it is a fresh candidate,
// launches its stability wait. Duplicate creates for a path that is still
// pending or was already emitted this session are coalesced.
func (w *Watcher) handleCreate(path string) {
	if !IsCandidate(path) {
		w.log.Debugw("Ignoring non-candidate path", "path", path)
		return
	}

	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return
	}
	if _, inFlight := w.pending[path]; inFlight {
		w.mu.Unlock()
		w.log.Debugw("Coalescing duplicate create", "path", path)
		return
	}
	if _, done := w.emitted[path]; done {
		w.mu.Unlock()
		w.log.Debugw("Already emitted this session", "path", path)
		return
	}
	w.pending[path] = struct{}{}
	ctx := w.ctx
	sessionID := w.sessionID
	w.mu.Unlock()

	w.wg.Add(1)
	go w.awaitAndEmit(ctx, path, sessionID)
}

// awaitAndEmit runs the stability wait for one path and emits its
// DetectedFile on success.
func (w *Watcher) awaitAndEmit(ctx context.Context, path, sessionID string) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	}()

	size, err := w.detector.AwaitStable(ctx, path)
	if err != nil {
		switch {
		case errors.IsVanished(err):
			// Writer aborted or moved the file; drop silently
			w.log.Debugw("File vanished during stability wait", "path", path)
		case errors.IsUnstable(err):
			w.log.Warnw("File never stabilized, abandoning",
				"path", path,
				"max_attempts", w.detector.maxAttempts)
		case errors.Is(err, context.Canceled):
			// Stop() raced the wait; nothing to emit
		default:
			w.log.Warnw("Stability wait failed", "path", path, "error", err)
		}
		return
	}

	file := DetectedFile{
		FileName:   filepath.Base(path),
		FilePath:   path,
		FileSize:   size,
		DetectedAt: time.Now(),
		SessionID:  sessionID,
	}

	w.mu.Lock()
	if !w.watching || w.sessionID != sessionID {
		// Session ended while waiting; the event belongs to a dead session
		w.mu.Unlock()
		return
	}
	w.emitted[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.events <- file:
		w.log.Infow("Detected stable recording",
			"file", file.FileName,
			"size", file.FileSize)
	case <-ctx.Done():
	}
}
