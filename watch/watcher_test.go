package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
)

func testWatcher(t *testing.T) *Watcher {
	t.Helper()
	cfg := &config.WatchConfig{
		StabilityIntervalMs:  10,
		StabilityMaxAttempts: 10,
		PendingChannelBuffer: 16,
	}
	return NewWatcher(cfg, zap.NewNop().Sugar())
}

func TestStartFailsOnMissingDirectory(t *testing.T) {
	w := testWatcher(t)

	err := w.Start(filepath.Join(t.TempDir(), "does-not-exist"))
	if !errors.IsDirectoryNotFound(err) {
		t.Fatalf("expected ErrDirectoryNotFound, got %v", err)
	}
	if w.SessionID() != "" {
		t.Error("failed start must not open a session")
	}

	// Stop on a never-started watcher must be a safe no-op
	w.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t)

	if err := w.Start(dir); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(dir); !errors.Is(err, errors.ErrAlreadyWatching) {
		t.Errorf("expected ErrAlreadyWatching, got %v", err)
	}
}

func TestStableFileIsEmittedExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t)

	if err := w.Start(dir); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	content := []byte("stable recording payload")
	path := filepath.Join(dir, "meeting.mp3")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-w.Events():
		if f.FilePath != path {
			t.Errorf("path = %q, want %q", f.FilePath, path)
		}
		if f.FileName != "meeting.mp3" {
			t.Errorf("name = %q", f.FileName)
		}
		if f.FileSize != int64(len(content)) {
			t.Errorf("size = %d, want %d", f.FileSize, len(content))
		}
		if f.SessionID == "" {
			t.Error("detected file must carry the session id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no DetectedFile emitted for stable file")
	}

	// No second emission for the same path
	select {
	case f := <-w.Events():
		t.Fatalf("unexpected second emission: %+v", f)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRejectedPathsAreNeverEmitted(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t)

	if err := w.Start(dir); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	for _, name := range []string{
		".trashed-1699999999-voice.m4a",
		"notes.txt",
		"upload.mp3.tmp",
		"backup.mp3~",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	select {
	case f := <-w.Events():
		t.Fatalf("rejected path emitted: %+v", f)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDuplicateCreatesAreCoalesced(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t)

	if err := w.Start(dir); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "voice.m4a")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Hammer the handler with duplicate notifications while the first
	// stability wait is still pending
	for i := 0; i < 5; i++ {
		w.handleCreate(path)
	}

	seen := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-w.Events():
			seen++
		case <-deadline:
			if seen != 1 {
				t.Fatalf("expected exactly 1 emission, got %d", seen)
			}
			return
		}
	}
}

func TestStopCancelsInFlightStabilityWaits(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.WatchConfig{
		StabilityIntervalMs:  50,
		StabilityMaxAttempts: 50,
		PendingChannelBuffer: 16,
	}
	w := NewWatcher(cfg, zap.NewNop().Sugar())

	if err := w.Start(dir); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Two files that keep growing so their waits stay in flight
	paths := []string{
		filepath.Join(dir, "a.mp3"),
		filepath.Join(dir, "b.wav"),
	}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("grow"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				for _, p := range paths {
					f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0644)
					if err == nil {
						f.Write([]byte("more"))
						f.Close()
					}
				}
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	w.Stop()
	close(stop)

	// Even if the sizes settle now, no emission may arrive
	select {
	case f := <-w.Events():
		t.Fatalf("emission after Stop: %+v", f)
	case <-time.After(300 * time.Millisecond):
	}
}
