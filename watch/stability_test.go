package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
)

func testDetector(intervalMs, maxAttempts int) *Detector {
	return NewDetector(&config.WatchConfig{
		StabilityIntervalMs:  intervalMs,
		StabilityMaxAttempts: maxAttempts,
	})
}

func TestAwaitStableReturnsSizeForSettledFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.m4a")
	content := []byte("finished recording bytes")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	d := testDetector(10, 10)
	size, err := d.AwaitStable(context.Background(), path)
	if err != nil {
		t.Fatalf("AwaitStable: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
}

func TestAwaitStableWaitsOutAGrowingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growing.mp3")
	if err := os.WriteFile(path, []byte("part1"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Append once shortly after the first poll, then let the size settle.
	go func() {
		time.Sleep(15 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		f.Write([]byte("part2"))
		f.Close()
	}()

	d := testDetector(30, 10)
	size, err := d.AwaitStable(context.Background(), path)
	if err != nil {
		t.Fatalf("AwaitStable: %v", err)
	}
	if size != int64(len("part1part2")) {
		t.Errorf("size = %d, want %d", size, len("part1part2"))
	}
}

func TestAwaitStableVanishedBeforeFirstPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghost.wav")

	d := testDetector(10, 10)
	_, err := d.AwaitStable(context.Background(), path)
	if !errors.IsVanished(err) {
		t.Errorf("expected ErrVanished, got %v", err)
	}
}

func TestAwaitStableVanishedMidPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aborted.flac")
	if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.Remove(path)
	}()

	d := testDetector(50, 10)
	_, err := d.AwaitStable(context.Background(), path)
	if !errors.IsVanished(err) {
		t.Errorf("expected ErrVanished, got %v", err)
	}
}

func TestAwaitStableAbandonsWhenBudgetExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restless.ogg")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// One attempt can never observe two consecutive equal readings
	d := testDetector(5, 1)
	_, err := d.AwaitStable(context.Background(), path)
	if !errors.IsUnstable(err) {
		t.Errorf("expected ErrUnstable, got %v", err)
	}
}

func TestAwaitStableHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.opus")
	if err := os.WriteFile(path, []byte("y"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// Long interval so the wait parks in the timer select
	d := testDetector(10_000, 10)
	go func() {
		_, err := d.AwaitStable(ctx, path)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitStable did not return after cancellation")
	}
}
