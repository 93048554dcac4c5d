package watch

import (
	"context"
	"os"
	"time"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
)

// Detector decides when a file has stopped growing by polling its size.
//
// Sandboxed mobile writers give us no reliable "write finished" event, so
// two consecutive equal size readings are taken as the portable proxy for
// "the writer is done".
type Detector struct {
	interval    time.Duration
	maxAttempts int
}

// NewDetector creates a detector from watch configuration
func NewDetector(cfg *config.WatchConfig) *Detector {
	attempts := cfg.StabilityMaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	return &Detector{
		interval:    cfg.StabilityInterval(),
		maxAttempts: attempts,
	}
}

// AwaitStable polls the file's size at the configured interval until two
// consecutive readings agree, and returns that size.
//
// Returns errors.ErrVanished if the file disappears mid-poll (writer
// aborted or moved it; callers drop it silently). Returns errors.ErrUnstable
// when the attempt budget is exhausted without two equal readings; the
// file is abandoned rather than risked as a partial upload.
// Context cancellation aborts the wait immediately.
func (d *Detector) AwaitStable(ctx context.Context, path string) (int64, error) {
	lastSize := int64(-1)

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, errors.Wrapf(errors.ErrVanished, "%s", path)
			}
			return 0, errors.Wrapf(err, "failed to stat %s", path)
		}

		size := info.Size()
		if size >= 0 && size == lastSize {
			return size, nil
		}
		lastSize = size

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(d.interval):
		}
	}

	return 0, errors.Wrapf(errors.ErrUnstable, "%s after %d attempts", path, d.maxAttempts)
}
