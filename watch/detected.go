// Package watch detects finished audio recordings appearing under a
// watched directory. Detection is a three-stage pipeline: fsnotify create
// events are filtered by name (filter.go), then polled for size stability
// (stability.go), and only then emitted as a DetectedFile (watcher.go).
package watch

import "time"

// DetectedFile is an immutable record of one stable recording.
// Created exactly once per file per watch session, never mutated.
type DetectedFile struct {
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	DetectedAt time.Time `json:"detected_at"`
	SessionID  string    `json:"session_id"`
}
