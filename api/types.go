// Package api is the HTTP client for the remote audio processing job API.
//
// The service accepts a multipart upload and processes it asynchronously;
// progress is observed by polling GET /jobs/{id} until the job reaches a
// terminal status.
package api

import "encoding/json"

// Status is the processing state reported by the job API
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the job has finished (successfully or not).
// Once terminal, a job stops being actively polled absent a manual retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the server is still working on the job
func (s Status) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing
}

// UploadResponse is the body returned by POST /upload
type UploadResponse struct {
	JobID       string `json:"job_id"`
	AudioFileID string `json:"audio_file_id"`
	Filename    string `json:"filename"`
	Status      Status `json:"status"`
	Message     string `json:"message"`
}

// JobStatusResponse is the body returned by GET /jobs/{job_id}.
// Progress and CurrentStep are only meaningful while Status is processing;
// consumers must not infer completion from Progress alone.
type JobStatusResponse struct {
	JobID        string          `json:"job_id"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStep  *string         `json:"current_step"`
	StartedAt    *string         `json:"started_at"`
	CompletedAt  *string         `json:"completed_at"`
	ErrorMessage *string         `json:"error_message"`
	Result       json.RawMessage `json:"result"`
}
