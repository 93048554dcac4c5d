package track

import (
	"database/sql"
	"time"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/errors"
)

// Record is the persisted history of one tracked job. Unlike the
// in-memory monitor state, records survive restarts and are what
// `soundpost jobs ls` reads.
type Record struct {
	JobID        string
	SessionID    string
	FileName     string
	FilePath     string
	FileSize     int64
	Status       api.Status
	Progress     int
	CurrentStep  string
	ErrorMessage string
	RetryCount   int
	DetectedAt   time.Time
	UploadedAt   time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Store handles persistence of tracked jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new tracked job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `job_id, session_id, file_name, file_path, file_size,
	status, progress, current_step, error_message, retry_count,
	detected_at, uploaded_at, completed_at, updated_at`

// CreateRecord inserts a new tracked job
func (s *Store) CreateRecord(r *Record) error {
	query := `
		INSERT INTO tracked_jobs (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	currentStep := sql.NullString{String: r.CurrentStep, Valid: r.CurrentStep != ""}
	errorMessage := sql.NullString{String: r.ErrorMessage, Valid: r.ErrorMessage != ""}
	completedAt := sql.NullTime{}
	if r.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *r.CompletedAt, Valid: true}
	}

	_, err := s.db.Exec(query,
		r.JobID,
		r.SessionID,
		r.FileName,
		r.FilePath,
		r.FileSize,
		r.Status,
		r.Progress,
		currentStep,
		errorMessage,
		r.RetryCount,
		r.DetectedAt,
		r.UploadedAt,
		completedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create tracked job")
	}

	return nil
}

// UpdateRecord updates the mutable fields of a tracked job
func (s *Store) UpdateRecord(r *Record) error {
	query := `
		UPDATE tracked_jobs
		SET status = ?,
		    progress = ?,
		    current_step = ?,
		    error_message = ?,
		    retry_count = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE job_id = ?
	`

	currentStep := sql.NullString{String: r.CurrentStep, Valid: r.CurrentStep != ""}
	errorMessage := sql.NullString{String: r.ErrorMessage, Valid: r.ErrorMessage != ""}
	completedAt := sql.NullTime{}
	if r.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *r.CompletedAt, Valid: true}
	}

	result, err := s.db.Exec(query,
		r.Status,
		r.Progress,
		currentStep,
		errorMessage,
		r.RetryCount,
		completedAt,
		r.UpdatedAt,
		r.JobID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update tracked job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobNotFound, "%s", r.JobID)
	}

	return nil
}

// GetRecord retrieves a tracked job by ID
func (s *Store) GetRecord(jobID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM tracked_jobs WHERE job_id = ?`

	r, err := scanRecord(s.db.QueryRow(query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get tracked job")
	}

	return r, nil
}

// ListRecords returns tracked jobs, newest first, optionally filtered by status
func (s *Store) ListRecords(status *api.Status, limit int) ([]*Record, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + recordColumns + ` FROM tracked_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY detected_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY detected_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tracked jobs")
	}
	defer rows.Close()

	return scanRecords(rows, "tracked jobs")
}

// ListBySession returns all tracked jobs for one watch session, oldest first
func (s *Store) ListBySession(sessionID string) ([]*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM tracked_jobs
		WHERE session_id = ?
		ORDER BY detected_at ASC`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list session jobs")
	}
	defer rows.Close()

	return scanRecords(rows, "session jobs")
}

// DeleteRecord removes a tracked job (dismiss)
func (s *Store) DeleteRecord(jobID string) error {
	result, err := s.db.Exec(`DELETE FROM tracked_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return errors.Wrap(err, "failed to delete tracked job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}

	return nil
}

// CleanupOldRecords removes terminal jobs whose last update is older than
// the given duration. Returns the number of rows removed.
func (s *Store) CleanupOldRecords(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM tracked_jobs
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// rowScanner lets scanRecord serve both QueryRow and Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var currentStep, errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&r.JobID,
		&r.SessionID,
		&r.FileName,
		&r.FilePath,
		&r.FileSize,
		&r.Status,
		&r.Progress,
		&currentStep,
		&errorMessage,
		&r.RetryCount,
		&r.DetectedAt,
		&r.UploadedAt,
		&completedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.CurrentStep = currentStep.String
	r.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}

	return &r, nil
}

func scanRecords(rows *sql.Rows, context string) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan tracked job")
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return records, nil
}
