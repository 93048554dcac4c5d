package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/db"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/logger"
	"github.com/soundpost/soundpost/track"
)

// JobsCmd groups job inspection and management commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage tracked jobs",
	Long: `Inspect and manage the jobs soundpost is tracking.

Listing and status read the local job history database. Retry and
dismiss talk to the running watch daemon's status server.

Examples:
  soundpost jobs ls                  # List tracked jobs
  soundpost jobs ls --status failed  # Only failed jobs
  soundpost jobs status <job-id>     # Show job details
  soundpost jobs retry <job-id>      # Retry a failed job
  soundpost jobs rm <job-id>         # Dismiss a job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists tracked jobs
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tracked jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, limit)
	},
}

// JobsStatusCmd shows details for one job
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show details of a tracked job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

// JobsRetryCmd retries a failed job via the running daemon
var JobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed job",
	Long: `Ask the running watch daemon to re-poll a failed job immediately,
with a fresh retry budget. Requires 'soundpost watch' to be running with
its status server enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsControl(http.MethodPost, "/jobs/"+args[0]+"/retry", args[0], "Retry requested")
	},
}

// JobsRmCmd dismisses a job via the running daemon
var JobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Dismiss a job",
	Long: `Stop tracking a job and remove it from the pipeline state and the
job history. Requires 'soundpost watch' to be running with its status
server enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsControl(http.MethodDelete, "/jobs/"+args[0], args[0], "Job dismissed")
	},
}

func init() {
	JobsLsCmd.Flags().String("status", "", "Filter by status (queued, processing, completed, failed)")
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsRetryCmd)
	JobsCmd.AddCommand(JobsRmCmd)
}

// openStore opens the job history database read path used by ls/status
func openStore() (*track.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, err
	}

	return track.NewStore(database), func() { database.Close() }, nil
}

func runJobsLs(statusFilter string, limit int) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	var status *api.Status
	if statusFilter != "" {
		if !api.IsValidStatus(statusFilter) {
			return errors.Newf("unknown status %q", statusFilter)
		}
		s := api.Status(statusFilter)
		status = &s
	}

	records, err := store.ListRecords(status, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-20s %-12s %-30s %-10s %s\n", "JOB ID", "STATUS", "FILE", "PROGRESS", "DETECTED")
	fmt.Printf("%-20s %-12s %-30s %-10s %s\n", "------", "------", "----", "--------", "--------")

	for _, r := range records {
		fmt.Printf("%-20s %-12s %-30s %-10s %s\n",
			truncate(r.JobID, 20),
			r.Status,
			truncate(r.FileName, 30),
			fmt.Sprintf("%d%%", r.Progress),
			r.DetectedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(records))
	return nil
}

func runJobsStatus(jobID string) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	r, err := store.GetRecord(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job ID: %s\n", r.JobID)
	fmt.Printf("  File: %s (%d bytes)\n", r.FileName, r.FileSize)
	fmt.Printf("  Path: %s\n", r.FilePath)
	fmt.Printf("  Status: %s\n", r.Status)
	fmt.Printf("  Progress: %d%%\n", r.Progress)
	if r.CurrentStep != "" {
		fmt.Printf("  Step: %s\n", r.CurrentStep)
	}
	if r.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", r.ErrorMessage)
	}
	if r.RetryCount > 0 {
		fmt.Printf("  Retries: %d\n", r.RetryCount)
	}
	fmt.Printf("\n")
	fmt.Printf("Detected: %s\n", r.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Uploaded: %s\n", r.UploadedAt.Format("2006-01-02 15:04:05"))
	if r.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// runJobsControl sends a control request to the running daemon
func runJobsControl(method, path, jobID, successMsg string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Server.Port, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "is 'soundpost watch' running with the status server enabled?")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		pterm.Success.Printf("%s: %s\n", successMsg, jobID)
		return nil
	case http.StatusNotFound:
		return errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return errors.Newf("daemon refused: %s", payload.Error)
		}
		return errors.Newf("daemon returned status %d", resp.StatusCode)
	}
}

// truncate shortens a string for table display
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
