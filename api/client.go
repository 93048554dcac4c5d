package api

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/internal/httpclient"
)

// Client talks to the audio processing job API.
//
// All requests pass through a client-side rate limiter so status polling
// can never hammer the server, whatever the configured intervals.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.SugaredLogger
}

// NewClient creates a job API client from configuration
func NewClient(cfg *config.APIConfig, log *zap.SugaredLogger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpclient.New(cfg.Timeout()),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        log,
	}
}

// Upload streams the file's bytes as a multipart POST to /upload and
// returns the created job. Any transport error, non-2xx response, or
// malformed body is returned as an error; the caller decides whether to
// surface or re-trigger it.
func (c *Client) Upload(ctx context.Context, filePath string) (*UploadResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filePath)
	}
	defer f.Close()

	// Stream the multipart body through a pipe so large recordings are
	// never buffered wholesale in memory
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "upload request failed for %s", filepath.Base(filePath))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := errors.Newf("upload rejected with status %d", resp.StatusCode)
		err = errors.WithDetail(err, string(body))
		return nil, err
	}

	var upload UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, errors.Wrap(err, "failed to decode upload response")
	}
	if upload.JobID == "" {
		return nil, errors.New("upload response missing job_id")
	}

	c.log.Infow("Upload accepted",
		"file", upload.Filename,
		"job_id", upload.JobID,
		"status", upload.Status)
	return &upload, nil
}

// JobStatus queries GET /jobs/{id} once. Transport errors and non-2xx
// responses are returned as errors; pollers treat them as inconclusive.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	endpoint := c.baseURL + "/jobs/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build status request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "status request failed for job %s", jobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("status query for job %s returned %d", jobID, resp.StatusCode)
	}

	var status JobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, "failed to decode job status")
	}
	if !IsValidStatus(string(status.Status)) {
		return nil, errors.Newf("job %s reported unknown status %q", jobID, status.Status)
	}

	return &status, nil
}
