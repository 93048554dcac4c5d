// Package httpclient builds the HTTP client used to talk to the job API.
package httpclient

import (
	"net/http"
	"time"
)

// New returns an http.Client tuned for long-running multipart uploads:
// generous request timeout, bounded idle connections, no redirect surprises.
//
// The upload endpoint is user-configured and commonly a LAN or localhost
// address, so no private-IP filtering is applied here.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
