// Package server exposes the daemon's pipeline state over a local HTTP
// port: a JSON snapshot endpoint, a WebSocket stream of state changes,
// and the control endpoints the CLI uses to retry and dismiss jobs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/monitor"
)

// Controller is the slice of the daemon the control endpoints need.
// RetryUpload takes no context on purpose: the upload it starts must
// outlive the HTTP request that triggered it, so the controller runs it
// under its own lifetime.
type Controller interface {
	RetryJob(jobID string) error
	DismissJob(jobID string) error
	RetryUpload(filePath string) error
}

// Server serves pipeline state on localhost
type Server struct {
	mon        *monitor.Monitor
	controller Controller
	log        *zap.SugaredLogger
	httpServer *http.Server
	addr       string
}

// New creates a status server bound to localhost on the given port
func New(port int, mon *monitor.Monitor, controller Controller, log *zap.SugaredLogger) *Server {
	s := &Server{
		mon:        mon,
		controller: controller,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDismissJob)
	mux.HandleFunc("POST /uploads/retry", s.handleRetryUpload)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving. It returns once the listener is bound; serving
// continues until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind status server on %s", s.httpServer.Addr)
	}
	s.addr = ln.Addr().String()

	s.log.Infow("Status server listening", "addr", s.addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("Status server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, valid after Start
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Snapshot())
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := s.controller.RetryJob(jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "result": "retrying"})
}

func (s *Server) handleDismissJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := s.controller.DismissJob(jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "result": "dismissed"})
}

func (s *Server) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath string `json:"file_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file_path is required"})
		return
	}

	if err := s.controller.RetryUpload(req.FilePath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_path": req.FilePath, "result": "retrying"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, errors.ErrJobNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
