// Package daemon wires the pipeline together: directory watcher, upload
// coordinator, job tracker, shared monitor state, job history database,
// and the optional local status server.
package daemon

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/soundpost/soundpost/api"
	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/db"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/monitor"
	"github.com/soundpost/soundpost/server"
	"github.com/soundpost/soundpost/track"
	"github.com/soundpost/soundpost/upload"
	"github.com/soundpost/soundpost/watch"
)

const shutdownTimeout = 5 * time.Second

// Daemon owns one watch session end to end
type Daemon struct {
	cfg *config.Config
	log *zap.SugaredLogger

	mon         *monitor.Monitor
	watcher     *watch.Watcher
	coordinator *upload.Coordinator
	tracker     *track.Tracker
	statusSrv   *server.Server
	conn        *sql.DB

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a daemon from configuration. The job history database is
// opened (and migrated) immediately; watching starts with Start.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Daemon, error) {
	var conn *sql.DB
	var store *track.Store

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), config.DefaultDirPermissions); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
		var err error
		conn, err = db.Open(cfg.Database.Path, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(conn, log); err != nil {
			conn.Close()
			return nil, err
		}
		store = track.NewStore(conn)
	}

	mon := monitor.New()
	client := api.NewClient(&cfg.API, log)
	coordinator := upload.NewCoordinator(client, mon, log)
	tracker := track.NewTracker(client, mon, store, &cfg.Track, log)

	d := &Daemon{
		cfg:         cfg,
		log:         log,
		mon:         mon,
		watcher:     watch.NewWatcher(&cfg.Watch, log),
		coordinator: coordinator,
		tracker:     tracker,
		conn:        conn,
	}

	if cfg.Server.Enabled {
		d.statusSrv = server.New(cfg.Server.Port, mon, d, log)
	}

	return d, nil
}

// Monitor exposes the daemon's aggregate state
func (d *Daemon) Monitor() *monitor.Monitor {
	return d.mon
}

// Start begins watching root and runs the pipeline until Stop
func (d *Daemon) Start(root string) error {
	if err := d.watcher.Start(root); err != nil {
		return err
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mon.StartSession(root, d.watcher.SessionID())

	detections := make(chan watch.DetectedFile, 16)
	go d.forwardDetections(detections)
	go d.coordinator.Run(d.ctx, detections)
	go d.forwardHandoffs()

	if d.statusSrv != nil {
		if err := d.statusSrv.Start(); err != nil {
			d.Stop()
			return err
		}
	}

	return nil
}

// Stop tears the pipeline down in dependency order: no new detections,
// then no new uploads or polls, then the outer surfaces.
func (d *Daemon) Stop() {
	d.watcher.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	d.tracker.Close()
	d.coordinator.Reset()

	if d.statusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		d.statusSrv.Shutdown(ctx)
		cancel()
	}

	d.mon.StopSession()
	d.log.Infow("Daemon stopped")
}

// Close releases resources held for the daemon's lifetime
func (d *Daemon) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// RetryJob asks the tracker to re-poll a failed job immediately
func (d *Daemon) RetryJob(jobID string) error {
	return d.tracker.Retry(jobID)
}

// DismissJob stops tracking a job and removes its state and history
func (d *Daemon) DismissJob(jobID string) error {
	return d.tracker.Dismiss(jobID)
}

// RetryUpload re-attempts a failed upload. The retry runs under the
// daemon's context, not the caller's: control requests from the status
// server return long before a large upload finishes.
func (d *Daemon) RetryUpload(filePath string) error {
	if d.ctx == nil {
		return errors.New("not watching")
	}
	return d.coordinator.RetryUpload(d.ctx, filePath)
}

// forwardDetections publishes each detected file and passes it down the
// detection channel the upload coordinator consumes
func (d *Daemon) forwardDetections(out chan<- watch.DetectedFile) {
	for {
		select {
		case <-d.ctx.Done():
			return
		case f := <-d.watcher.Events():
			d.mon.AddDetectedFile(f)
			select {
			case out <- f:
			case <-d.ctx.Done():
				return
			}
		}
	}
}

// forwardHandoffs starts a tracking poller for each successful upload
func (d *Daemon) forwardHandoffs() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case h := <-d.coordinator.Handoffs():
			d.tracker.Track(d.ctx, h.File, h.JobID)
		}
	}
}
