package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/daemon"
	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/logger"
)

var (
	watchAPIBaseURL string
	watchServerPort int
	watchNoServer   bool
)

// WatchCmd runs the recording pipeline until interrupted
var WatchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and process new recordings",
	Long: `Watch a directory for finished audio recordings. Each stable new
recording is uploaded to the processing backend and its job is followed
until it completes or fails.

The directory argument overrides watch.root from the configuration.

While watching, a local status server (unless disabled) exposes:
  GET  /status             - JSON snapshot of the pipeline
  GET  /ws                 - WebSocket stream of state changes
  POST /jobs/{id}/retry    - Retry a failed job
  DELETE /jobs/{id}        - Dismiss a job

Examples:
  soundpost watch ~/Recordings
  soundpost watch --api http://192.168.1.20:8000 ~/Recordings
  soundpost watch --no-server ~/Recordings`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(args)
	},
}

func init() {
	WatchCmd.Flags().StringVar(&watchAPIBaseURL, "api", "", "Processing backend base URL (overrides api.base_url)")
	WatchCmd.Flags().IntVar(&watchServerPort, "port", 0, "Status server port (overrides server.port)")
	WatchCmd.Flags().BoolVar(&watchNoServer, "no-server", false, "Disable the local status server")
}

func runWatch(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	root := cfg.Watch.Root
	if len(args) > 0 {
		root = args[0]
	}
	if root == "" {
		return errors.New("no directory to watch: pass one as an argument or set watch.root")
	}

	if watchAPIBaseURL != "" {
		cfg.API.BaseURL = watchAPIBaseURL
	}
	if cfg.API.BaseURL == "" {
		return errors.New("no backend configured: pass --api or set api.base_url")
	}
	if watchServerPort != 0 {
		cfg.Server.Port = watchServerPort
		cfg.Server.Enabled = true
	}
	if watchNoServer {
		cfg.Server.Enabled = false
	}

	d, err := daemon.New(cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(root); err != nil {
		if errors.IsDirectoryNotFound(err) {
			return errors.Wrapf(err, "directory does not exist")
		}
		return err
	}

	pterm.Success.Printf("Watching %s for new recordings\n", root)
	pterm.Info.Printf("Backend: %s\n", cfg.API.BaseURL)
	if cfg.Server.Enabled {
		pterm.Info.Printf("Status server: http://127.0.0.1:%d/status\n", cfg.Server.Port)
	}

	// Pick up config edits while running; changes apply to the next session
	cfgWatcher, err := config.NewWatcher(config.UserConfigPath())
	if err == nil {
		cfgWatcher.OnReload(func(updated *config.Config) error {
			logger.Logger.Infow("Configuration file changed; restart watch to apply",
				"path", config.UserConfigPath())
			return nil
		})
		cfgWatcher.Start()
		defer cfgWatcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

	shutdownDone := make(chan struct{})
	go func() {
		d.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		pterm.Success.Println("Stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}
