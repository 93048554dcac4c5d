package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soundpost/soundpost/cmd/soundpost/commands"
	"github.com/soundpost/soundpost/logger"
)

var rootCmd = &cobra.Command{
	Use:   "soundpost",
	Short: "soundpost - watch a folder of recordings and ship them for processing",
	Long: `soundpost watches a directory for finished audio recordings, uploads
each one to a processing backend, and follows the resulting jobs until
they complete or fail.

Available commands:
  watch   - Watch a directory and process new recordings
  jobs    - Inspect and manage tracked jobs
  config  - Manage soundpost configuration
  version - Show version information

Examples:
  soundpost watch ~/Recordings         # Start the pipeline
  soundpost jobs ls                    # List tracked jobs
  soundpost jobs retry <job-id>        # Retry a failed job
  soundpost config show                # Show effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.SetVerbose()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug output")

	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
