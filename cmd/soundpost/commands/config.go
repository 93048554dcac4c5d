package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/soundpost/soundpost/config"
	"github.com/soundpost/soundpost/errors"
)

// ConfigCmd groups configuration commands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage soundpost configuration",
	Long: `Manage the soundpost configuration.

Configuration is merged from defaults, ~/.soundpost/config.toml, a
project-level soundpost.toml, and SOUNDPOST_* environment variables.

Examples:
  soundpost config show    # Show the effective configuration
  soundpost config init    # Write a default config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// ConfigShowCmd prints the effective merged configuration
var ConfigShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		out, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to render config")
		}

		fmt.Printf("# Effective configuration (merged)\n# User config: %s\n\n", config.UserConfigPath())
		fmt.Print(string(out))
		return nil
	},
}

// ConfigInitCmd writes a default config file
var ConfigInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  `Write a config file with default values to ~/.soundpost/config.toml, unless one already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.SaveDefault()
		if err != nil {
			return err
		}
		pterm.Success.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(ConfigShowCmd)
	ConfigCmd.AddCommand(ConfigInitCmd)
}
