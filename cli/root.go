// Package cli wires the livesync commands together.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slighter12/graph-livesync/config"
	"github.com/slighter12/graph-livesync/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// Config is populated by the root pre-run hook.
	Config *config.Config
}

// NewRootCommand creates the root command for the livesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "livesync",
		Short: "Live-sync between a graph editor and running viewers",
		Long: `livesync keeps running viewers in step with an editor's project.

The relay command hosts the websocket hub. The editor command loads a
project file, connects to the relay and mirrors every edit to viewers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (defaults to LIVESYNC_CONFIG_PATH or the home config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewEditorCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *RootOptions) resolvePath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return config.ResolveConfigPath()
}

func (o *RootOptions) load() error {
	path, err := o.resolvePath()
	if err != nil {
		return err
	}
	if err := config.EnsureDefaultConfig(path); err != nil {
		return fmt.Errorf("prepare config: %w", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := logger.Init(logger.GetLevelFromString(cfg.Logging.Level), logger.Format(cfg.Logging.Format), cfg.Logging.Path); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.Config = cfg
	return nil
}
