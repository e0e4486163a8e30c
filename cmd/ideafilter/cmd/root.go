package cmd

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/ideafilter/internal/core/config"
	"github.com/solatis/ideafilter/internal/core/logging"
)

// Version is the release reported by the CLI.
const Version = "0.1.0"

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "ideafilter",
	Short:         "IDEA message filter",
	Long:          `ideafilter evaluates IDEA security event records against a rule document and dispatches them to actions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the service configuration and applies explicitly set
// persistent flags on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if cmd.Flags().Changed("rules") {
		rules, _ := cmd.Flags().GetString("rules")
		cfg.Filter.Config = rules
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, w)
}
