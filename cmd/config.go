package cmd

import (
	"fmt"

	"loopauth/internal/config"
	"loopauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFormat  string
)

// initLogging configures logging from the global flags before any command
// runs. loadConfig may lower or raise the level again from the config file.
func initLogging(cmd *cobra.Command, args []string) error {
	level := logging.LevelWarn
	if logLevel != "" {
		parsed, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		level = parsed
	}
	format, err := parseLogFormat(logFormat)
	if err != nil {
		return err
	}
	applyLogging(level, format, cmd)
	return nil
}

func applyLogging(level logging.LogLevel, format logging.Format, cmd *cobra.Command) {
	if format == logging.FormatText {
		logging.InitForCLI(level, cmd.ErrOrStderr())
		return
	}
	logging.Init(level, format, cmd.ErrOrStderr())
}

func parseLogFormat(s string) (logging.Format, error) {
	switch logging.Format(s) {
	case "", logging.FormatText:
		return logging.FormatText, nil
	case logging.FormatJSON:
		return logging.FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// loadConfig reads the config file and applies the config log level unless
// --log-level was given.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.Config{}, err
	}

	if logLevel == "" && cfg.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid logLevel in config: %w", err)
		}
		format, _ := parseLogFormat(logFormat)
		applyLogging(level, format, cmd)
	}
	return cfg, nil
}
