package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/pkg/config"
)

// loadConfig reads --config and applies the global flags the user set on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat, _ = cmd.Flags().GetString("log-format")
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("registry-mode") {
		cfg.RegistryMode, _ = cmd.Flags().GetString("registry-mode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger creates the command logger from the resolved configuration.
// Without --log-level or a config file the CLI only reports warnings, so
// log lines do not interleave with the result table.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	path, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("log-level") && path == "" {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger, nil
}
