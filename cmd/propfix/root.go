// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/propfix/internal/config"
	"github.com/tomtom215/propfix/internal/logging"
	"github.com/tomtom215/propfix/internal/supervisor"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	out        io.Writer
	treeConfig supervisor.TreeConfig

	// loadConfig is replaced in tests.
	loadConfig func(path string) (*config.Config, error)
}

func defaultLoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newRootCmd() *cobra.Command {
	return newApp(defaultLoadConfig).rootCmd()
}

func newApp(load func(string) (*config.Config, error)) *app {
	return &app{loadConfig: load, treeConfig: supervisor.DefaultTreeConfig()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "propfix",
		Short:         "Repair entity properties from the event log and restore them from backups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			cfg, err := a.loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if a.logLevel != "" {
				if !logging.ValidLevel(a.logLevel) {
					return fmt.Errorf("invalid --log-level %q", a.logLevel)
				}
				cfg.Logging.Level = a.logLevel
			}
			logging.Init(logging.Config{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				Caller:    cfg.Logging.Caller,
				Timestamp: true,
				Output:    cmd.ErrOrStderr(),
			})
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		a.repairCmd(),
		a.restoreCmd(),
		a.backupsCmd(),
		a.pruneCmd(),
		a.schemaCmd(),
	)
	return root
}
