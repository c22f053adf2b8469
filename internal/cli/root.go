// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the speciesync command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ZB1234D/Species-Database-App-123/internal/config"
	"github.com/ZB1234D/Species-Database-App-123/internal/server"
)

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	store      string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "speciesync",
		Short: "Bilingual species dataset server with incremental sync",
		Long: `speciesync serves a bilingual (English/Tetum) species dataset and lets
offline clients stay current through versioned bundles and incremental
change sets.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a TOML config file")
	pf.StringVar(&g.store, "store", "", "Storage backend (postgres|memory)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (json|text)")

	root.AddCommand(
		newServeCmd(g),
		newMigrateCmd(g),
		newIngestCmd(g),
		newPlanCmd(g),
		newAnalyticsCmd(g),
		newReplicaCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the config file and environment, then applies flag overrides
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.store != "" {
		cfg.Store = g.store
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	return cfg, cfg.Validate()
}

// components wires the server components for cfg, logging to stderr
func components(cmd *cobra.Command, cfg *config.Config) (*server.ServerComponents, error) {
	return server.SetupServer(&server.ServerConfig{Config: cfg, Logger: cfg.NewLogger(cmd.ErrOrStderr())})
}
