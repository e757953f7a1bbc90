// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpgw command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/mcp-gateway/pkg/gateway/config"
	"github.com/stacklok/mcp-gateway/pkg/logger"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// NewRootCmd creates the root command for the mcpgw CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcpgw",
		DisableAutoGenTag: true,
		Short:             "MCP gateway - route MCP sessions to adapters running in Kubernetes",
		Long: `The MCP gateway multiplexes long-lived MCP sessions across adapter instances
running in Kubernetes. Each session is pinned to one instance; instances are
created on demand up to the adapter's replica count.

Gateway replicas share nothing but the session store and the Kubernetes API,
so any number of them can run behind a load balancer.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		Long: `Start the MCP gateway. The configuration file given with --config is optional;
without it the gateway runs with in-memory stores, suitable for a single replica.`,
		RunE: runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("mcpgw version: %s\n", Version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the gateway configuration file for syntax and semantic errors.

This command checks:
- YAML syntax and unknown fields
- Duration values
- Store selections and their required settings`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			cmd.Println("✓ Configuration is valid")
			cmd.Printf("  Listen: %s\n", cfg.Listen)
			cmd.Printf("  Session store: %s\n", cfg.SessionStore.Type)
			cmd.Printf("  Resource store: %s\n", cfg.ResourceStore.Type)
			cmd.Printf("  Tool definitions: %s\n", cfg.Tools.Source)
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		logger.Infof("Loading configuration from: %s", path)
	}
	cfg, err := config.NewLoader(&env.OSReader{}).Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}
