// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/config"
	"github.com/commguard/commguard/internal/xdg"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values use their default implementations.
type Deps struct {
	// Store replaces the configured credential store.
	Store auth.Store

	// Getenv reads the environment.
	// Default: os.Getenv
	Getenv func(string) string
}

// NewRootCmd creates the root command for the CommGuard CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Deps{})
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commguard",
		Short: "CommGuard - account authentication and credential lifecycle",
		Long: `CommGuard manages account registration, login sessions with lockout,
password policy and history, and email-based password resets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/commguard/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newAccountCmd(deps))
	cmd.AddCommand(newResetCmd(deps))
	cmd.AddCommand(newConfigCmd(deps))

	return cmd
}

// loadConfig reads the configuration for cmd. An explicit --config must exist.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag lookup on a registered flag
	}
	required := path != ""
	if path == "" {
		if path, err = xdg.ConfigFile(); err != nil {
			path = ""
		}
	}
	return config.Load(config.LoadOptions{
		Path:     path,
		Required: required,
		Flags:    cmd.Flags(),
		Getenv:   deps.Getenv,
	})
}
