package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nodegate",
	Short: "nodegate exposes tagged node-graph workflows as typed endpoints",
	Long: `nodegate turns workflow templates for a node-graph execution backend (ComfyUI)
into callable endpoints. Tags in node titles declare inputs ($name), outputs (#name),
optional sections (!bypass) and shared cache nodes (!cache).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	config.RegisterFlags(rootCmd.PersistentFlags())
}

// setup resolves the configuration and logger for cmd.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := cli.LoadConfig(cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	logger, err := cli.NewLogger(cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

// parseParams reads the --params flag of cmd.
func parseParams(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("params")
	return cli.ParseParams(raw, cmd.InOrStdin())
}
