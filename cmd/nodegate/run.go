package main

import (
	"encoding/json"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Execute a template once against the backend and print its outputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		params, err := parseParams(cmd)
		if err != nil {
			return err
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		gw, err := cli.CreateGateway(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer gw.Close()
		if err := gw.Start(ctx); err != nil {
			return err
		}

		result, err := gw.Execute(ctx, args[0], params)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"workflow": args[0], "result": result})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("params", "", "Parameters as JSON, @file or - for stdin")
}
