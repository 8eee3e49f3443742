package main

import (
	"context"
	"encoding/json"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <name>",
	Short: "Print the request graph a call would submit, without submitting it",
	Long: `Applies parameters to a template, merges the shared cache nodes and prints
the resulting graph as JSON. File parameters are written to the input directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		params, err := parseParams(cmd)
		if err != nil {
			return err
		}
		gw, err := cli.CreateGateway(context.Background(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer gw.Close()

		graph, err := gw.Materialize(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(graph)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().String("params", "", "Parameters as JSON, @file or - for stdin")
}
