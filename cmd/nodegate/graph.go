package main

import (
	"context"
	"fmt"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <name>",
	Short: "Export a template as a Mermaid diagram",
	Long: `Outputs a Mermaid flowchart of the template. With --params the request graph
is drawn instead and the merged cache nodes are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		gw, err := cli.CreateGateway(context.Background(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer gw.Close()

		template, err := gw.Store().Get(args[0])
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if cmd.Flags().Changed("params") {
			params, err := parseParams(cmd)
			if err != nil {
				return err
			}
			request, err := gw.Materialize(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			overlay = &graph.GraphOverlay{}
			for _, id := range request.IDs() {
				if !template.Has(id) {
					overlay.Highlighted = append(overlay.Highlighted, id)
				}
			}
			template = request
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(template, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("params", "", "Draw the request graph for these parameters (JSON, @file or -)")
}
