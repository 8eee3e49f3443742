package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/internal/validator"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [name...]",
	Short: "Check templates for broken links and malformed tags",
	Long: `Validates the named templates (all of them by default) or, with --file, a graph
document that has not been uploaded yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		graphs := make(map[string]domain.Graph)
		var names []string

		if path, _ := cmd.Flags().GetString("file"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			g, err := domain.ParseGraph(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			graphs[path] = g
			names = append(names, path)
		} else {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			gw, err := cli.CreateGateway(context.Background(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer gw.Close()

			names = args
			if len(names) == 0 {
				names = gw.Store().List()
			}
			for _, name := range names {
				g, err := gw.Store().Get(name)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				graphs[name] = g
			}
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, name := range names {
			if err := validator.Validate(graphs[name]); err != nil {
				failed++
				fmt.Fprintf(out, "✗ %s: %v\n", name, err)
				continue
			}
			fmt.Fprintf(out, "✓ %s\n", name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates have problems", failed, len(names))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("file", "", "Validate a graph document instead of stored templates")
}
