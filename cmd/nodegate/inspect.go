package main

import (
	"context"
	"fmt"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/internal/presentation/tui"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Describe the inputs and outputs of a template",
	Args:  cobra.ExactArgs(1),
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

		info, err := gw.Store().Describe(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		plain, _ := cmd.Flags().GetBool("plain")
		if termenv.NewOutput(out).Profile == termenv.Ascii {
			plain = true
		}
		rendered, err := tui.NewRenderer(plain)(tui.DescribeMarkdown(info))
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("plain", false, "Print raw markdown instead of styled output")
}
