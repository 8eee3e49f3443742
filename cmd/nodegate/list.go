package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/internal/cli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the workflow templates and their call surface",
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

		infos := gw.Store().Infos()
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		}

		for _, info := range infos {
			inputs := make([]string, 0, len(info.Inputs))
			for tag := range info.Inputs {
				inputs = append(inputs, "$"+tag)
			}
			sort.Strings(inputs)
			outputs := make([]string, 0, len(info.Outputs))
			for _, o := range info.Outputs {
				outputs = append(outputs, "#"+o)
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", info.Name, strings.Join(inputs, " "), strings.Join(outputs, " "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("json", false, "Print the template descriptions as JSON")
}
