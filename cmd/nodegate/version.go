package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/nodegate"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of nodegate",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nodegate version %s\n", strings.TrimSpace(nodegate.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
