package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/nodegate"
	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts nodegate as an MCP Server.
This allows AI agents to list, describe and execute workflow templates as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gw, err := cli.CreateGateway(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer gw.Close()
		if err := gw.Start(ctx); err != nil {
			return err
		}

		srv := mcp.NewServer(gw.Store(), gw, nodegate.Version, mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			// logs go to stderr; stdout carries JSON-RPC
			logger.Info("Starting nodegate MCP Server (Stdio)")
			return srv.ServeStdio()
		case "sse":
			logger.Info("Starting nodegate MCP Server (SSE)", "port", port)
			if err := srv.ServeSSE(ctx, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8190, "Port to listen on (only for SSE)")
}
