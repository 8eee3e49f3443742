package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/nodegate"
	"github.com/aretw0/nodegate/internal/cli"
	"github.com/aretw0/nodegate/internal/presentation/tui"
	"github.com/aretw0/nodegate/internal/validator"
	httpAdapter "github.com/aretw0/nodegate/pkg/adapters/http"
	"github.com/aretw0/nodegate/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Starts nodegate as an HTTP server exposing the template collection under /connect.
Each template becomes POST /connect/workflows/{name}; the OpenAPI document lives at
/connect/openapi.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		tui.PrintBanner(cmd.ErrOrStderr(), nodegate.Version)

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		var reg *prometheus.Registry
		var registerer prometheus.Registerer
		if cfg.Metrics {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			registerer = reg
		}

		gw, err := cli.CreateGateway(ctx, cfg, logger, registerer)
		if err != nil {
			return err
		}
		defer gw.Close()

		if err := gw.Start(ctx); err != nil {
			return err
		}
		lintTemplates(gw.Store(), logger)

		streams := httpAdapter.NewStreamManager(logger)
		changes, err := gw.Watch(ctx)
		switch {
		case errors.Is(err, workflow.ErrNotWatchable):
			logger.Debug("Template store cannot be watched; hot reload disabled")
		case err != nil:
			logger.Warn("Template watch failed; hot reload disabled", "err", err)
		default:
			go func() {
				for range changes {
					streams.Broadcast("reload")
				}
			}()
		}

		opts := []httpAdapter.Option{
			httpAdapter.WithLogger(logger),
			httpAdapter.WithVersion(nodegate.Version),
			httpAdapter.WithHealthCheck(gw.Healthy),
			httpAdapter.WithStreams(streams),
		}
		if reg != nil {
			opts = append(opts, httpAdapter.WithMetrics(reg))
		}

		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           httpAdapter.NewHandler(gw.Store(), gw, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("Serving templates", "templates", len(gw.Store().List()), "backend", cfg.BackendURL())

		err = cli.Serve(ctx, srv, logger)
		if sig := ctx.Signal(); sig != nil {
			logger.Info("Stopped by signal", "signal", sig.String())
		}
		return err
	},
}

// lintTemplates logs the defects of every loaded template.
func lintTemplates(store *workflow.Store, logger *slog.Logger) {
	for _, name := range store.List() {
		g, err := store.Get(name)
		if err != nil {
			continue
		}
		for _, issue := range validator.ValidateGraph(g) {
			logger.Warn("Template issue", "workflow", name, "node", issue.NodeID, "issue", issue.Message)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8189", "Address to listen on")
}
