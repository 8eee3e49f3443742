package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/nodegate"
	"github.com/aretw0/nodegate/internal/config"
	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/adapters/file"
	"github.com/aretw0/nodegate/pkg/adapters/memory"
	"github.com/aretw0/nodegate/pkg/adapters/redis"
	"github.com/aretw0/nodegate/pkg/correlator"
	"github.com/aretw0/nodegate/pkg/observability"
	"github.com/aretw0/nodegate/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// LoadConfig resolves the configuration for a command: the --config file,
// then the environment, then explicitly set flags.
func LoadConfig(fs *pflag.FlagSet) (config.Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}
	if err := config.ApplyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// NewLogger builds the process logger from cfg.Log.
func NewLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level, cfg.Log.Format), nil
}

// CreateGateway initializes a gateway with the configured store driver and backend.
// A non-nil reg gets the execution metrics registered on it.
func CreateGateway(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*nodegate.Gateway, error) {
	opts := []nodegate.Option{
		nodegate.WithLogger(logger),
		nodegate.WithBackendURL(cfg.BackendURL()),
		nodegate.WithInputDir(cfg.InputDir),
		nodegate.WithCacheFloor(cfg.CacheFloor),
		nodegate.WithTimeout(cfg.ExecutionTimeout),
		nodegate.WithCorrelatorOptions(
			correlator.WithBackoff(cfg.Listener.InitialBackoff, cfg.Listener.MaxBackoff, cfg.Listener.MaxElapsed),
			correlator.WithReconcileInterval(cfg.Listener.ReconcileInterval),
		),
	}

	persist, locker := templateStore(cfg, logger)
	opts = append(opts, nodegate.WithTemplateStore(persist))
	if locker != nil {
		opts = append(opts, nodegate.WithLocker(locker))
	}
	if reg != nil {
		opts = append(opts, nodegate.WithMetrics(observability.NewMetrics(reg)))
	}

	gw, err := nodegate.New(ctx, cfg.WorkflowsDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing gateway: %w", err)
	}
	return gw, nil
}

// templateStore picks the persistence adapter for cfg.Store.Driver.
// Only the redis driver comes with a distributed locker.
func templateStore(cfg config.Config, logger *slog.Logger) (ports.TemplateStore, ports.DistributedLocker) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		r := cfg.Store.Redis
		store := redis.New(r.Addr, r.Password, r.DB, redis.WithPrefix(r.Prefix))
		logger.Info("Using redis template store", "addr", r.Addr, "prefix", r.Prefix)
		return store, redis.NewLocker(store.Client(), r.Prefix)
	case config.DriverMemory:
		logger.Warn("Using in-memory template store; templates are lost on exit")
		return memory.NewStore(), nil
	default:
		logger.Info("Using file template store", "dir", cfg.WorkflowsDir)
		return file.New(cfg.WorkflowsDir, file.WithLogger(logger)), nil
	}
}
