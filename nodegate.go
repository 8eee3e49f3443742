package nodegate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/adapters/comfy"
	"github.com/aretw0/nodegate/pkg/adapters/file"
	"github.com/aretw0/nodegate/pkg/correlator"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/executor"
	"github.com/aretw0/nodegate/pkg/observability"
	"github.com/aretw0/nodegate/pkg/ports"
	"github.com/aretw0/nodegate/pkg/workflow"
)

// Version is set at build time with -ldflags "-X github.com/aretw0/nodegate.Version=...".
var Version = "dev"

// DefaultBackendURL is where a local ComfyUI listens out of the box.
const DefaultBackendURL = "http://127.0.0.1:8188"

// ErrBackendDisconnected reports a listener that is reconnecting.
var ErrBackendDisconnected = errors.New("backend event stream disconnected")

// Gateway is the high-level entry point for the nodegate library.
// It wires a template collection, an execution correlator and the executor
// that turns a named template plus parameters into output artifacts.
type Gateway struct {
	store      *workflow.Store
	correlator *correlator.Correlator
	executor   *executor.Executor

	persist    ports.TemplateStore
	backend    ports.Backend
	locker     ports.DistributedLocker
	backendURL string
	inputDir   string
	floor      int
	timeout    time.Duration
	corrOpts   []correlator.Option
	metrics    *observability.Metrics
	logger     *slog.Logger
	closers    []io.Closer
}

// Option defines a functional option for configuring the Gateway.
type Option func(*Gateway)

// WithTemplateStore injects a persistence adapter, bypassing the default file store.
// Adapters implementing io.Closer are closed with the Gateway.
func WithTemplateStore(s ports.TemplateStore) Option {
	return func(g *Gateway) {
		g.persist = s
	}
}

// WithLocker serializes template mutations across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(g *Gateway) {
		g.locker = l
	}
}

// WithBackend injects an execution backend, bypassing the ComfyUI client.
func WithBackend(b ports.Backend) Option {
	return func(g *Gateway) {
		g.backend = b
	}
}

// WithBackendURL points the default ComfyUI client at url.
func WithBackendURL(url string) Option {
	return func(g *Gateway) {
		g.backendURL = url
	}
}

// WithInputDir enables file parameters, materialized into dir.
func WithInputDir(dir string) Option {
	return func(g *Gateway) {
		g.inputDir = dir
	}
}

// WithCacheFloor sets the lowest id given to merged cache nodes.
func WithCacheFloor(floor int) Option {
	return func(g *Gateway) {
		g.floor = floor
	}
}

// WithTimeout bounds a single execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithCorrelatorOptions forwards options to the execution correlator.
func WithCorrelatorOptions(opts ...correlator.Option) Option {
	return func(g *Gateway) {
		g.corrOpts = append(g.corrOpts, opts...)
	}
}

// WithMetrics records executions, listener restarts and template counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithLogger sets a custom structured logger for the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New loads the templates and prepares the correlator. Call Start before executing.
// By default templates are read from JSON files under workflowsDir. If
// WithTemplateStore is provided, workflowsDir can be empty.
func New(ctx context.Context, workflowsDir string, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		backendURL: DefaultBackendURL,
		floor:      executor.DefaultCacheFloor,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.persist == nil {
		if workflowsDir == "" {
			return nil, fmt.Errorf("workflowsDir is required when no custom template store is provided")
		}
		abs, err := filepath.Abs(workflowsDir)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		g.persist = file.New(abs, file.WithLogger(g.logger))
	}
	if c, ok := g.persist.(io.Closer); ok {
		g.closers = append(g.closers, c)
	}

	if g.backend == nil {
		client, err := comfy.New(g.backendURL, comfy.WithLogger(g.logger))
		if err != nil {
			g.closeAll()
			return nil, err
		}
		g.backend = client
	}

	storeOpts := []workflow.Option{workflow.WithLogger(g.logger)}
	if g.locker != nil {
		storeOpts = append(storeOpts, workflow.WithLocker(g.locker))
	}
	if g.metrics != nil {
		storeOpts = append(storeOpts, workflow.WithMetrics(g.metrics))
	}
	store, err := workflow.NewStore(ctx, g.persist, storeOpts...)
	if err != nil {
		g.closeAll()
		return nil, err
	}
	g.store = store

	corrOpts := []correlator.Option{correlator.WithLogger(g.logger)}
	if g.metrics != nil {
		corrOpts = append(corrOpts, correlator.WithMetrics(g.metrics))
	}
	g.correlator = correlator.New(g.backend, append(corrOpts, g.corrOpts...)...)

	execOpts := []executor.Option{
		executor.WithLogger(g.logger),
		executor.WithCacheFloor(g.floor),
		executor.WithTimeout(g.timeout),
	}
	if g.inputDir != "" {
		execOpts = append(execOpts, executor.WithMaterializer(
			executor.NewMaterializer(g.inputDir, executor.WithMaterializerLogger(g.logger)),
		))
	}
	if g.metrics != nil {
		execOpts = append(execOpts, executor.WithMetrics(g.metrics))
	}
	g.executor = executor.New(g.store, g.correlator, execOpts...)

	return g, nil
}

// Start connects the correlator to the backend event stream.
func (g *Gateway) Start(ctx context.Context) error {
	return g.correlator.Start(ctx)
}

// Execute runs the named template with params and returns its output artifacts.
func (g *Gateway) Execute(ctx context.Context, name string, params map[string]any) (executor.Result, error) {
	return g.executor.Execute(ctx, name, params)
}

// Materialize builds the request graph for name without submitting it.
func (g *Gateway) Materialize(ctx context.Context, name string, params map[string]any) (domain.Graph, error) {
	return g.executor.Materialize(ctx, name, params)
}

// Watch hot-reloads templates edited outside the gateway.
// Returns workflow.ErrNotWatchable if the template store cannot notify.
func (g *Gateway) Watch(ctx context.Context) (<-chan struct{}, error) {
	return g.store.Watch(ctx)
}

// Healthy reports whether executions can currently complete.
func (g *Gateway) Healthy() error {
	if err := g.correlator.Err(); err != nil {
		return err
	}
	if !g.correlator.Connected() {
		return ErrBackendDisconnected
	}
	return nil
}

// Store returns the template collection.
func (g *Gateway) Store() *workflow.Store {
	return g.store
}

// Executor returns the executor used by Execute.
func (g *Gateway) Executor() *executor.Executor {
	return g.executor
}

// Correlator returns the execution correlator.
func (g *Gateway) Correlator() *correlator.Correlator {
	return g.correlator
}

// Close stops the correlator, failing pending executions, and releases the template store.
func (g *Gateway) Close() error {
	err := g.correlator.Close()
	return errors.Join(err, g.closeAll())
}

func (g *Gateway) closeAll() error {
	var errs []error
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}
