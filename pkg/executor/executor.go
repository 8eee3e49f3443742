package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/observability"
)

// DefaultCacheFloor is the id base for merged cache nodes.
const DefaultCacheFloor = 1000

// ErrTimeout is returned when an execution does not finish within the configured timeout.
var ErrTimeout = errors.New("execution timed out")

// Templates is the read side of the workflow store used by the executor.
type Templates interface {
	Get(name string) (domain.Graph, error)
	CachedNodesExcept(name string) []domain.CachedNode
}

// Runner submits a graph and returns base64 artifacts per produced node id.
type Runner interface {
	Run(ctx context.Context, graph domain.Graph) (map[string][]string, error)
}

// Result maps output tag names to one artifact (string) or several ([]string).
type Result map[string]any

// Executor turns a template and a request payload into a backend run.
type Executor struct {
	templates    Templates
	runner       Runner
	materializer *Materializer
	floor        int
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaterializer enables file parameters. Without one they are logged and skipped.
func WithMaterializer(m *Materializer) Option {
	return func(e *Executor) {
		e.materializer = m
	}
}

// WithCacheFloor sets the id base for merged cache nodes.
func WithCacheFloor(floor int) Option {
	return func(e *Executor) {
		e.floor = floor
	}
}

// WithTimeout bounds every run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithLogger configures a logger for the Executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records execution outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// New creates an Executor.
func New(templates Templates, runner Runner, opts ...Option) *Executor {
	e := &Executor{
		templates: templates,
		runner:    runner,
		floor:     DefaultCacheFloor,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the named template with params and maps the produced artifacts to
// output tag names.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) (Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, name, params)
	e.metrics.ObserveExecution(name, status(err), time.Since(start))
	if err != nil {
		e.logger.Warn("Execution failed", "workflow", name, "err", err)
		return nil, err
	}
	e.logger.Info("Execution finished", "workflow", name, "outputs", len(result), "elapsed", time.Since(start))
	return result, nil
}

func (e *Executor) execute(ctx context.Context, name string, params map[string]any) (Result, error) {
	graph, err := e.Materialize(ctx, name, params)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outputs, err := e.runner.Run(runCtx, graph)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, e.timeout)
		}
		return nil, err
	}
	return mapOutputs(graph, outputs), nil
}

// Materialize builds the graph that Execute would submit, without running it.
func (e *Executor) Materialize(ctx context.Context, name string, params map[string]any) (domain.Graph, error) {
	graph, err := e.templates.Get(name)
	if err != nil {
		return domain.Graph{}, err
	}

	e.bypass(&graph, name, domain.TagBypass)
	if merged := graph.Merge(e.templates.CachedNodesExcept(name), e.floor); len(merged) > 0 {
		e.logger.Debug("Merged cache nodes", "workflow", name, "ids", merged)
	}

	for _, tag := range sortedKeys(params) {
		switch payload := params[tag].(type) {
		case bool:
			if !payload {
				e.bypass(&graph, name, domain.SigilInput+tag)
				e.bypass(&graph, name, domain.SigilOutput+tag)
			}
		case map[string]any:
			if err := e.applyInputs(ctx, &graph, tag, payload); err != nil {
				return domain.Graph{}, err
			}
		default:
			return domain.Graph{}, &domain.ConfigurationError{
				Tag:    tag,
				Reason: fmt.Sprintf("payload must be an object or false, got %s", domain.TypeName(payload)),
			}
		}
	}
	return graph, nil
}

func (e *Executor) applyInputs(ctx context.Context, graph *domain.Graph, tag string, inputs map[string]any) error {
	for _, input := range sortedKeys(inputs) {
		value := inputs[input]

		fp, isFile, err := DecodeFileParam(value)
		if isFile {
			filename, err := e.materialize(ctx, fp, err)
			if err != nil {
				e.metrics.MaterializationFailed()
				e.logger.Warn("Skipping file parameter", "tag", tag, "input", input, "err", err)
				continue
			}
			value = filename
		}

		if err := graph.SetTaggedInput(tag, input, value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) materialize(ctx context.Context, fp FileParam, decodeErr error) (string, error) {
	if decodeErr != nil {
		return "", decodeErr
	}
	if e.materializer == nil {
		return "", errors.New("file parameters are not enabled")
	}
	return e.materializer.Materialize(ctx, fp)
}

func (e *Executor) bypass(graph *domain.Graph, workflow, token string) {
	report := graph.Bypass(token)
	if len(report.Removed) == 0 {
		return
	}
	e.logger.Debug("Bypassed nodes", "workflow", workflow, "tag", token, "removed", report.Removed)
	for _, d := range report.Dangling {
		e.logger.Warn("Bypass left a dangling edge",
			"workflow", workflow, "tag", token, "node", d.NodeID, "input", d.Input, "removed", d.Removed)
	}
	e.metrics.DanglingEdges(workflow, len(report.Dangling))
}

// mapOutputs assigns the artifacts of each produced node to the output tags of that node.
func mapOutputs(graph domain.Graph, outputs map[string][]string) Result {
	result := make(Result)
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		artifacts := outputs[id]
		for _, tag := range graph.TagsOf(id) {
			if tag.Kind != domain.TagOutput {
				continue
			}
			if len(artifacts) == 1 {
				result[tag.Name] = artifacts[0]
			} else {
				result[tag.Name] = append([]string{}, artifacts...)
			}
		}
	}
	return result
}

func status(err error) string {
	switch {
	case err == nil:
		return observability.StatusSuccess
	case errors.Is(err, domain.ErrTemplateNotFound):
		return observability.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration):
		return observability.StatusConfigError
	case errors.Is(err, ErrTimeout):
		return observability.StatusTimeout
	}
	return observability.StatusBackendErr
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
