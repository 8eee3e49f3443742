package correlator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/observability"
	"github.com/aretw0/nodegate/pkg/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned to every waiter when the correlator shuts down.
	ErrClosed = errors.New("correlator closed")

	// ErrListenerStopped is returned once the event listener gave up reconnecting.
	// It is terminal: later submissions fail with it too.
	ErrListenerStopped = errors.New("event listener stopped")

	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("correlator not started")

	// ErrUnknownPrompt is returned by Await for an id that was never submitted here
	// or was already awaited.
	ErrUnknownPrompt = errors.New("unknown prompt id")
)

// request is one submitted prompt waiting for its outcome.
type request struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newRequest() *request {
	return &request{done: make(chan struct{})}
}

// settle fulfils the request; only the first outcome counts.
func (r *request) settle(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Correlator submits graphs to the backend and matches the asynchronous completion
// events to the callers waiting for them. It owns one client identity and one
// supervised event listener shared by all requests.
type Correlator struct {
	backend  ports.Backend
	clientID string
	logger   *slog.Logger
	metrics  *observability.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxElapsed     time.Duration
	reconcileEvery time.Duration
	fetchLimit     int
	ringSize       int

	mu        sync.Mutex
	pending   map[string]*request
	early     *outcomeRing
	started   bool
	closed    bool
	connected bool
	stopErr   error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures the Correlator.
type Option func(*Correlator)

// WithLogger configures a logger for the Correlator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// WithMetrics records pending requests and listener restarts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Correlator) {
		c.metrics = m
	}
}

// WithClientID overrides the generated client identity.
func WithClientID(id string) Option {
	return func(c *Correlator) {
		c.clientID = id
	}
}

// WithBackoff configures listener reconnection. A zero maxElapsed retries forever.
func WithBackoff(initial, maxInterval, maxElapsed time.Duration) Option {
	return func(c *Correlator) {
		c.initialBackoff = initial
		c.maxBackoff = maxInterval
		c.maxElapsed = maxElapsed
	}
}

// WithReconcileInterval sets how often pending ids are checked against history while
// the stream is up. Zero disables the periodic check; reconnects always reconcile.
func WithReconcileInterval(d time.Duration) Option {
	return func(c *Correlator) {
		c.reconcileEvery = d
	}
}

// WithFetchConcurrency bounds parallel artifact downloads in Fetch.
func WithFetchConcurrency(n int) Option {
	return func(c *Correlator) {
		c.fetchLimit = n
	}
}

// WithEarlyCompletions sets how many unclaimed outcomes are remembered.
func WithEarlyCompletions(n int) Option {
	return func(c *Correlator) {
		c.ringSize = n
	}
}

// New creates a Correlator for backend. Call Start before submitting.
func New(backend ports.Backend, opts ...Option) *Correlator {
	c := &Correlator{
		backend:        backend,
		clientID:       uuid.NewString(),
		logger:         logging.NewNop(),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		maxElapsed:     5 * time.Minute,
		reconcileEvery: 30 * time.Second,
		fetchLimit:     8,
		ringSize:       256,
		pending:        make(map[string]*request),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.early = newOutcomeRing(c.ringSize)
	return c
}

// ClientID is the identity the backend routes this correlator's events to.
func (c *Correlator) ClientID() string {
	return c.clientID
}

// Connected reports whether the event stream is currently up.
func (c *Correlator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pending is the number of registered requests not yet awaited.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Err returns the terminal listener failure, if any.
func (c *Correlator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}

// Start spawns the supervised listener. It returns immediately; the first
// connection is attempted in the background. Calling Start twice is a no-op.
func (c *Correlator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.supervise(ctx)
	}()

	if c.reconcileEvery > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconcileLoop(ctx)
		}()
	}

	c.logger.Info("Correlator started", "client_id", c.clientID)
	return nil
}

// Close stops the listener, waits for it and fails every pending request with ErrClosed.
func (c *Correlator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	for _, req := range c.pending {
		req.settle(ErrClosed)
	}
	c.mu.Unlock()

	c.logger.Info("Correlator closed")
	return nil
}

// Submit queues graph on the backend and registers a pending completion for the
// returned id. Backend failures are wrapped in *domain.BackendError.
func (c *Correlator) Submit(ctx context.Context, graph domain.Graph) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}

	id, err := c.backend.Queue(ctx, c.clientID, graph)
	if err != nil {
		return "", &domain.BackendError{Op: "queue", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := newRequest()
	switch {
	case c.closed:
		req.settle(ErrClosed)
	case c.stopErr != nil:
		req.settle(c.stopErr)
	default:
		if found, outcome := c.early.take(id); found {
			req.settle(outcome)
		}
	}
	c.pending[id] = req
	c.metrics.SetPending(len(c.pending))

	c.logger.Debug("Prompt submitted", "prompt_id", id)
	return id, nil
}

func (c *Correlator) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.stopErr != nil:
		return c.stopErr
	case !c.started:
		return ErrNotStarted
	}
	return nil
}

// Await blocks until id completes, fails, the listener stops for good, or ctx ends.
// The pending entry is removed on every path, so an id can be awaited once.
func (c *Correlator) Await(ctx context.Context, id string) error {
	c.mu.Lock()
	req, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.metrics.SetPending(len(c.pending))
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-req.done:
		return req.err
	}
}

// Fetch reads the history of id and downloads every artifact, base64 encoded.
// Artifacts are fetched concurrently but keep their per-node order.
func (c *Correlator) Fetch(ctx context.Context, id string) (map[string][]string, error) {
	entry, found, err := c.backend.History(ctx, id)
	if err != nil {
		return nil, &domain.BackendError{Op: "history", PromptID: id, Err: err}
	}
	if !found {
		return nil, &domain.BackendError{Op: "history", PromptID: id, Err: errors.New("no history entry")}
	}

	results := make(map[string][]string, len(entry.Outputs))
	nodes := make([]string, 0, len(entry.Outputs))
	for node, out := range entry.Outputs {
		results[node] = make([]string, len(out.Images))
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	g, gctx := errgroup.WithContext(ctx)
	if c.fetchLimit > 0 {
		g.SetLimit(c.fetchLimit)
	}
	for _, node := range nodes {
		slots := results[node]
		for i, ref := range entry.Outputs[node].Images {
			g.Go(func() error {
				data, err := c.backend.View(gctx, ref)
				if err != nil {
					return &domain.BackendError{Op: "view " + ref.Filename, PromptID: id, Err: err}
				}
				slots[i] = base64.StdEncoding.EncodeToString(data)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run submits graph, waits for it and returns its artifacts by node id.
func (c *Correlator) Run(ctx context.Context, graph domain.Graph) (map[string][]string, error) {
	id, err := c.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	if err := c.Await(ctx, id); err != nil {
		return nil, err
	}
	return c.Fetch(ctx, id)
}

// resolve delivers an outcome to the waiter of id, or parks it in the ring.
func (c *Correlator) resolve(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req, ok := c.pending[id]; ok {
		req.settle(err)
		return
	}
	c.early.add(id, err)
}

// stop makes the listener failure terminal.
func (c *Correlator) stop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopErr = err
	for _, req := range c.pending {
		req.settle(err)
	}
	c.logger.Error("Event listener stopped", "err", err, "pending", len(c.pending))
}

func (c *Correlator) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Correlator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = c.maxElapsed
	b.Reset()
	return b
}

// supervise keeps one event stream open, reconnecting with exponential backoff.
// The backoff restarts when a connected session drops, so only continuous failure
// for longer than maxElapsed is terminal.
func (c *Correlator) supervise(ctx context.Context) {
	bo := c.newBackOff()
	for {
		connected, err := c.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.stop(fmt.Errorf("%w: %v", ErrListenerStopped, err))
			return
		}
		c.logger.Warn("Event stream lost, reconnecting", "err", err, "delay", wait)
		c.metrics.ListenerRestarted()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listen runs one connection until the stream ends. connected reports whether
// the stream was opened at all.
func (c *Correlator) listen(ctx context.Context) (connected bool, err error) {
	stream, err := c.backend.Events(ctx, c.clientID)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("Event stream connected", "client_id", c.clientID)

	// outcomes that happened while disconnected only show up in history
	c.reconcile(ctx)

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return true, err
		}
		c.dispatch(ev)
	}
}

func (c *Correlator) dispatch(ev domain.Event) {
	if id, ok := ev.Completed(); ok {
		c.logger.Debug("Prompt completed", "prompt_id", id)
		c.resolve(id, nil)
		return
	}
	if id, msg, ok := ev.Failed(); ok {
		c.logger.Warn("Prompt failed", "prompt_id", id, "err", msg)
		c.resolve(id, &domain.BackendError{Op: "execute", PromptID: id, Err: errors.New(msg)})
	}
}

func (c *Correlator) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Connected() {
				c.reconcile(ctx)
			}
		}
	}
}

// reconcile settles pending ids whose history shows they already finished.
func (c *Correlator) reconcile(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		entry, found, err := c.backend.History(ctx, id)
		if err != nil {
			c.logger.Debug("Reconcile lookup failed", "prompt_id", id, "err", err)
			continue
		}
		if !found || !entry.Done() {
			continue
		}
		if entry.Status.StatusStr == "error" {
			c.resolve(id, &domain.BackendError{Op: "execute", PromptID: id, Err: errors.New("execution failed")})
			continue
		}
		c.logger.Info("Prompt reconciled from history", "prompt_id", id)
		c.resolve(id, nil)
	}
}
