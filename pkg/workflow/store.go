package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/observability"
	"github.com/aretw0/nodegate/pkg/ports"
)

// lockKey is the distributed lock shared by every replica mutating the collection.
const lockKey = "workflows"

// ErrNotWatchable is returned by Watch when the persistence adapter cannot signal changes.
var ErrNotWatchable = errors.New("template store does not support watching")

// Info describes the call surface of one template.
type Info struct {
	Name    string                       `json:"name"`
	Inputs  map[string]map[string]string `json:"inputs"`
	Outputs []string                     `json:"outputs"`
}

// Store is the in-memory view of the template collection, backed by a persistence port.
// Reads are served from memory; every mutation persists first, then swaps the in-memory
// copy and recomputes the cache index inside one critical section.
type Store struct {
	persist ports.TemplateStore

	writeMu sync.Mutex // serializes mutations and reloads
	mu      sync.RWMutex
	graphs  map[string]domain.Graph
	cached  []domain.CachedNode

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Store.
type Option func(*Store)

// WithLocker enables distributed locking around mutations.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *Store) {
		s.locker = locker
	}
}

// WithLockTTL overrides the distributed lock expiry (default 30s).
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics publishes the template count.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store and loads every template the persistence port holds.
// Malformed templates are logged and skipped.
func NewStore(ctx context.Context, persist ports.TemplateStore, opts ...Option) (*Store, error) {
	s := &Store{
		persist: persist,
		graphs:  make(map[string]domain.Graph),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidateName rejects names that cannot be used as a storage key.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is empty", domain.ErrInvalidName)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", domain.ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", domain.ErrInvalidName, name)
	}
	return nil
}

// Reload re-reads the whole collection from the persistence port.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	graphs, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.graphs = graphs
	s.recompute()
	s.mu.Unlock()

	s.logger.Debug("Templates loaded", "count", len(graphs))
	return nil
}

func (s *Store) loadAll(ctx context.Context) (map[string]domain.Graph, error) {
	names, err := s.persist.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	graphs := make(map[string]domain.Graph, len(names))
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			s.logger.Warn("Skipping template", "name", name, "err", err)
			continue
		}
		data, err := s.persist.Load(ctx, name)
		if err != nil {
			s.logger.Warn("Skipping unreadable template", "name", name, "err", err)
			continue
		}
		g, err := domain.ParseGraph(data)
		if err != nil {
			s.logger.Warn("Skipping malformed template", "name", name, "err", err)
			continue
		}
		graphs[name] = g
	}
	return graphs, nil
}

// recompute rebuilds the cache index. The caller holds s.mu.
func (s *Store) recompute() {
	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	sort.Strings(names)

	var cached []domain.CachedNode
	for _, name := range names {
		for _, tn := range s.graphs[name].TaggedNodes(domain.TagCache) {
			cached = append(cached, domain.CachedNode{Owner: name, Node: tn.Node.Clone()})
		}
	}
	s.cached = cached
	s.metrics.SetTemplates(len(s.graphs))
}

// Save persists graph under name and makes it visible to readers.
func (s *Store) Save(ctx context.Context, name string, graph domain.Graph) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	stored := graph.Clone()

	return s.mutate(ctx, func(ctx context.Context) error {
		if err := s.persist.Save(ctx, name, data); err != nil {
			return fmt.Errorf("failed to save template %q: %w", name, err)
		}
		s.mu.Lock()
		s.graphs[name] = stored
		s.recompute()
		s.mu.Unlock()

		s.logger.Info("Template saved", "name", name, "nodes", stored.Len())
		return nil
	})
}

// Delete removes a template. Deleting an unknown template succeeds.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.mutate(ctx, func(ctx context.Context) error {
		if err := s.persist.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete template %q: %w", name, err)
		}
		s.mu.Lock()
		_, existed := s.graphs[name]
		delete(s.graphs, name)
		s.recompute()
		s.mu.Unlock()

		if existed {
			s.logger.Info("Template deleted", "name", name)
		}
		return nil
	})
}

// mutate runs fn holding the process lock and, when configured, the distributed lock.
func (s *Store) mutate(ctx context.Context, fn func(context.Context) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				s.logger.Warn("Failed to release distributed lock (will expire via TTL)", "err", err)
			}
		}()
	}

	return fn(ctx)
}

// List returns the template names in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a private deep copy of the template; mutating it never affects the store.
func (s *Store) Get(name string) (domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[name]
	if !ok {
		return domain.Graph{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
	}
	return g.Clone(), nil
}

// Describe returns the inputs and outputs a template exposes.
func (s *Store) Describe(name string) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
	}
	return describe(name, g), nil
}

// Infos describes every template, sorted by name.
func (s *Store) Infos() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.graphs))
	for name, g := range s.graphs {
		infos = append(infos, describe(name, g))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func describe(name string, g domain.Graph) Info {
	return Info{Name: name, Inputs: g.TaggedInputs(), Outputs: g.TaggedOutputs()}
}

// CachedNodes returns copies of every "!cache" node, ordered by owner then node id.
func (s *Store) CachedNodes() []domain.CachedNode {
	return s.CachedNodesExcept("")
}

// CachedNodesExcept is CachedNodes without the nodes owned by name.
func (s *Store) CachedNodesExcept(name string) []domain.CachedNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CachedNode, 0, len(s.cached))
	for _, c := range s.cached {
		if name != "" && c.Owner == name {
			continue
		}
		out = append(out, domain.CachedNode{Owner: c.Owner, Node: c.Node.Clone()})
	}
	return out
}

// Watch reloads the collection whenever the persistence adapter signals a change.
// The returned channel is signaled after every successful reload and closed when
// the adapter stops watching or ctx ends.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, ok := s.persist.(ports.Watchable)
	if !ok {
		return nil, ErrNotWatchable
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}

	reloaded := make(chan struct{}, 1)
	go func() {
		defer close(reloaded)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("Template reload failed", "err", err)
					continue
				}
				s.logger.Info("Templates reloaded", "count", len(s.List()))
				select {
				case reloaded <- struct{}{}:
				default:
				}
			}
		}
	}()
	return reloaded, nil
}
