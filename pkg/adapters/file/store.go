package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/nodegate/internal/logging"
	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/fsnotify/fsnotify"
)

const ext = ".json"

// Store implements ports.TemplateStore using the local filesystem.
// Every template is one "<name>.json" file in BasePath.
type Store struct {
	BasePath string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the watcher.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to "workflows".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = "workflows"
	}
	s := &Store{BasePath: basePath, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(name string) string {
	return filepath.Join(s.BasePath, name+ext)
}

// Save writes the template atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure workflows directory: %w", err)
	}

	destPath := s.path(name)

	// same directory, so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(s.BasePath, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// cannot rename an open file on Windows
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing template file for overwrite: %w", err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to template: %w", err)
	}
	return nil
}

// Load reads the template file.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("template name cannot be empty")
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return data, nil
}

// Delete removes the template file. A missing file is fine.
func (s *Store) Delete(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete template file: %w", err)
	}
	return nil
}

// List returns the names of all "*.json" files, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if name, ok := templateName(entry.Name()); ok && !entry.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Watch signals whenever a template file is created, written, removed or renamed.
// Bursts of events are coalesced into a single pending signal.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure workflows directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(s.BasePath); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", s.BasePath, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !relevant(event) {
					continue
				}
				s.logger.Debug("Template change detected", "path", event.Name, "op", event.Op.String())
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("File watcher error", "err", err)
			}
		}
	}()
	return ch, nil
}

func relevant(event fsnotify.Event) bool {
	if _, ok := templateName(filepath.Base(event.Name)); !ok {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// templateName strips the extension. Dotfiles, which include in-flight saves, are not templates.
func templateName(file string) (string, bool) {
	if filepath.Ext(file) != ext || strings.HasPrefix(file, ".") {
		return "", false
	}
	return strings.TrimSuffix(file, ext), true
}
