package ports

import "context"

// TemplateStore persists raw workflow templates (JSON graph documents) by name.
// Parsing and validation belong to the caller so a malformed document can be skipped
// without hiding the rest of the collection.
type TemplateStore interface {
	// Save writes the document for name, replacing any previous version.
	Save(ctx context.Context, name string, data []byte) error

	// Load returns the document for name.
	// Returns domain.ErrTemplateNotFound if it does not exist.
	Load(ctx context.Context, name string) ([]byte, error)

	// Delete removes the document. Deleting a missing template is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all stored templates.
	List(ctx context.Context) ([]string, error)
}

// Watchable defines an interface for stores that can notify about backend changes.
// This is used for hot-reload of templates edited outside of nodegate.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying templates change.
	// It abstracts away the specific event details, signaling only that a reload is required.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
