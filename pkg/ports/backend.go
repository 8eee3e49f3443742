package ports

import (
	"context"

	"github.com/aretw0/nodegate/pkg/domain"
)

// Backend is the node-graph execution service.
type Backend interface {
	// Queue submits a graph for execution on behalf of clientID and returns the
	// backend-assigned prompt id.
	Queue(ctx context.Context, clientID string, graph domain.Graph) (string, error)

	// History returns the record of a prompt. The boolean is false when the backend
	// does not know the id yet (still queued or unknown).
	History(ctx context.Context, promptID string) (domain.HistoryEntry, bool, error)

	// View downloads the bytes of one produced artifact.
	View(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)

	// Events opens the lifecycle event stream for clientID.
	Events(ctx context.Context, clientID string) (EventStream, error)
}

// EventStream is one open connection to the backend event channel.
type EventStream interface {
	// Next blocks until the next event arrives. Any error ends the stream.
	Next(ctx context.Context) (domain.Event, error)
	Close() error
}
