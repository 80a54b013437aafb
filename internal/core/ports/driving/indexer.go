package driving

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// Indexer consumes tab content and lifecycle events and keeps the vector
// index in step with the set of open tabs.
type Indexer interface {
	// HandleContent runs one indexing pass for a tab's current content.
	// Unchanged content (by hash) is a no-op. At most one pass runs per
	// tab at a time; passes for different tabs may run concurrently.
	HandleContent(ctx context.Context, content domain.TabContent) error

	// HandleTabRemoved drops a tab's vectors, chunks and bookkeeping.
	HandleTabRemoved(ctx context.Context, tabID int) error
}

// IndexerAdmin exposes introspection and administrative reset operations
// to the tool layer and the storage-management UI.
type IndexerAdmin interface {
	// Stats returns a read-only snapshot of indexing state.
	Stats(ctx context.Context) (domain.IndexStats, error)

	// ListTabs returns bookkeeping state for every tracked tab.
	ListTabs(ctx context.Context) ([]domain.TabDocumentState, error)

	// TabChunks returns a tab's stored chunks ordered by position.
	TabChunks(ctx context.Context, tabID int) ([]domain.Chunk, error)

	// ClearAll removes every vector, chunk and tab state. Tabs are
	// re-indexed lazily on their next content event.
	ClearAll(ctx context.Context) error
}

// EngineControl exposes embedding-engine lifecycle operations.
type EngineControl interface {
	// Status returns the current lifecycle snapshot.
	Status() domain.EngineStatus

	// Initialize loads the configured model. Safe to call concurrently;
	// a second caller waits for the in-flight initialization to reach a
	// terminal state.
	Initialize(ctx context.Context, cfg domain.ModelConfig) error

	// SwitchModel swaps the active model. A no-op when cfg is identical
	// to the current config; otherwise all stored vectors are
	// invalidated before reinitialization.
	SwitchModel(ctx context.Context, cfg domain.ModelConfig) error
}
