package driven

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// ChunkStore persists chunk text and metadata. The vector index holds
// only vectors plus search metadata; full chunk content lives here.
type ChunkStore interface {
	// SaveChunks stores chunks, overwriting on ID conflict.
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error

	// GetChunk retrieves a chunk by ID. Returns domain.ErrNotFound when
	// absent.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// ListByTab returns a tab's chunks ordered by position.
	ListByTab(ctx context.Context, tabID int) ([]domain.Chunk, error)

	// DeleteByTab removes all chunks owned by a tab.
	DeleteByTab(ctx context.Context, tabID int) error

	// Count returns the total number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Clear removes every chunk.
	Clear(ctx context.Context) error
}

// TabStateStore persists per-tab indexing bookkeeping.
type TabStateStore interface {
	// Save stores or updates a tab's state.
	Save(ctx context.Context, state domain.TabDocumentState) error

	// Get retrieves a tab's state. Returns domain.ErrNotFound when the
	// tab has never been seen.
	Get(ctx context.Context, tabID int) (*domain.TabDocumentState, error)

	// Delete drops a tab's state.
	Delete(ctx context.Context, tabID int) error

	// List returns all tracked tab states.
	List(ctx context.Context) ([]domain.TabDocumentState, error)

	// Clear drops all tab state.
	Clear(ctx context.Context) error
}

// ModelConfigStore persists the active model config as a single durable
// record, so a restart can detect dimension changes before serving.
type ModelConfigStore interface {
	// Save records cfg as the active model.
	Save(ctx context.Context, cfg domain.ModelConfig) error

	// Get returns the recorded config, or domain.ErrNotFound when no
	// model has ever been initialised.
	Get(ctx context.Context) (*domain.ModelConfig, error)
}

// ModelCacheMetaStore persists model-binary cache metadata. The cache
// adapter owns the files; this store owns the bookkeeping rows.
type ModelCacheMetaStore interface {
	// Save stores or updates an entry keyed by model URL.
	Save(ctx context.Context, entry domain.CacheEntry) error

	// Get retrieves an entry by model URL. Returns domain.ErrNotFound
	// when absent.
	Get(ctx context.Context, modelURL string) (*domain.CacheEntry, error)

	// Delete removes an entry.
	Delete(ctx context.Context, modelURL string) error

	// List returns all entries ordered oldest-first by FetchedAt.
	List(ctx context.Context) ([]domain.CacheEntry, error)
}

// ConfigStore provides persistent key-value configuration storage.
type ConfigStore interface {
	// Get retrieves a configuration value by key.
	Get(key string) (any, bool)

	// GetString retrieves a string configuration value.
	GetString(key string) string

	// GetInt retrieves an integer configuration value.
	GetInt(key string) int

	// Set stores a configuration value.
	Set(key string, value any) error

	// Save persists the configuration.
	Save() error
}
