package driven

import (
	"context"
	"time"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// VectorIndex provides approximate nearest-neighbour similarity search.
// Any HNSW-family or brute-force implementation satisfying this interface
// is substitutable; small-scale tests use a flat scan.
//
// Implementations are not required to be safe for concurrent structural
// mutation internally, but must serialise all mutations behind a single
// logical queue so queries never observe a partially applied change.
type VectorIndex interface {
	// Insert adds a vector for the given chunk ID. Inserting an existing
	// ID overwrites in place rather than appending, so re-indexing a
	// changed page cannot leave duplicate stale entries.
	Insert(ctx context.Context, chunkID string, vector []float32, meta domain.ChunkMeta) error

	// Remove deletes a vector from the index. Removing an absent ID is
	// a no-op.
	Remove(ctx context.Context, chunkID string) error

	// RemoveWhere deletes every entry whose metadata matches the
	// predicate. All matching entries are removed before the call
	// returns; queries never see a partial removal. Returns the number
	// of entries removed.
	RemoveWhere(ctx context.Context, match func(domain.ChunkMeta) bool) (int, error)

	// Query returns the k most similar entries ordered by descending
	// cosine similarity. Equal scores order by most-recent insertion.
	Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error)

	// SweepOlderThan removes entries inserted before cutoff, independent
	// of capacity pressure. Returns the number removed.
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Rebuild drops all entries and recreates the index structure for a
	// new dimension. Used when the embedding model's dimension changes.
	Rebuild(ctx context.Context, dimension int) error

	// Size returns the number of live entries.
	Size() int

	// Persist writes the index contents to durable storage.
	Persist(ctx context.Context) error

	// Load restores the index from durable storage. A corrupt snapshot
	// is recovered by starting empty, never by failing the host.
	Load(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// VectorHit is a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is the cosine similarity score (0-1 for normalised
	// vectors).
	Similarity float64

	// Meta is the metadata stored beside the vector.
	Meta domain.ChunkMeta
}
