// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import (
	"context"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

// InferenceRuntime is the black-box embedding kernel. It turns text into
// dense vectors for whichever model is currently loaded. The semantic
// engine is the only component that talks to it; everything above the
// engine sees cached, lifecycle-managed embeddings instead.
//
// Implementations may include:
//   - A local sidecar inference server over HTTP
//   - An in-process runtime behind cgo
//   - Test doubles producing deterministic vectors
type InferenceRuntime interface {
	// LoadModel makes the model at path the active one. A previously
	// loaded model is released first.
	LoadModel(ctx context.Context, path string, cfg domain.ModelConfig) error

	// EmbedBatch embeds texts in one call. Output order matches input
	// order. If any single text fails to tokenise the whole call fails;
	// partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length of the loaded model, or 0
	// when no model is loaded.
	Dimensions() int

	// Ping validates the runtime is reachable.
	Ping(ctx context.Context) error

	// Close releases the loaded model and any transport resources.
	Close() error
}

// ModelCache manages downloaded model binaries on disk with a byte cap
// and a retention window.
type ModelCache interface {
	// Ensure returns a local path for the model at url, downloading it
	// when absent or stale. A cache hit refreshes the entry's timestamp
	// and skips the download. The progress callback, when non-nil,
	// receives (bytesDone, bytesTotal) during a download; bytesTotal is
	// -1 when unknown.
	Ensure(ctx context.Context, url, version string, progress func(done, total int64)) (string, error)

	// Stats reports entry count and total bytes held.
	Stats(ctx context.Context) (domain.CacheStats, error)

	// EvictExpired removes entries older than the retention window.
	// Returns the number evicted.
	EvictExpired(ctx context.Context) (int, error)

	// Clear removes every cached binary.
	Clear(ctx context.Context) error
}
