package domain

import "time"

// CacheEntry describes one cached model binary on disk.
type CacheEntry struct {
	// ModelURL is the download URL, used as the cache key.
	ModelURL string

	// Path is the file location under the data directory.
	Path string

	// Size is the binary size in bytes.
	Size int64

	// Version is the model version string the binary was fetched for.
	Version string

	// FetchedAt is when the entry was created or last confirmed fresh.
	// Cache hits refresh it; expiry and eviction are oldest-first on it.
	FetchedAt time.Time
}
