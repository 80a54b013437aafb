// Package modelcache manages downloaded model binaries on disk: fetch on
// demand, cap total bytes, evict oldest-first, and expire stale binaries.
package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
)

// Ensure Cache implements the interface.
var _ driven.ModelCache = (*Cache)(nil)

// Default configuration values.
const (
	DefaultMaxBytes  = 2 << 30 // 2 GiB
	DefaultRetention = 30 * 24 * time.Hour
	DefaultTimeout   = 10 * time.Minute
)

// Config holds configuration for the model cache.
type Config struct {
	// Dir is the directory holding cached binaries.
	Dir string

	// MaxBytes caps the total size of cached binaries (default: 2 GiB).
	MaxBytes int64

	// Retention is how long an unused binary stays cached (default: 30d).
	Retention time.Duration

	// Timeout bounds a single download (default: 10m).
	Timeout time.Duration
}

// Cache is a disk-backed model binary cache. Metadata rows live in a
// ModelCacheMetaStore; the files themselves live under Dir.
type Cache struct {
	dir       string
	meta      driven.ModelCacheMetaStore
	client    *http.Client
	maxBytes  int64
	retention time.Duration

	// mu serialises downloads and evictions so two concurrent Ensure
	// calls cannot double-download or race capacity accounting.
	mu sync.Mutex
}

// New creates a model cache rooted at cfg.Dir.
func New(cfg Config, meta driven.ModelCacheMetaStore) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: cache directory required", domain.ErrInvalidInput)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{
		dir:       cfg.Dir,
		meta:      meta,
		client:    &http.Client{Timeout: cfg.Timeout},
		maxBytes:  cfg.MaxBytes,
		retention: cfg.Retention,
	}, nil
}

// entryPath maps a model URL to its on-disk file.
func (c *Cache) entryPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".bin")
}

// Ensure returns a local path for the model at url, downloading when absent
// or when the cached version no longer matches. A cache hit refreshes the
// entry's timestamp so hot models never age out.
func (c *Cache) Ensure(ctx context.Context, url, version string, progress func(done, total int64)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.entryPath(url)
	if entry, err := c.meta.Get(ctx, url); err == nil && entry.Version == version {
		if _, statErr := os.Stat(path); statErr == nil {
			entry.FetchedAt = time.Now()
			if err := c.meta.Save(ctx, *entry); err != nil {
				logger.Warn("modelcache: refreshing entry for %s: %v", url, err)
			}
			logger.Debug("modelcache: cache hit for %s", url)
			return path, nil
		}
		// Metadata without a file: treat as a miss.
		logger.Warn("modelcache: missing file for cached entry %s, re-downloading", url)
	}

	size, err := c.download(ctx, url, path, progress)
	if err != nil {
		os.Remove(path)
		return "", err
	}

	if err := c.reserve(ctx, url, size); err != nil {
		os.Remove(path)
		return "", err
	}

	if err := c.meta.Save(ctx, domain.CacheEntry{
		ModelURL:  url,
		Path:      path,
		Size:      size,
		Version:   version,
		FetchedAt: time.Now(),
	}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("recording cache entry: %w", err)
	}
	logger.Info("modelcache: downloaded %s (%d bytes)", url, size)
	return path, nil
}

// download fetches url into path, reporting progress as bytes arrive.
func (c *Cache) download(ctx context.Context, url, path string, progress func(done, total int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	reader := io.Reader(resp.Body)
	if progress != nil {
		reader = &progressReader{
			r:        resp.Body,
			total:    resp.ContentLength,
			progress: progress,
		}
	}

	size, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("placing downloaded file: %w", err)
	}
	return size, nil
}

// reserve makes room for a new entry of the given size, evicting the
// oldest entries first. A single binary larger than the whole cap is
// rejected with ErrStorageQuota.
func (c *Cache) reserve(ctx context.Context, newURL string, size int64) error {
	if size > c.maxBytes {
		return fmt.Errorf("%w: model is %d bytes, cache cap is %d", domain.ErrStorageQuota, size, c.maxBytes)
	}

	entries, err := c.meta.List(ctx)
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.ModelURL != newURL {
			total += e.Size
		}
	}

	for _, e := range entries {
		if total+size <= c.maxBytes {
			break
		}
		if e.ModelURL == newURL {
			continue
		}
		if err := c.evict(ctx, e); err != nil {
			return err
		}
		total -= e.Size
	}
	if total+size > c.maxBytes {
		return fmt.Errorf("%w: cannot free %d bytes", domain.ErrStorageQuota, size)
	}
	return nil
}

func (c *Cache) evict(ctx context.Context, entry domain.CacheEntry) error {
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("evicting %s: %w", entry.ModelURL, err)
	}
	if err := c.meta.Delete(ctx, entry.ModelURL); err != nil {
		return fmt.Errorf("evicting %s: %w", entry.ModelURL, err)
	}
	logger.Info("modelcache: evicted %s (%d bytes)", entry.ModelURL, entry.Size)
	return nil
}

// Stats reports entry count and total bytes held.
func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	entries, err := c.meta.List(ctx)
	if err != nil {
		return domain.CacheStats{}, fmt.Errorf("listing cache entries: %w", err)
	}
	stats := domain.CacheStats{Entries: len(entries)}
	for _, e := range entries {
		stats.TotalBytes += e.Size
	}
	return stats, nil
}

// EvictExpired removes entries not fetched or used within the retention
// window.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.meta.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}
	cutoff := time.Now().Add(-c.retention)
	evicted := 0
	for _, e := range entries {
		if !e.FetchedAt.Before(cutoff) {
			break // oldest-first order: the rest are fresher
		}
		if err := c.evict(ctx, e); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// Clear removes every cached binary.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.meta.List(ctx)
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	for _, e := range entries {
		if err := c.evict(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// progressReader reports cumulative bytes read to a progress callback.
type progressReader struct {
	r        io.Reader
	done     int64
	total    int64
	progress func(done, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		p.progress(p.done, p.total)
	}
	return n, err
}
